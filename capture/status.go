package capture

// State is the session lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateStreaming
	StateStopping
	StateStopped
	StateFailed // terminal until Reset
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateStreaming:
		return "streaming"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is a state snapshot delivered to OnStatus callbacks and returned
// by Session.Status. Err is non-nil only for StateFailed.
type Status struct {
	State   State
	Variant string // active capture variant while streaming
	Device  string // active device id while streaming
	Err     error
}
