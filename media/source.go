package media

// Source identifies one physical or virtual capture device. Sources are
// produced by device enumeration and are immutable; the pipeline never
// mutates or owns them.
type Source struct {
	// ID is the opaque device identifier (e.g. a /dev path or driver ID).
	ID string
	// Name is the human-readable device label.
	Name string
	// Formats lists the frame formats the device advertises, in the order
	// the driver enumerated them.
	Formats []Format
}

func (s Source) String() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}
