package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/smartbox-capture/capture/internal/negotiate"
	"github.com/e7canasta/smartbox-capture/capture/internal/strategy"
	"github.com/e7canasta/smartbox-capture/frameconv"
	"github.com/e7canasta/smartbox-capture/framehub"
	"github.com/e7canasta/smartbox-capture/media"
	"github.com/e7canasta/smartbox-capture/telemetry"
)

const (
	// defaultSingleShotTimeout bounds CaptureSingleFrame when the caller
	// passes no timeout.
	defaultSingleShotTimeout = time.Second

	// stopDrainTimeout bounds how long Stop waits for in-flight frame
	// callbacks before releasing the device anyway.
	stopDrainTimeout = 3 * time.Second
)

// Config configures a Session. Enumerator and Variants are required.
type Config struct {
	// Enumerator lists capture sources for negotiation.
	Enumerator Enumerator

	// Variants builds a fresh ordered list of capture strategies for each
	// start or restart attempt. Failed instances are disposed, so the list
	// cannot be reused across attempts.
	Variants func() []Strategy

	// HubCapacity is the per-consumer buffer depth. Zero means the
	// framehub default of 3.
	HubCapacity int

	// SingleShotTimeout bounds CaptureSingleFrame when the caller passes
	// zero. Defaults to one second.
	SingleShotTimeout time.Duration

	// Watchdog tunes stall detection and restart. Zero value means
	// DefaultWatchdogConfig.
	Watchdog WatchdogConfig
}

func (c *Config) validate() error {
	if c.Enumerator == nil {
		return fmt.Errorf("capture: config missing enumerator")
	}
	if c.Variants == nil {
		return fmt.Errorf("capture: config missing strategy variants")
	}
	if c.HubCapacity < 0 {
		return fmt.Errorf("capture: negative hub capacity %d", c.HubCapacity)
	}
	return nil
}

// Session is the top-level capture façade: it negotiates a device and
// format, acquires a working strategy through the fallback chain, normalizes
// frames to RGBA and fans them out to subscribed consumers, restarting the
// stream when the watchdog detects a stall.
//
// One Session drives one physical device at a time. All methods are safe
// for concurrent use.
type Session struct {
	cfg Config

	mu        sync.Mutex
	state     State
	active    Strategy
	selection negotiate.Selection
	hub       *framehub.Hub
	cancel    context.CancelFunc
	failure   error

	conv    *frameconv.Converter
	monitor *telemetry.Monitor

	seq       atomic.Uint64
	lastFrame atomic.Int64 // unix nanos of last delivered frame
	streaming atomic.Bool  // gates the emit path

	inflight sync.WaitGroup // frame callbacks between emit and Publish
	loops    sync.WaitGroup // watchdog

	cbMu     sync.Mutex
	onStatus func(Status)

	notifyCh   chan Status
	notifyQuit chan struct{}
	notifyOnce sync.Once
}

// New creates a Session. Fails fast on an invalid config.
func New(cfg Config) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.SingleShotTimeout <= 0 {
		cfg.SingleShotTimeout = defaultSingleShotTimeout
	}
	cfg.Watchdog = cfg.Watchdog.withDefaults()

	s := &Session{
		cfg:        cfg,
		conv:       frameconv.New(),
		monitor:    telemetry.NewMonitor(),
		notifyCh:   make(chan Status, 8),
		notifyQuit: make(chan struct{}),
	}
	s.hub = s.newHub()
	go s.notifyLoop()
	return s, nil
}

func (s *Session) newHub() *framehub.Hub {
	opts := []framehub.Option{
		framehub.WithDropHook(func(string) { s.monitor.AddDropped(1) }),
	}
	if s.cfg.HubCapacity > 0 {
		opts = append(opts, framehub.WithCapacity(s.cfg.HubCapacity))
	}
	return framehub.New(opts...)
}

// OnStatus registers a callback invoked on every state change. The callback
// runs on a dedicated notifier goroutine, in transition order; a slow
// callback delays later notifications but never the frame path.
func (s *Session) OnStatus(fn func(Status)) {
	s.cbMu.Lock()
	s.onStatus = fn
	s.cbMu.Unlock()
}

// Status returns the current state snapshot.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() Status {
	st := Status{State: s.state, Err: s.failure}
	if s.active != nil {
		st.Variant = s.active.Name()
		st.Device = s.selection.Source.ID
	}
	return st
}

// setState transitions the session and queues the status notification.
// Caller holds mu.
func (s *Session) setState(state State, failure error) {
	s.state = state
	s.failure = failure

	select {
	case s.notifyCh <- s.statusLocked():
	default:
		// Status is advisory; a full queue must not stall a transition.
	}

	slog.Info("capture: session state changed", "state", state.String())
}

// notifyLoop hands queued status changes to the registered callback off the
// session lock.
func (s *Session) notifyLoop() {
	for {
		select {
		case <-s.notifyQuit:
			return
		case st := <-s.notifyCh:
			s.cbMu.Lock()
			fn := s.onStatus
			s.cbMu.Unlock()
			if fn != nil {
				fn(st)
			}
		}
	}
}

// Start negotiates a device and brings up the first working capture
// variant. Valid only from Uninitialized; a Failed session needs Reset
// first. On total failure the session transitions to Failed and the
// returned error carries the per-variant reasons.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateUninitialized {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: Start from %s", ErrInvalidState, st)
	}
	s.setState(StateInitializing, nil)
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)

	sel, active, err := s.bringUp(runCtx)
	if err != nil {
		cancel()
		s.mu.Lock()
		s.setState(StateFailed, err)
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	if s.state != StateInitializing {
		// Stop or Dispose raced with a slow bring-up.
		s.mu.Unlock()
		cancel()
		active.Stop()
		active.Close()
		return fmt.Errorf("%w: session stopped during start", ErrInvalidState)
	}
	s.selection = sel
	s.active = active
	s.cancel = cancel
	s.lastFrame.Store(time.Now().UnixNano())
	s.streaming.Store(true)
	s.setState(StateStreaming, nil)
	s.mu.Unlock()

	s.loops.Add(1)
	go s.watch(runCtx)
	return nil
}

// bringUp runs negotiation and the fallback chain. Shared by Start and the
// watchdog's restart path.
func (s *Session) bringUp(ctx context.Context) (negotiate.Selection, Strategy, error) {
	sources, err := s.cfg.Enumerator.ListSources()
	if err != nil {
		return negotiate.Selection{}, nil, fmt.Errorf("capture: enumerate devices: %w", err)
	}

	sel, err := negotiate.SelectBest(sources)
	if err != nil {
		return negotiate.Selection{}, nil, err
	}
	slog.Info("capture: format negotiated",
		"device", sel.Source.ID,
		"device_name", sel.Source.Name,
		"format", sel.Format.String(),
		"score", sel.Score,
	)

	active, err := strategy.Acquire(ctx, sel.Source, sel.Format, s.cfg.Variants(), s.deliver)
	if err != nil {
		return negotiate.Selection{}, nil, err
	}
	return sel, active, nil
}

// deliver is the strategy emit path: assign sequence, normalize, publish.
// Runs on the strategy's delivery goroutine and never blocks on consumers.
func (s *Session) deliver(f *media.Frame) {
	if !s.streaming.Load() {
		f.Release()
		return
	}
	s.inflight.Add(1)
	defer s.inflight.Done()

	f.Seq = s.seq.Add(1)
	out, err := s.conv.Normalize(f)
	if err != nil {
		slog.Warn("capture: dropping unconvertible frame",
			"seq", f.Seq,
			"pixel", f.Pixel.String(),
			"error", err,
		)
		f.Release()
		return
	}

	s.lastFrame.Store(out.Timestamp.UnixNano())
	s.monitor.OnFrameDelivered()

	s.mu.Lock()
	hub := s.hub
	s.mu.Unlock()
	hub.Publish(out)
}

// Stop halts streaming: no frame is delivered after Stop returns. It waits
// (bounded) for in-flight frame callbacks, disposes the active strategy and
// clears all consumer subscriptions. Stop always leaves the session in
// Stopped, including before the first Start; repeated calls are no-ops.
func (s *Session) Stop() {
	s.mu.Lock()
	switch s.state {
	case StateStopped, StateStopping:
		s.mu.Unlock()
		return
	case StateUninitialized, StateFailed:
		// No device side to tear down; Stop still lands in Stopped.
		s.hub.Close()
		s.setState(StateStopped, nil)
		s.mu.Unlock()
		return
	}
	s.setState(StateStopping, nil)
	active := s.active
	cancel := s.cancel
	s.active = nil
	s.cancel = nil
	s.mu.Unlock()

	s.streaming.Store(false)
	if cancel != nil {
		cancel()
	}
	if active != nil {
		active.Stop()
	}
	if !waitTimeout(&s.inflight, stopDrainTimeout) {
		slog.Warn("capture: in-flight frames did not drain in time")
	}
	if active != nil {
		active.Close()
	}
	s.loops.Wait()

	s.mu.Lock()
	s.hub.Close()
	s.setState(StateStopped, nil)
	s.mu.Unlock()
}

// Dispose forces Stop semantics from any state and releases all resources.
// Safe to call multiple times.
func (s *Session) Dispose() {
	s.Stop()

	s.mu.Lock()
	active := s.active
	cancel := s.cancel
	s.active = nil
	s.cancel = nil
	hub := s.hub
	s.mu.Unlock()

	s.streaming.Store(false)
	if cancel != nil {
		cancel()
	}
	if active != nil {
		active.Stop()
		active.Close()
	}
	s.loops.Wait()
	hub.Close()
	s.notifyOnce.Do(func() { close(s.notifyQuit) })
}

// Reset returns a Stopped or Failed session to Uninitialized with a fresh
// consumer hub and zeroed metrics, ready for a new Start.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateStopped && s.state != StateFailed {
		return fmt.Errorf("%w: Reset from %s", ErrInvalidState, s.state)
	}
	s.hub.Close()
	s.hub = s.newHub()
	s.monitor.Reset()
	s.seq.Store(0)
	s.setState(StateUninitialized, nil)
	return nil
}

// Subscribe attaches a consumer to the frame stream.
func (s *Session) Subscribe(consumerID string) (*framehub.Subscription, error) {
	s.mu.Lock()
	hub := s.hub
	s.mu.Unlock()
	return hub.Subscribe(consumerID)
}

// Unsubscribe detaches a consumer.
func (s *Session) Unsubscribe(consumerID string) error {
	s.mu.Lock()
	hub := s.hub
	s.mu.Unlock()
	return hub.Unsubscribe(consumerID)
}

// CaptureSingleFrame resolves with a copy of the next delivered frame, or
// ErrCaptureTimeout if none arrives within the timeout (zero means the
// configured default). The request never disturbs regular subscribers.
func (s *Session) CaptureSingleFrame(ctx context.Context, timeout time.Duration) (*media.Frame, error) {
	if timeout <= 0 {
		timeout = s.cfg.SingleShotTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.mu.Lock()
	hub := s.hub
	s.mu.Unlock()

	f, err := hub.NextFrame(ctx)
	if err == framehub.ErrTimeout {
		return nil, ErrCaptureTimeout
	}
	return f, err
}

// Metrics returns rolling FPS, total dropped frames and the last delivery
// timestamp.
func (s *Session) Metrics() telemetry.Stats {
	return s.monitor.Snapshot()
}

// MeasureStability consumes the stream for d and reports frame-rate
// statistics, including a stability verdict. The session must be streaming.
func (s *Session) MeasureStability(ctx context.Context, d time.Duration) (telemetry.FPSStats, error) {
	s.mu.Lock()
	hub := s.hub
	streaming := s.state == StateStreaming
	s.mu.Unlock()
	if !streaming {
		return telemetry.FPSStats{}, fmt.Errorf("%w: MeasureStability requires a streaming session", ErrInvalidState)
	}

	id := "stability-" + uuid.New().String()
	sub, err := hub.Subscribe(id)
	if err != nil {
		return telemetry.FPSStats{}, err
	}
	defer hub.Unsubscribe(id)

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	start := time.Now()
	var times []time.Time
	for {
		f, err := sub.Next(ctx)
		if err != nil {
			break
		}
		times = append(times, f.Timestamp)
		f.Release()
	}
	return telemetry.MeasureFPS(times, time.Since(start)), nil
}

// waitTimeout waits for wg with an upper bound. Reports whether the wait
// completed in time.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
