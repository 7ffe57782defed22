package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/e7canasta/smartbox-capture/media"
)

// fakeEnumerator serves a fixed device list.
type fakeEnumerator struct {
	sources []media.Source
	err     error
}

func (e *fakeEnumerator) ListSources() ([]media.Source, error) { return e.sources, e.err }

func oneCamera() *fakeEnumerator {
	return &fakeEnumerator{sources: []media.Source{{
		ID:   "/dev/video0",
		Name: "Test Camera",
		Formats: []media.Format{
			{Pixel: media.FormatRGBA, Width: 2, Height: 2, FPSNumerator: 30, FPSDenominator: 1},
		},
	}}}
}

// emitterStrategy produces synthetic RGBA frames on a timer. maxFrames > 0
// makes it go silent after that many frames, simulating a stalled device.
type emitterStrategy struct {
	interval  time.Duration
	maxFrames int
	initErr   error
	startErr  error

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

func (e *emitterStrategy) Name() string { return "emitter" }

func (e *emitterStrategy) Initialize(media.Source, media.Format) error { return e.initErr }

func (e *emitterStrategy) Start(ctx context.Context, emit EmitFunc) error {
	if e.startErr != nil {
		return e.startErr
	}
	loopCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		sent := 0
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
			}
			if e.maxFrames > 0 && sent >= e.maxFrames {
				return
			}
			f := media.Alloc(media.FormatRGBA, 2, 2, 8, 16)
			f.Timestamp = time.Now()
			emit(f)
			sent++
		}
	}()
	return nil
}

func (e *emitterStrategy) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}

func (e *emitterStrategy) Close() { e.closed.Store(true) }

func fastWatchdog() WatchdogConfig {
	return WatchdogConfig{
		StallTimeout:  150 * time.Millisecond,
		CheckInterval: 30 * time.Millisecond,
		MaxRetries:    3,
		RetryDelay:    20 * time.Millisecond,
		MaxRetryDelay: 50 * time.Millisecond,
	}
}

func newTestSession(t *testing.T, enum Enumerator, variants func() []Strategy) *Session {
	t.Helper()
	s, err := New(Config{Enumerator: enum, Variants: variants, Watchdog: fastWatchdog()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Dispose)
	return s
}

func TestLifecycle(t *testing.T) {
	s := newTestSession(t, oneCamera(), func() []Strategy {
		return []Strategy{&emitterStrategy{interval: 10 * time.Millisecond}}
	})

	if got := s.Status().State; got != StateUninitialized {
		t.Fatalf("initial state = %s", got)
	}

	sub, err := s.Subscribe("preview")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := s.Status().State; got != StateStreaming {
		t.Fatalf("state after Start = %s", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var last uint64
	for i := 0; i < 5; i++ {
		f, err := sub.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if f.Seq <= last {
			t.Errorf("out-of-order seq %d after %d", f.Seq, last)
		}
		if f.Pixel != media.FormatRGBA {
			t.Errorf("frame not normalized: %s", f.Pixel)
		}
		last = f.Seq
		f.Release()
	}

	s.Stop()
	if got := s.Status().State; got != StateStopped {
		t.Fatalf("state after Stop = %s", got)
	}
	s.Stop() // idempotent

	// Start from Stopped needs Reset first.
	if err := s.Start(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Start from Stopped: got %v, want ErrInvalidState", err)
	}
	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start after Reset: %v", err)
	}
}

func TestStartNoDevice(t *testing.T) {
	s := newTestSession(t, &fakeEnumerator{}, func() []Strategy {
		return []Strategy{&emitterStrategy{interval: time.Millisecond}}
	})

	err := s.Start(context.Background())
	if !errors.Is(err, ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice, got %v", err)
	}
	if got := s.Status().State; got != StateFailed {
		t.Fatalf("state = %s, want failed", got)
	}
}

func TestStartAllVariantsFail(t *testing.T) {
	s := newTestSession(t, oneCamera(), func() []Strategy {
		return []Strategy{
			&emitterStrategy{initErr: errors.New("driver rejected")},
			&emitterStrategy{startErr: errors.New("device busy")},
		}
	})

	err := s.Start(context.Background())
	var all *AllFailedError
	if !errors.As(err, &all) {
		t.Fatalf("expected AllFailedError, got %v", err)
	}
	if len(all.Variants) != 2 {
		t.Errorf("expected 2 failure reasons, got %d", len(all.Variants))
	}
	if st := s.Status(); st.State != StateFailed || st.Err == nil {
		t.Errorf("status = %+v, want failed with error", st)
	}

	// Stop acknowledges the failure and lands in Stopped.
	s.Stop()
	if got := s.Status().State; got != StateStopped {
		t.Errorf("state after Stop from failed = %s", got)
	}
}

func TestStopBeforeStart(t *testing.T) {
	s := newTestSession(t, oneCamera(), func() []Strategy {
		return []Strategy{&emitterStrategy{interval: 10 * time.Millisecond}}
	})

	s.Stop()
	if got := s.Status().State; got != StateStopped {
		t.Fatalf("state after Stop without Start = %s, want stopped", got)
	}
	s.Stop() // idempotent
	if got := s.Status().State; got != StateStopped {
		t.Fatalf("state after second Stop = %s", got)
	}

	// The normal Reset path brings the session back.
	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start after Reset: %v", err)
	}
}

func TestStatusCallbackDoesNotBlockFrames(t *testing.T) {
	s := newTestSession(t, oneCamera(), func() []Strategy {
		return []Strategy{&emitterStrategy{interval: 10 * time.Millisecond}}
	})

	release := make(chan struct{})
	defer close(release)
	var calls atomic.Int32
	s.OnStatus(func(Status) {
		calls.Add(1)
		<-release
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The callback is wedged on its first notification; frames and status
	// queries must be unaffected.
	f, err := s.CaptureSingleFrame(context.Background(), 2*time.Second)
	if err != nil {
		t.Fatalf("CaptureSingleFrame with wedged status callback: %v", err)
	}
	f.Release()
	if got := s.Status().State; got != StateStreaming {
		t.Errorf("state = %s, want streaming", got)
	}
	if calls.Load() == 0 {
		t.Error("status callback never invoked")
	}
}

func TestSingleShotTimeout(t *testing.T) {
	// A strategy that never emits: the photo button must time out.
	s := newTestSession(t, oneCamera(), func() []Strategy {
		return []Strategy{&emitterStrategy{interval: time.Hour}}
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	start := time.Now()
	_, err := s.CaptureSingleFrame(context.Background(), 100*time.Millisecond)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrCaptureTimeout) {
		t.Fatalf("expected ErrCaptureTimeout, got %v", err)
	}
	if elapsed < 80*time.Millisecond || elapsed > 500*time.Millisecond {
		t.Errorf("timed out after %v, expected ~100ms", elapsed)
	}
	if got := s.Status().State; got != StateStreaming {
		t.Errorf("single-shot timeout must not affect the session, state = %s", got)
	}
}

func TestSingleShotCapture(t *testing.T) {
	s := newTestSession(t, oneCamera(), func() []Strategy {
		return []Strategy{&emitterStrategy{interval: 10 * time.Millisecond}}
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f, err := s.CaptureSingleFrame(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("CaptureSingleFrame: %v", err)
	}
	if f.Pixel != media.FormatRGBA || f.Seq == 0 {
		t.Errorf("bad snapshot frame: %+v", f)
	}
	f.Release()
}

func TestWatchdogRecovers(t *testing.T) {
	var generation atomic.Int32
	s := newTestSession(t, oneCamera(), func() []Strategy {
		if generation.Add(1) == 1 {
			// First device run stalls after 3 frames.
			return []Strategy{&emitterStrategy{interval: 10 * time.Millisecond, maxFrames: 3}}
		}
		return []Strategy{&emitterStrategy{interval: 10 * time.Millisecond}}
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for generation.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("watchdog never attempted a restart")
		case <-time.After(20 * time.Millisecond):
		}
	}

	// Frames must flow again after recovery.
	f, err := s.CaptureSingleFrame(context.Background(), 3*time.Second)
	if err != nil {
		t.Fatalf("no frames after recovery: %v", err)
	}
	f.Release()
	if got := s.Status().State; got != StateStreaming {
		t.Errorf("state after recovery = %s", got)
	}
}

func TestWatchdogExhaustsBudget(t *testing.T) {
	var generation atomic.Int32
	s := newTestSession(t, oneCamera(), func() []Strategy {
		if generation.Add(1) == 1 {
			return []Strategy{&emitterStrategy{interval: 10 * time.Millisecond, maxFrames: 2}}
		}
		// Every restart attempt fails.
		return []Strategy{&emitterStrategy{initErr: errors.New("device gone")}}
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(10 * time.Second)
	for s.Status().State != StateFailed {
		select {
		case <-deadline:
			t.Fatalf("session never failed, state = %s", s.Status().State)
		case <-time.After(20 * time.Millisecond):
		}
	}
	if err := s.Status().Err; !errors.Is(err, ErrRestartBudgetExhausted) {
		t.Errorf("failure = %v, want ErrRestartBudgetExhausted", err)
	}

	// Reset brings the session back to life.
	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if got := s.Status().State; got != StateUninitialized {
		t.Errorf("state after Reset = %s", got)
	}
}

func TestFPSConvergence(t *testing.T) {
	if testing.Short() {
		t.Skip("needs wall-clock time")
	}
	s := newTestSession(t, oneCamera(), func() []Strategy {
		return []Strategy{&emitterStrategy{interval: time.Second / 30}}
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Let the rolling window fill past its first full second.
	time.Sleep(1500 * time.Millisecond)

	fps := s.Metrics().CurrentFPS
	if fps < 25 || fps > 35 {
		t.Errorf("CurrentFPS = %.1f, want ~30", fps)
	}
}

func TestMeasureStabilityRequiresStreaming(t *testing.T) {
	s := newTestSession(t, oneCamera(), func() []Strategy {
		return []Strategy{&emitterStrategy{interval: 10 * time.Millisecond}}
	})
	if _, err := s.MeasureStability(context.Background(), 100*time.Millisecond); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for empty config")
	}
	if _, err := New(Config{Enumerator: oneCamera()}); err == nil {
		t.Error("expected error for missing variants")
	}
}
