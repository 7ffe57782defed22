package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/smartbox-capture/media"
)

// Grabber issues single-frame captures against an open device.
type Grabber interface {
	// Grab returns the next frame. Blocks until the device produces one.
	Grab() (*media.Frame, error)
	Close() error
}

// GrabberFactory opens a device for single-frame grabbing.
type GrabberFactory func(src media.Source, format media.Format) (Grabber, error)

// consecutiveGrabLimit aborts the polling loop when the device stops
// answering; the session watchdog then decides whether to restart.
const consecutiveGrabLimit = 10

// Poll is the polling-grab variant: single-frame capture requests on a
// fixed timer. Worst-case FPS is bounded by the grab interval, so this
// variant trades latency for compatibility with drivers whose streaming
// path is unreliable.
type Poll struct {
	factory  GrabberFactory
	interval time.Duration

	mu      sync.Mutex
	grabber Grabber
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	stopped    atomic.Bool
	frameCount atomic.Uint64
}

// NewPoll creates a polling strategy that grabs at the format's declared
// rate, clamped to [1, 60] grabs per second.
func NewPoll(factory GrabberFactory) *Poll {
	return &Poll{factory: factory}
}

func (p *Poll) Name() string { return "poll" }

// Initialize opens the device for grabbing and derives the poll interval
// from the negotiated frame rate.
func (p *Poll) Initialize(src media.Source, format media.Format) error {
	if p.factory == nil {
		return fmt.Errorf("strategy: poll has no grabber factory")
	}

	fps := format.FPS()
	if fps <= 0 {
		fps = 1
	}
	if fps > 60 {
		fps = 60
	}

	g, err := p.factory(src, format)
	if err != nil {
		return fmt.Errorf("strategy: open grabber for %s: %w", src.ID, err)
	}

	p.mu.Lock()
	p.grabber = g
	p.interval = time.Duration(float64(time.Second) / fps)
	p.mu.Unlock()
	return nil
}

// Start launches the grab loop.
func (p *Poll) Start(ctx context.Context, emit EmitFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.grabber == nil {
		return fmt.Errorf("strategy: poll not initialized")
	}
	p.stopped.Store(false)

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.loop(loopCtx, p.grabber, emit)

	slog.Info("strategy: poll capture started", "interval", p.interval)
	return nil
}

func (p *Poll) loop(ctx context.Context, g Grabber, emit EmitFunc) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if p.stopped.Load() {
			return
		}

		f, err := g.Grab()
		if err != nil {
			failures++
			slog.Warn("strategy: grab failed", "error", err, "consecutive", failures)
			if failures >= consecutiveGrabLimit {
				slog.Error("strategy: device stopped answering grabs, poll loop exiting")
				return
			}
			continue
		}
		failures = 0

		if f.Timestamp.IsZero() {
			f.Timestamp = time.Now()
		}
		if f.TraceID == "" {
			f.TraceID = uuid.New().String()
		}
		p.frameCount.Add(1)

		// Re-check after a potentially long grab so no frame leaks out
		// after Stop returned.
		if p.stopped.Load() || ctx.Err() != nil {
			f.Release()
			return
		}
		emit(f)
	}
}

// Stop halts the grab loop and waits for the in-flight grab to finish.
func (p *Poll) Stop() {
	if p.stopped.Swap(true) {
		return
	}

	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()

	slog.Info("strategy: poll capture stopped", "frames", p.frameCount.Load())
}

// Close releases the device.
func (p *Poll) Close() {
	p.Stop()

	p.mu.Lock()
	g := p.grabber
	p.grabber = nil
	p.mu.Unlock()

	if g != nil {
		if err := g.Close(); err != nil {
			slog.Warn("strategy: grabber close failed", "error", err)
		}
	}
}
