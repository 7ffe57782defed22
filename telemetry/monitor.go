// Package telemetry tracks delivery-rate and stability metrics for a
// running capture session.
package telemetry

import (
	"sync"
	"time"
)

// Stats is a snapshot of the session's delivery metrics.
type Stats struct {
	CurrentFPS    float64   // frames delivered over the last rolling second
	DroppedFrames uint64    // total frames lost to backpressure
	LastFrameAt   time.Time // zero until the first frame arrives
}

// Monitor measures delivered frame rate over a one-second rolling window.
// All methods are safe for concurrent use.
type Monitor struct {
	mu      sync.Mutex
	times   []time.Time // delivery timestamps inside the window, oldest first
	dropped uint64
	last    time.Time

	now func() time.Time // injectable for tests
}

const window = time.Second

// NewMonitor creates a Monitor.
func NewMonitor() *Monitor {
	return &Monitor{now: time.Now}
}

// OnFrameDelivered records one successful delivery.
func (m *Monitor) OnFrameDelivered() {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.now()
	m.last = t
	m.times = append(m.times, t)
	m.prune(t)
}

// AddDropped adds n to the dropped-frame total.
func (m *Monitor) AddDropped(n uint64) {
	m.mu.Lock()
	m.dropped += n
	m.mu.Unlock()
}

// Snapshot returns the current metrics.
func (m *Monitor) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prune(m.now())
	return Stats{
		CurrentFPS:    float64(len(m.times)) / window.Seconds(),
		DroppedFrames: m.dropped,
		LastFrameAt:   m.last,
	}
}

// Reset clears the window and counters for a fresh session run.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.times = m.times[:0]
	m.dropped = 0
	m.last = time.Time{}
	m.mu.Unlock()
}

// prune drops timestamps older than the window. Caller holds mu.
func (m *Monitor) prune(now time.Time) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(m.times) && !m.times[i].After(cutoff) {
		i++
	}
	if i > 0 {
		m.times = append(m.times[:0], m.times[i:]...)
	}
}
