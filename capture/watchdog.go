package capture

import (
	"context"
	"log/slog"
	"time"
)

// WatchdogConfig tunes stall detection and the restart budget.
type WatchdogConfig struct {
	// StallTimeout is how long the stream may go without a delivered
	// frame before the device is presumed stalled or disconnected.
	StallTimeout time.Duration

	// CheckInterval is how often the watchdog samples the last-frame
	// timestamp.
	CheckInterval time.Duration

	// MaxRetries caps restart attempts per stall before the session
	// fails for good.
	MaxRetries int

	// RetryDelay is the initial backoff; each attempt doubles it up to
	// MaxRetryDelay.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// DefaultWatchdogConfig returns the production tuning: a 3 second stall
// threshold checked every second, and up to 5 restarts backing off from
// 1s to 30s.
func DefaultWatchdogConfig() WatchdogConfig {
	return WatchdogConfig{
		StallTimeout:  3 * time.Second,
		CheckInterval: time.Second,
		MaxRetries:    5,
		RetryDelay:    time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

func (c WatchdogConfig) withDefaults() WatchdogConfig {
	def := DefaultWatchdogConfig()
	if c.StallTimeout <= 0 {
		c.StallTimeout = def.StallTimeout
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = def.CheckInterval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = def.MaxRetryDelay
	}
	return c
}

// backoff returns the delay before restart attempt n (1-based):
// RetryDelay * 2^(n-1), capped at MaxRetryDelay.
func (c WatchdogConfig) backoff(attempt int) time.Duration {
	delay := c.RetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > c.MaxRetryDelay {
		delay = c.MaxRetryDelay
	}
	return delay
}

// watch monitors time-since-last-frame while streaming and drives the
// restart path on stalls. Runs until ctx ends or the restart budget is
// exhausted.
func (s *Session) watch(ctx context.Context) {
	defer s.loops.Done()

	cfg := s.cfg.Watchdog
	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !s.streaming.Load() {
			return
		}

		last := time.Unix(0, s.lastFrame.Load())
		silence := time.Since(last)
		if silence < cfg.StallTimeout {
			continue
		}

		slog.Warn("capture: stream stalled, attempting restart",
			"silence", silence,
			"stall_timeout", cfg.StallTimeout,
		)
		if !s.restart(ctx) {
			return
		}
	}
}

// restart tears down the stalled strategy and re-runs negotiation and the
// fallback chain with exponential backoff. Consumer subscriptions survive:
// only the device side is rebuilt. Reports whether streaming resumed.
func (s *Session) restart(ctx context.Context) bool {
	cfg := s.cfg.Watchdog

	// Quiesce the old strategy first so at most one strategy ever holds
	// the device.
	s.streaming.Store(false)
	s.mu.Lock()
	old := s.active
	s.active = nil
	s.mu.Unlock()
	if old != nil {
		old.Stop()
		old.Close()
	}

	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		delay := cfg.backoff(attempt)
		slog.Info("capture: restart attempt",
			"attempt", attempt,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
		)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		sel, active, err := s.bringUp(ctx)
		if err != nil {
			slog.Error("capture: restart attempt failed", "attempt", attempt, "error", err)
			continue
		}

		s.mu.Lock()
		if s.state != StateStreaming {
			// Stop or Dispose won the race during backoff.
			s.mu.Unlock()
			active.Stop()
			active.Close()
			return false
		}
		s.selection = sel
		s.active = active
		s.mu.Unlock()

		s.lastFrame.Store(time.Now().UnixNano())
		s.streaming.Store(true)
		slog.Info("capture: stream recovered",
			"attempt", attempt,
			"device", sel.Source.ID,
			"variant", active.Name(),
		)
		return true
	}

	slog.Error("capture: restart budget exhausted, session failed",
		"max_retries", cfg.MaxRetries,
	)
	s.mu.Lock()
	s.setState(StateFailed, ErrRestartBudgetExhausted)
	s.mu.Unlock()
	return false
}
