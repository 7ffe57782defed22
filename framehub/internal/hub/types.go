// Package hub implements the consumer fan-out machinery behind framehub.
//
// This package is internal; clients use the public API in the parent package.
package hub

import "errors"

// Internal errors, re-exported by the framehub package as the stable contract.
var (
	ErrClosed             = errors.New("framehub: hub is closed")
	ErrSubscriberExists   = errors.New("framehub: subscriber already exists")
	ErrSubscriberNotFound = errors.New("framehub: subscriber not found")
	ErrTimeout            = errors.New("framehub: timed out waiting for frame")
)

// DefaultCapacity is the per-subscription buffer depth. Small on purpose:
// it bounds both memory and the staleness of the oldest queued frame.
const DefaultCapacity = 3

// SubscriptionStats tracks delivery metrics for one subscriber.
type SubscriptionStats struct {
	// Delivered is the number of frames enqueued to this subscriber.
	Delivered uint64
	// Dropped is the number of frames evicted under the drop-oldest policy.
	Dropped uint64
}

// Stats is a snapshot of hub-wide delivery metrics.
type Stats struct {
	// Published is the number of Publish calls.
	Published uint64
	// Dropped is the sum of per-subscriber evictions.
	Dropped uint64
	// Subscribers holds the per-subscriber breakdown keyed by consumer id.
	Subscribers map[string]SubscriptionStats
}

// DropHook is invoked (synchronously, under no hub locks) each time a
// subscriber's buffer evicts a frame. Used to feed the telemetry monitor.
type DropHook func(consumerID string)

// Option configures a Hub.
type Option func(*config)

type config struct {
	capacity int
	dropHook DropHook
}

// WithCapacity overrides the per-subscription buffer depth.
func WithCapacity(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithDropHook registers a callback for drop-oldest evictions.
func WithDropHook(fn DropHook) Option {
	return func(c *config) {
		c.dropHook = fn
	}
}
