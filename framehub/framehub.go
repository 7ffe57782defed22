package framehub

import "github.com/e7canasta/smartbox-capture/framehub/internal/hub"

// Public API - re-export internal types as the stable contract.

// Hub fans frames out to subscribers with isolated backpressure.
type Hub = hub.Hub

// Subscription is one consumer's attachment to a Hub.
type Subscription = hub.Subscription

// Stats is a snapshot of hub-wide delivery metrics.
type Stats = hub.Stats

// SubscriptionStats tracks delivery metrics for one subscriber.
type SubscriptionStats = hub.SubscriptionStats

// DropHook is invoked each time a subscriber's buffer evicts a frame.
type DropHook = hub.DropHook

// Option configures a Hub.
type Option = hub.Option

// DefaultCapacity is the per-subscription buffer depth.
const DefaultCapacity = hub.DefaultCapacity

var (
	// ErrClosed is returned by operations on a closed hub or subscription.
	ErrClosed = hub.ErrClosed
	// ErrSubscriberExists is returned for duplicate consumer ids.
	ErrSubscriberExists = hub.ErrSubscriberExists
	// ErrSubscriberNotFound is returned when unsubscribing an unknown id.
	ErrSubscriberNotFound = hub.ErrSubscriberNotFound
	// ErrTimeout is returned when a single-shot request outlives its deadline.
	ErrTimeout = hub.ErrTimeout
)

// New creates a hub with the given options.
func New(opts ...Option) *Hub { return hub.New(opts...) }

// WithCapacity overrides the per-subscription buffer depth (default 3).
func WithCapacity(n int) Option { return hub.WithCapacity(n) }

// WithDropHook registers a callback for drop-oldest evictions.
func WithDropHook(fn DropHook) Option { return hub.WithDropHook(fn) }
