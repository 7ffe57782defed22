package capture

import (
	"errors"

	"github.com/e7canasta/smartbox-capture/capture/internal/negotiate"
	"github.com/e7canasta/smartbox-capture/capture/internal/strategy"
)

var (
	// ErrNoDevice reports that enumeration found no usable capture source.
	// Not retried automatically: there is nothing to wait for until a
	// device is plugged in.
	ErrNoDevice = negotiate.ErrNoDevice

	// ErrInvalidState reports a lifecycle call made from the wrong state,
	// e.g. Start on a Failed session before Reset.
	ErrInvalidState = errors.New("capture: invalid session state for this operation")

	// ErrCaptureTimeout reports that a single-shot capture found no frame
	// within its timeout. Local to that one request.
	ErrCaptureTimeout = errors.New("capture: no frame within single-shot timeout")

	// ErrRestartBudgetExhausted reports that the watchdog gave up
	// restarting a stalled stream. The session is Failed.
	ErrRestartBudgetExhausted = errors.New("capture: restart budget exhausted after repeated stalls")
)

// AllFailedError reports that every capture variant failed during Start,
// with the ordered per-variant reasons.
type AllFailedError = strategy.AllFailedError

// FailedVariant is one entry of an AllFailedError.
type FailedVariant = strategy.FailedVariant
