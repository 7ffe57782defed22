// Package strategy implements the ways of pulling frames out of a capture
// device, plus the fallback chain that finds the first one that works.
//
// Three variants exist, in preference order:
//
//  1. push: the driver delivers frames asynchronously through a GStreamer
//     appsink at native rate. Lowest latency, highest FPS.
//  2. poll: single-frame grabs on a fixed timer. Bounded worst-case FPS,
//     works on drivers with broken streaming paths.
//  3. bridge: an external ffmpeg process performs the capture and hands
//     raw frames back over a pipe. Last resort for devices the in-process
//     stacks cannot open.
//
// Each variant is independently initializable; a failed attempt releases
// the device before the next variant runs.
package strategy

import (
	"context"

	"github.com/e7canasta/smartbox-capture/media"
)

// EmitFunc receives one raw frame from the active strategy. The frame's
// ownership transfers to the callee. Called from a goroutine owned by the
// strategy; must not block.
type EmitFunc func(*media.Frame)

// Strategy is one concrete way of acquiring frames from a device.
//
// Lifecycle: Initialize claims the device, Start begins delivery, Stop halts
// delivery (no emit happens after Stop returns), Close releases the device.
// Initialize and Start failures leave the device released.
type Strategy interface {
	// Name identifies the variant in logs and failure reports.
	Name() string

	// Initialize claims the device and prepares it for the negotiated format.
	Initialize(src media.Source, format media.Format) error

	// Start begins frame delivery to emit. It returns once delivery is
	// running; frames arrive on a strategy-owned goroutine until Stop is
	// called or ctx ends.
	Start(ctx context.Context, emit EmitFunc) error

	// Stop halts delivery and waits for the in-flight callback to finish.
	// Idempotent.
	Stop()

	// Close releases the device. The strategy is unusable afterwards.
	Close()
}
