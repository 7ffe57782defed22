// Package framehub provides non-blocking frame fan-out to multiple
// independent consumers.
//
// Philosophy: "Drop frames, never queue. Latency > Completeness."
//
// Each subscriber owns a small bounded buffer with a drop-oldest policy,
// so a stalled preview window can never block the recorder, the streamer,
// or the capture path itself. Publish completes in microseconds regardless
// of consumer speed.
//
// # Basic Usage
//
//	hub := framehub.New()
//	defer hub.Close()
//
//	sub, _ := hub.Subscribe("preview")
//	defer hub.Unsubscribe("preview")
//
//	go func() {
//	    for {
//	        frame, err := sub.Next(ctx)
//	        if err != nil {
//	            return
//	        }
//	        render(frame)
//	        frame.Release()
//	    }
//	}()
//
//	for frame := range source {
//	    hub.Publish(frame) // non-blocking
//	}
//
// # Single-Shot Capture
//
// NextFrame implements the photo-button: it resolves with a copy of the
// next published frame or fails with ErrTimeout.
//
//	ctx, cancel := context.WithTimeout(ctx, time.Second)
//	defer cancel()
//	frame, err := hub.NextFrame(ctx)
//
// # Ordering
//
// Frames delivered to a given subscriber preserve sequence order; frames
// lost to backpressure are skipped, never reordered or duplicated.
package framehub
