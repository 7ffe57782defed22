// Package capture acquires live video from a local device and distributes
// it to independent consumers.
//
// A Session negotiates the best (device, format) pair from an Enumerator,
// walks an ordered chain of capture strategies until one starts, normalizes
// every frame to RGBA and publishes it through a framehub.Hub. A watchdog
// restarts the stream with exponential backoff when frames stop arriving;
// exhausting the restart budget fails the session.
//
// # Quick Start
//
//	enum := devices.NewMediaDevices()
//	session, err := capture.New(capture.Config{
//	    Enumerator: enum,
//	    Variants: func() []capture.Strategy {
//	        return []capture.Strategy{
//	            capture.NewPushStrategy(),
//	            capture.NewPollStrategy(enum.OpenGrabber),
//	            capture.NewBridgeStrategy(""),
//	        }
//	    },
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Dispose()
//
//	if err := session.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	sub, _ := session.Subscribe("preview")
//	for {
//	    frame, err := sub.Next(ctx)
//	    if err != nil {
//	        break
//	    }
//	    render(frame)
//	    frame.Release()
//	}
//
// # Single-Shot Capture
//
//	frame, err := session.CaptureSingleFrame(ctx, time.Second)
//
// resolves with a copy of the next delivered frame or ErrCaptureTimeout,
// without disturbing regular subscribers.
package capture
