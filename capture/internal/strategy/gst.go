package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/smartbox-capture/media"
)

// Push is the push-callback variant: a GStreamer pipeline reads the device
// and delivers frames asynchronously through an appsink.
//
// Pipeline structure:
//
//	v4l2src → videoconvert → videoscale → videorate → capsfilter → appsink
//
// The capsfilter locks format=RGBA at the negotiated resolution and frame
// rate, so frames leave the pipeline already in canonical layout.
type Push struct {
	mu       sync.Mutex
	pipeline *gst.Pipeline
	sink     *app.Sink

	width, height int
	deviceID      string

	stopped    atomic.Bool
	frameCount atomic.Uint64
	busDone    chan struct{}
}

// NewPush creates an uninitialized push strategy.
func NewPush() *Push { return &Push{} }

func (p *Push) Name() string { return "push" }

// Initialize builds the pipeline against the negotiated device and format.
// The pipeline is left in NULL state; Start sets it playing.
func (p *Push) Initialize(src media.Source, format media.Format) error {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("strategy: create pipeline: %w", err)
	}

	v4l2src, err := gst.NewElement("v4l2src")
	if err != nil {
		return fmt.Errorf("strategy: create v4l2src: %w", err)
	}
	v4l2src.SetProperty("device", src.ID)

	videoconvert, err := gst.NewElement("videoconvert")
	if err != nil {
		return fmt.Errorf("strategy: create videoconvert: %w", err)
	}
	videoconvert.SetProperty("n-threads", 0) // auto-detect cores

	videoscale, err := gst.NewElement("videoscale")
	if err != nil {
		return fmt.Errorf("strategy: create videoscale: %w", err)
	}

	videorate, err := gst.NewElement("videorate")
	if err != nil {
		return fmt.Errorf("strategy: create videorate: %w", err)
	}
	videorate.SetProperty("drop-only", true)
	videorate.SetProperty("skip-to-first", true)

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return fmt.Errorf("strategy: create capsfilter: %w", err)
	}
	capsStr := fmt.Sprintf("video/x-raw,format=RGBA,width=%d,height=%d,framerate=%d/%d",
		format.Width, format.Height, format.FPSNumerator, format.FPSDenominator)
	capsfilter.SetProperty("caps", gst.NewCapsFromString(capsStr))

	appsink, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("strategy: create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)    // real-time, no clock sync
	appsink.SetProperty("max-buffers", 1) // keep only the latest frame
	appsink.SetProperty("drop", true)
	appsink.SetProperty("qos", true)

	pipeline.AddMany(v4l2src, videoconvert, videoscale, videorate, capsfilter, appsink.Element)
	if err := gst.ElementLinkMany(v4l2src, videoconvert, videoscale, videorate, capsfilter, appsink.Element); err != nil {
		pipeline.SetState(gst.StateNull)
		return fmt.Errorf("strategy: link pipeline elements: %w", err)
	}

	p.mu.Lock()
	p.pipeline = pipeline
	p.sink = appsink
	p.width = format.Width
	p.height = format.Height
	p.deviceID = src.ID
	p.mu.Unlock()

	slog.Debug("strategy: push pipeline created", "device", src.ID, "caps", capsStr)
	return nil
}

// Start registers the sample callback and sets the pipeline playing.
func (p *Push) Start(ctx context.Context, emit EmitFunc) error {
	p.mu.Lock()
	pipeline, sink := p.pipeline, p.sink
	p.mu.Unlock()
	if pipeline == nil {
		return fmt.Errorf("strategy: push not initialized")
	}

	p.stopped.Store(false)

	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(s *app.Sink) gst.FlowReturn {
			return p.onSample(s, emit)
		},
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return fmt.Errorf("strategy: set pipeline playing: %w", err)
	}

	busDone := make(chan struct{})
	p.mu.Lock()
	p.busDone = busDone
	p.mu.Unlock()
	go p.watchBus(ctx, pipeline, busDone)

	slog.Info("strategy: push capture started", "device", p.deviceID)
	return nil
}

// onSample copies the sample out of GStreamer memory and hands it to emit.
// Skips the frame on any per-sample failure; a single corrupt sample must
// not take the stream down.
func (p *Push) onSample(sink *app.Sink, emit EmitFunc) gst.FlowReturn {
	if p.stopped.Load() {
		return gst.FlowOK
	}

	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("strategy: failed to pull sample, skipping frame")
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("strategy: sample carries no buffer, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("strategy: empty buffer received")
		return gst.FlowOK
	}

	f := media.Alloc(media.FormatRGBA, p.width, p.height, p.width*4, len(data))
	copy(f.Data, data)
	buffer.Unmap()

	f.Timestamp = time.Now()
	f.TraceID = uuid.New().String()
	p.frameCount.Add(1)

	emit(f)
	return gst.FlowOK
}

// watchBus drains pipeline bus messages until ctx ends or Stop closes the
// pipeline. Errors are logged; stall recovery belongs to the session
// watchdog, not the strategy.
func (p *Push) watchBus(ctx context.Context, pipeline *gst.Pipeline, done chan struct{}) {
	defer close(done)
	bus := pipeline.GetPipelineBus()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if p.stopped.Load() {
			return
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			slog.Warn("strategy: end of stream from device", "device", p.deviceID)
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("strategy: pipeline error",
				"device", p.deviceID,
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
			)
			return
		}
	}
}

// Stop halts delivery. No emit call happens after Stop returns: the stopped
// flag gates the sample callback, and the pipeline transition to NULL
// flushes pending samples.
func (p *Push) Stop() {
	if p.stopped.Swap(true) {
		return
	}

	p.mu.Lock()
	pipeline, busDone := p.pipeline, p.busDone
	p.mu.Unlock()

	if pipeline != nil {
		pipeline.SetState(gst.StateNull)
	}
	if busDone != nil {
		select {
		case <-busDone:
		case <-time.After(3 * time.Second):
			slog.Warn("strategy: bus watcher did not exit in time", "device", p.deviceID)
		}
	}
	slog.Info("strategy: push capture stopped",
		"device", p.deviceID,
		"frames", p.frameCount.Load(),
	)
}

// Close releases the pipeline.
func (p *Push) Close() {
	p.Stop()
	p.mu.Lock()
	p.pipeline = nil
	p.sink = nil
	p.mu.Unlock()
}
