// Package devices enumerates local capture hardware through the
// mediadevices driver registry and opens devices for single-frame grabbing.
//
// This is the out-of-scope collaborator boundary of the pipeline: the
// capture package only sees the Enumerator and Grabber contracts, so tests
// and other backends can stand in for real hardware.
package devices

import (
	"fmt"
	"image"
	"image/draw"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/mediadevices/pkg/driver"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"

	"github.com/e7canasta/smartbox-capture/media"
)

// MediaDevices enumerates video capture devices via the mediadevices
// driver manager.
type MediaDevices struct{}

// NewMediaDevices creates the enumerator.
func NewMediaDevices() *MediaDevices { return &MediaDevices{} }

// ListSources returns every video recorder the driver registry knows,
// with its advertised formats. Devices whose probe fails are skipped, not
// fatal: one broken webcam must not hide the working one.
func (m *MediaDevices) ListSources() ([]media.Source, error) {
	drivers := driver.GetManager().Query(driver.FilterVideoRecorder())

	var sources []media.Source
	for _, d := range drivers {
		props, err := probeDriver(d)
		if err != nil {
			slog.Warn("devices: skipping unprobeable device",
				"device", d.ID(),
				"label", d.Info().Label,
				"error", err,
			)
			continue
		}

		src := media.Source{
			ID:   d.ID(),
			Name: deviceName(d.Info()),
		}
		for _, p := range props {
			f := toFormat(p.Video)
			if f.Pixel == media.FormatUnknown {
				continue
			}
			src.Formats = append(src.Formats, f)
		}
		if len(src.Formats) == 0 {
			continue
		}
		sources = append(sources, src)
	}

	slog.Debug("devices: enumeration complete", "sources", len(sources))
	return sources, nil
}

// probeDriver opens the device just long enough to read its properties.
func probeDriver(d driver.Driver) ([]prop.Media, error) {
	if d.Status() == driver.StateClosed {
		if err := d.Open(); err != nil {
			return nil, fmt.Errorf("devices: open %s: %w", d.ID(), err)
		}
		defer d.Close()
	}
	return d.Properties(), nil
}

func deviceName(info driver.Info) string {
	if info.Label != "" {
		return info.Label
	}
	return info.Name
}

// toFormat maps a mediadevices video property to the pipeline format model.
func toFormat(v prop.Video) media.Format {
	num, den := fpsFraction(float64(v.FrameRate))
	return media.Format{
		Pixel:          toPixelFormat(v.FrameFormat),
		Width:          v.Width,
		Height:         v.Height,
		FPSNumerator:   num,
		FPSDenominator: den,
	}
}

// fpsFraction renders a float rate as a numerator/denominator pair,
// preserving fractional rates like 29.97.
func fpsFraction(fps float64) (int, int) {
	if fps <= 0 {
		return 0, 1
	}
	if fps == math.Trunc(fps) {
		return int(fps), 1
	}
	return int(math.Round(fps * 1000)), 1000
}

func toPixelFormat(f frame.Format) media.PixelFormat {
	switch f {
	case frame.FormatYUY2:
		return media.FormatYUY2
	case frame.FormatUYVY:
		return media.FormatUYVY
	case frame.FormatI420:
		return media.FormatI420
	case frame.FormatNV12:
		return media.FormatNV12
	case frame.FormatMJPEG:
		return media.FormatMJPEG
	default:
		return media.FormatUnknown
	}
}

// Grabber issues single-frame captures against one open device, feeding the
// polling capture variant.
type Grabber struct {
	mu     sync.Mutex
	drv    driver.Driver
	reader reader
	width  int
	height int
	closed bool
}

// reader matches the mediadevices video.Reader Read method.
type reader interface {
	Read() (img image.Image, release func(), err error)
}

// OpenGrabber opens the device behind src for repeated single-frame grabs
// in the given format.
func (m *MediaDevices) OpenGrabber(src media.Source, format media.Format) (*Grabber, error) {
	drivers := driver.GetManager().Query(func(d driver.Driver) bool {
		return d.ID() == src.ID
	})
	if len(drivers) == 0 {
		return nil, fmt.Errorf("devices: device %s not found", src.ID)
	}
	d := drivers[0]

	if d.Status() == driver.StateClosed {
		if err := d.Open(); err != nil {
			return nil, fmt.Errorf("devices: open %s: %w", src.ID, err)
		}
	}

	rec, ok := d.(driver.VideoRecorder)
	if !ok {
		d.Close()
		return nil, fmt.Errorf("devices: device %s cannot record video", src.ID)
	}

	r, err := rec.VideoRecord(prop.Media{Video: prop.Video{
		Width:       format.Width,
		Height:      format.Height,
		FrameRate:   float32(format.FPS()),
		FrameFormat: fromPixelFormat(format.Pixel),
	}})
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("devices: start recording on %s: %w", src.ID, err)
	}

	return &Grabber{drv: d, reader: r, width: format.Width, height: format.Height}, nil
}

func fromPixelFormat(p media.PixelFormat) frame.Format {
	switch p {
	case media.FormatYUY2:
		return frame.FormatYUY2
	case media.FormatUYVY:
		return frame.FormatUYVY
	case media.FormatI420:
		return frame.FormatI420
	case media.FormatNV12:
		return frame.FormatNV12
	case media.FormatMJPEG:
		return frame.FormatMJPEG
	default:
		// The registry never advertises RGBA; ask for the most widely
		// supported packed layout instead.
		return frame.FormatYUY2
	}
}

// Grab reads one frame and renders it into an RGBA media frame.
func (g *Grabber) Grab() (*media.Frame, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, fmt.Errorf("devices: grabber closed")
	}

	img, release, err := g.reader.Read()
	if err != nil {
		return nil, fmt.Errorf("devices: grab frame: %w", err)
	}

	f := media.Alloc(media.FormatRGBA, g.width, g.height, g.width*4, g.width*g.height*4)
	dst := &image.RGBA{
		Pix:    f.Data,
		Stride: f.Stride,
		Rect:   image.Rect(0, 0, g.width, g.height),
	}
	draw.Draw(dst, dst.Rect, img, img.Bounds().Min, draw.Src)
	if release != nil {
		release()
	}

	f.Timestamp = time.Now()
	f.TraceID = uuid.New().String()
	return f, nil
}

// Close stops recording and releases the device.
func (g *Grabber) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	return g.drv.Close()
}
