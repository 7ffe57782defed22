package capture

import (
	"github.com/e7canasta/smartbox-capture/capture/internal/strategy"
	"github.com/e7canasta/smartbox-capture/media"
)

// Enumerator lists the capture sources visible to the session. Device
// enumeration is an external collaborator; see the devices package for the
// mediadevices-backed implementation.
type Enumerator interface {
	ListSources() ([]media.Source, error)
}

// Strategy is one concrete way of acquiring frames from a device. The
// built-in variants are NewPushStrategy, NewPollStrategy and
// NewBridgeStrategy, in preference order.
type Strategy = strategy.Strategy

// EmitFunc receives raw frames from a running strategy.
type EmitFunc = strategy.EmitFunc

// Grabber issues single-frame captures for the polling variant.
type Grabber = strategy.Grabber

// GrabberFactory opens a device for single-frame grabbing.
type GrabberFactory = strategy.GrabberFactory

// NewPushStrategy returns the push-callback variant: a GStreamer pipeline
// delivering frames asynchronously at native rate.
func NewPushStrategy() Strategy { return strategy.NewPush() }

// NewPollStrategy returns the polling-grab variant: timer-driven
// single-frame grabs through the given factory.
func NewPollStrategy(factory GrabberFactory) Strategy { return strategy.NewPoll(factory) }

// NewBridgeStrategy returns the external-bridge variant: an ffmpeg
// subprocess streaming raw frames over a pipe. An empty binary means
// "ffmpeg" from PATH.
func NewBridgeStrategy(binary string) Strategy { return strategy.NewBridge(binary) }
