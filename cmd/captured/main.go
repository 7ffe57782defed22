// Command captured runs the capture daemon: it negotiates a local video
// device, keeps frames flowing through the fallback chain and the watchdog,
// serves a local preview endpoint and optionally reports status and metrics
// over MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/e7canasta/smartbox-capture/capture"
	"github.com/e7canasta/smartbox-capture/devices"
	"github.com/e7canasta/smartbox-capture/internal/config"
	"github.com/e7canasta/smartbox-capture/internal/emitter"
	"github.com/e7canasta/smartbox-capture/media"
)

const version = "v0.1.0"

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration (optional)")
	listen := flag.String("listen", "", "Preview listen address (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("captured %s\n", version)
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	if *listen != "" {
		cfg.Preview.Listen = *listen
		cfg.Preview.Enabled = true
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	enum := devices.NewMediaDevices()
	var enumerator capture.Enumerator = enum
	if cfg.Device.PreferredID != "" {
		enumerator = pinnedEnumerator{inner: enum, id: cfg.Device.PreferredID}
	}
	session, err := capture.New(capture.Config{
		Enumerator:        enumerator,
		Variants:          variantChain(enum, cfg),
		HubCapacity:       cfg.Capture.BufferFrames,
		SingleShotTimeout: cfg.Capture.SingleShotTimeout(),
		Watchdog: capture.WatchdogConfig{
			StallTimeout:  cfg.Watchdog.StallTimeout(),
			CheckInterval: cfg.Watchdog.CheckInterval(),
			MaxRetries:    cfg.Watchdog.MaxRetries,
			RetryDelay:    cfg.Watchdog.RetryDelay(),
			MaxRetryDelay: cfg.Watchdog.MaxRetryDelay(),
		},
	})
	if err != nil {
		log.Fatalf("Failed to create capture session: %v", err)
	}
	defer session.Dispose()

	var em *emitter.Emitter
	if cfg.MQTT.Enabled {
		em = emitter.New(cfg.MQTT, cfg.InstanceID)
		if err := em.Connect(ctx); err != nil {
			// Metrics are auxiliary: capture must run even when the broker
			// is down. Auto-reconnect recovers the connection later.
			slog.Warn("main: mqtt connect failed, continuing without broker", "error", err)
		}
		defer em.Disconnect()
		go em.Run(ctx, session.Metrics)
	}

	session.OnStatus(func(st capture.Status) {
		if em != nil {
			if err := em.PublishStatus(st); err != nil {
				slog.Debug("main: status publish skipped", "error", err)
			}
		}
	})

	slog.Info("main: starting capture",
		"version", version,
		"instance_id", cfg.InstanceID,
	)
	if err := session.Start(ctx); err != nil {
		log.Fatalf("Failed to start capture: %v", err)
	}

	var srv *http.Server
	if cfg.Preview.Enabled {
		srv = newPreviewServer(cfg.Preview.Listen, session, em)
		go func() {
			slog.Info("main: preview server listening", "addr", cfg.Preview.Listen)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("main: preview server failed", "error", err)
				cancel()
			}
		}()
	}

	<-ctx.Done()
	slog.Info("main: shutdown signal received")

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("main: preview server shutdown", "error", err)
		}
		shutdownCancel()
	}
	session.Stop()
	slog.Info("main: capture stopped cleanly")
}

// pinnedEnumerator narrows enumeration to the configured device id, so
// negotiation only ranks that device's formats.
type pinnedEnumerator struct {
	inner capture.Enumerator
	id    string
}

func (p pinnedEnumerator) ListSources() ([]media.Source, error) {
	sources, err := p.inner.ListSources()
	if err != nil {
		return nil, err
	}
	for _, src := range sources {
		if src.ID == p.id {
			return []media.Source{src}, nil
		}
	}
	slog.Warn("main: preferred device not found, using full enumeration",
		"preferred_id", p.id,
	)
	return sources, nil
}

// variantChain builds the strategy preference order for each start attempt.
func variantChain(enum *devices.MediaDevices, cfg *config.Config) func() []capture.Strategy {
	return func() []capture.Strategy {
		return []capture.Strategy{
			capture.NewPushStrategy(),
			capture.NewPollStrategy(func(src media.Source, format media.Format) (capture.Grabber, error) {
				return enum.OpenGrabber(src, format)
			}),
			capture.NewBridgeStrategy(cfg.Device.BridgeBinary),
		}
	}
}
