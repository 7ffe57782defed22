// Package config loads and validates the captured daemon configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete daemon configuration.
type Config struct {
	InstanceID string         `yaml:"instance_id"`
	Device     DeviceConfig   `yaml:"device"`
	Capture    CaptureConfig  `yaml:"capture"`
	Watchdog   WatchdogConfig `yaml:"watchdog"`
	Preview    PreviewConfig  `yaml:"preview"`
	MQTT       MQTTConfig     `yaml:"mqtt"`
}

// DeviceConfig contains device selection hints.
type DeviceConfig struct {
	// PreferredID pins capture to one device id; empty lets negotiation
	// pick freely.
	PreferredID string `yaml:"preferred_id"`
	// BridgeBinary is the external capture binary for the last-resort
	// variant. Empty means "ffmpeg" from PATH.
	BridgeBinary string `yaml:"bridge_binary"`
}

// CaptureConfig contains pipeline settings.
type CaptureConfig struct {
	BufferFrames        int `yaml:"buffer_frames"`          // per-consumer buffer depth
	SingleShotTimeoutMS int `yaml:"single_shot_timeout_ms"` // photo-button timeout
}

// WatchdogConfig contains stall detection and restart tuning.
type WatchdogConfig struct {
	StallTimeoutMS  int `yaml:"stall_timeout_ms"`
	CheckIntervalMS int `yaml:"check_interval_ms"`
	MaxRetries      int `yaml:"max_retries"`
	RetryDelayMS    int `yaml:"retry_delay_ms"`
	MaxRetryDelayMS int `yaml:"max_retry_delay_ms"`
}

// PreviewConfig contains the local preview HTTP endpoint settings.
type PreviewConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"` // host:port
}

// MQTTConfig contains status/metrics publishing settings.
type MQTTConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Broker       string `yaml:"broker"`
	StatusTopic  string `yaml:"status_topic"`
	MetricsTopic string `yaml:"metrics_topic"`
	QoS          byte   `yaml:"qos"`
	IntervalS    int    `yaml:"interval_s"` // metrics publish interval
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		InstanceID: "smartbox-capture",
		Capture: CaptureConfig{
			BufferFrames:        3,
			SingleShotTimeoutMS: 1000,
		},
		Watchdog: WatchdogConfig{
			StallTimeoutMS:  3000,
			CheckIntervalMS: 1000,
			MaxRetries:      5,
			RetryDelayMS:    1000,
			MaxRetryDelayMS: 30000,
		},
		Preview: PreviewConfig{
			Enabled: true,
			Listen:  "127.0.0.1:8089",
		},
		MQTT: MQTTConfig{
			StatusTopic:  "smartbox/capture/status",
			MetricsTopic: "smartbox/capture/metrics",
			IntervalS:    5,
		},
	}
}

// Load reads and parses a YAML configuration file, filling omitted fields
// from the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration, failing fast on nonsense values.
func (c *Config) Validate() error {
	if c.InstanceID == "" {
		return fmt.Errorf("instance_id must not be empty")
	}
	if c.Capture.BufferFrames < 1 {
		return fmt.Errorf("capture.buffer_frames must be >= 1, got %d", c.Capture.BufferFrames)
	}
	if c.Capture.SingleShotTimeoutMS <= 0 {
		return fmt.Errorf("capture.single_shot_timeout_ms must be positive, got %d", c.Capture.SingleShotTimeoutMS)
	}
	if c.Watchdog.StallTimeoutMS <= 0 {
		return fmt.Errorf("watchdog.stall_timeout_ms must be positive, got %d", c.Watchdog.StallTimeoutMS)
	}
	if c.Watchdog.MaxRetries < 1 {
		return fmt.Errorf("watchdog.max_retries must be >= 1, got %d", c.Watchdog.MaxRetries)
	}
	if c.Preview.Enabled && c.Preview.Listen == "" {
		return fmt.Errorf("preview.listen must be set when preview is enabled")
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker must be set when mqtt is enabled")
		}
		if c.MQTT.IntervalS < 1 {
			return fmt.Errorf("mqtt.interval_s must be >= 1, got %d", c.MQTT.IntervalS)
		}
	}
	return nil
}

// Save writes the configuration back to disk.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// SingleShotTimeout returns the photo-button timeout as a duration.
func (c *CaptureConfig) SingleShotTimeout() time.Duration {
	return time.Duration(c.SingleShotTimeoutMS) * time.Millisecond
}

// StallTimeout returns the stall threshold as a duration.
func (c *WatchdogConfig) StallTimeout() time.Duration {
	return time.Duration(c.StallTimeoutMS) * time.Millisecond
}

// CheckInterval returns the watchdog sampling interval as a duration.
func (c *WatchdogConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalMS) * time.Millisecond
}

// RetryDelay returns the initial restart backoff as a duration.
func (c *WatchdogConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMS) * time.Millisecond
}

// MaxRetryDelay returns the restart backoff cap as a duration.
func (c *WatchdogConfig) MaxRetryDelay() time.Duration {
	return time.Duration(c.MaxRetryDelayMS) * time.Millisecond
}
