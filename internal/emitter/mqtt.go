// Package emitter publishes session status and metrics to an MQTT broker
// for fleet monitoring.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/smartbox-capture/capture"
	"github.com/e7canasta/smartbox-capture/internal/config"
	"github.com/e7canasta/smartbox-capture/telemetry"
)

// Emitter publishes capture status changes and periodic metrics snapshots.
type Emitter struct {
	cfg        config.MQTTConfig
	instanceID string
	client     mqtt.Client

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

// Stats contains emitter counters.
type Stats struct {
	Connected bool
	Published uint64
	Errors    uint64
}

// New creates an emitter. Call Connect before publishing.
func New(cfg config.MQTTConfig, instanceID string) *Emitter {
	return &Emitter{cfg: cfg, instanceID: instanceID}
}

// Connect establishes the broker connection with automatic reconnect.
func (e *Emitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.Broker))
	opts.SetClientID(e.instanceID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		e.mu.Lock()
		e.connected = true
		e.mu.Unlock()
		slog.Info("emitter: mqtt connection established",
			"broker", e.cfg.Broker,
			"client_id", e.instanceID,
		)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		slog.Warn("emitter: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.Broker,
		)
	}

	e.client = mqtt.NewClient(opts)

	token := e.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("emitter: mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("emitter: mqtt connection failed: %w", err)
	}

	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()
	return nil
}

// statusMessage is the wire shape of a status publication.
type statusMessage struct {
	InstanceID string `json:"instance_id"`
	State      string `json:"state"`
	Variant    string `json:"variant,omitempty"`
	Device     string `json:"device,omitempty"`
	Error      string `json:"error,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// metricsMessage is the wire shape of a metrics publication.
type metricsMessage struct {
	InstanceID    string  `json:"instance_id"`
	CurrentFPS    float64 `json:"current_fps"`
	DroppedFrames uint64  `json:"dropped_frames"`
	LastFrameAt   string  `json:"last_frame_at,omitempty"`
	Timestamp     string  `json:"timestamp"`
}

// PublishStatus pushes one session state change to the status topic.
func (e *Emitter) PublishStatus(st capture.Status) error {
	msg := statusMessage{
		InstanceID: e.instanceID,
		State:      st.State.String(),
		Variant:    st.Variant,
		Device:     st.Device,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	if st.Err != nil {
		msg.Error = st.Err.Error()
	}
	return e.publish(e.cfg.StatusTopic, msg)
}

// PublishMetrics pushes one metrics snapshot to the metrics topic.
func (e *Emitter) PublishMetrics(stats telemetry.Stats) error {
	msg := metricsMessage{
		InstanceID:    e.instanceID,
		CurrentFPS:    stats.CurrentFPS,
		DroppedFrames: stats.DroppedFrames,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
	if !stats.LastFrameAt.IsZero() {
		msg.LastFrameAt = stats.LastFrameAt.UTC().Format(time.RFC3339)
	}
	return e.publish(e.cfg.MetricsTopic, msg)
}

func (e *Emitter) publish(topic string, msg any) error {
	if !e.isConnected() {
		e.countError()
		return fmt.Errorf("emitter: mqtt not connected")
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		e.countError()
		return fmt.Errorf("emitter: marshal payload: %w", err)
	}

	token := e.client.Publish(topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return fmt.Errorf("emitter: publish timeout on %s", topic)
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("emitter: publish on %s: %w", topic, err)
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()

	slog.Debug("emitter: message published", "topic", topic, "size", len(payload))
	return nil
}

// Run publishes metrics every interval until ctx ends.
func (e *Emitter) Run(ctx context.Context, metrics func() telemetry.Stats) {
	interval := time.Duration(e.cfg.IntervalS) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.PublishMetrics(metrics()); err != nil {
				slog.Debug("emitter: metrics publish skipped", "error", err)
			}
		}
	}
}

// Disconnect closes the broker connection.
func (e *Emitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		slog.Info("emitter: mqtt disconnected")
	}
	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()
}

// Stats returns the emitter counters.
func (e *Emitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{Connected: e.connected, Published: e.published, Errors: e.errors}
}

func (e *Emitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *Emitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
