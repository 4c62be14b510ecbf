// Package emitter publishes marker detections to an MQTT broker so other
// robot processes can react without polling the camera host.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/teslashibe/go-camhost/internal/log"
	"github.com/teslashibe/go-camhost/pkg/marker"
)

const (
	queueSize      = 16
	publishTimeout = 2 * time.Second
)

// Config holds MQTT settings
type Config struct {
	Broker   string // host:port or full URL
	Topic    string // prefix, e.g. "camhost"
	ClientID string
	QoS      byte
	Camera   string
}

// Event is the JSON payload published for each detection
type Event struct {
	Camera    string           `json:"camera"`
	Timestamp int64            `json:"ts"` // Unix milliseconds
	Detection marker.Detection `json:"detection"`
}

// MQTT publishes detection events in the background. PublishDetection
// never blocks; when the queue is full the event is dropped.
type MQTT struct {
	cfg    Config
	client mqtt.Client
	logger *slog.Logger

	queue     chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	// Stats
	published atomic.Uint64
	errors    atomic.Uint64
	dropped   atomic.Uint64
}

// NewMQTT creates an emitter with a paho client. Call Connect, then Start.
func NewMQTT(cfg Config, logger *slog.Logger) *MQTT {
	e := newEmitter(cfg, nil, logger)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.logger.Info("mqtt connection established", "broker", cfg.Broker, "client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.logger.Warn("mqtt connection lost, will auto-reconnect", "broker", cfg.Broker, "error", err)
	}

	e.client = mqtt.NewClient(opts)
	return e
}

func newEmitter(cfg Config, client mqtt.Client, logger *slog.Logger) *MQTT {
	if cfg.Topic == "" {
		cfg.Topic = "camhost"
	}
	return &MQTT{
		cfg:    cfg,
		client: client,
		logger: log.Or(logger, "emitter"),
		queue:  make(chan Event, queueSize),
		done:   make(chan struct{}),
	}
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Topic returns the topic detections are published on.
func (e *MQTT) Topic() string {
	return fmt.Sprintf("%s/%s/markers", strings.TrimSuffix(e.cfg.Topic, "/"), e.cfg.Camera)
}

// Connect establishes the broker connection.
func (e *MQTT) Connect(ctx context.Context) error {
	e.logger.Info("connecting to mqtt broker", "broker", e.cfg.Broker)

	token := e.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	return nil
}

// Start launches the publish worker.
func (e *MQTT) Start() {
	e.wg.Add(1)
	go e.run()
}

func (e *MQTT) run() {
	defer e.wg.Done()
	for {
		select {
		case ev := <-e.queue:
			if err := e.publish(ev); err != nil {
				e.errors.Add(1)
				e.logger.Warn("detection publish failed", "error", err)
			}
		case <-e.done:
			return
		}
	}
}

// PublishDetection queues det for publication.
func (e *MQTT) PublishDetection(det marker.Detection) {
	ev := Event{Camera: e.cfg.Camera, Timestamp: time.Now().UnixMilli(), Detection: det}
	select {
	case e.queue <- ev:
	default:
		e.dropped.Add(1)
	}
}

func (e *MQTT) publish(ev Event) error {
	if !e.client.IsConnected() {
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal detection: %w", err)
	}

	token := e.client.Publish(e.Topic(), e.cfg.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}

	e.published.Add(1)
	e.logger.Debug("detection published", "topic", e.Topic(), "markers", ev.Detection.Len(), "size", len(payload))
	return nil
}

// Close stops the worker and disconnects.
func (e *MQTT) Close() error {
	e.closeOnce.Do(func() {
		close(e.done)
		e.wg.Wait()
		if e.client != nil && e.client.IsConnected() {
			e.client.Disconnect(250)
			e.logger.Info("mqtt disconnected")
		}
	})
	return nil
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool   `json:"connected"`
	Topic     string `json:"topic"`
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
	Dropped   uint64 `json:"dropped"`
}

// GetStats returns emitter statistics
func (e *MQTT) GetStats() Stats {
	return Stats{
		Connected: e.client != nil && e.client.IsConnected(),
		Topic:     e.Topic(),
		Published: e.published.Load(),
		Errors:    e.errors.Load(),
		Dropped:   e.dropped.Load(),
	}
}
