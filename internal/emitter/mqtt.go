// Package emitter publishes session lifecycle events to an MQTT broker.
package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/meit-swami/jewellery/internal/config"
	"github.com/meit-swami/jewellery/modules/eventbus"
)

const subscriberID = "mqtt-emitter"

// ErrNotConnected is returned when publishing without a broker connection.
var ErrNotConnected = errors.New("emitter: mqtt not connected")

// MQTTEmitter publishes session events as JSON on the state topic.
type MQTTEmitter struct {
	instanceID string
	cfg        config.MQTTConfig
	Client     mqtt.Client // Exported for the control plane

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
}

// NewMQTTEmitter creates an emitter. Call Connect, or set Client to an
// already connected client.
func NewMQTTEmitter(instanceID string, cfg config.MQTTConfig) *MQTTEmitter {
	return &MQTTEmitter{
		instanceID: instanceID,
		cfg:        cfg,
		published:  make(map[string]uint64),
	}
}

// Connect establishes the broker connection with automatic reconnection.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.Broker))
	opts.SetClientID(e.instanceID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		slog.Info("emitter: mqtt connection established",
			"broker", e.cfg.Broker,
			"client_id", e.instanceID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		slog.Warn("emitter: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.Broker)
	}

	e.Client = mqtt.NewClient(opts)

	slog.Info("emitter: connecting to mqtt broker", "broker", e.cfg.Broker)

	token := e.Client.Connect()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return fmt.Errorf("emitter: mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("emitter: mqtt connection failed: %w", err)
	}
	return nil
}

// Run forwards bus events to the state topic until ctx is done.
func (e *MQTTEmitter) Run(ctx context.Context, bus eventbus.Bus) error {
	events := make(chan eventbus.Event, 64)
	if err := bus.Subscribe(subscriberID, events); err != nil {
		return fmt.Errorf("emitter: subscribe: %w", err)
	}
	defer func() {
		if err := bus.Unsubscribe(subscriberID); err != nil && !errors.Is(err, eventbus.ErrBusClosed) {
			slog.Warn("emitter: unsubscribe failed", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			if err := e.PublishEvent(ev); err != nil {
				slog.Debug("emitter: event not published",
					"session_id", ev.SessionID,
					"state", ev.State,
					"error", err)
			}
		}
	}
}

// PublishEvent publishes one event on the state topic.
func (e *MQTTEmitter) PublishEvent(ev eventbus.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		e.countError()
		return fmt.Errorf("emitter: marshal event: %w", err)
	}
	return e.publish(e.cfg.Topics.State, payload)
}

// PublishStatus publishes a raw payload on the status topic.
func (e *MQTTEmitter) PublishStatus(payload []byte) error {
	return e.publish(e.cfg.Topics.Status, payload)
}

func (e *MQTTEmitter) publish(topic string, payload []byte) error {
	if !e.IsConnected() {
		e.countError()
		return ErrNotConnected
	}

	token := e.Client.Publish(topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return fmt.Errorf("emitter: publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("emitter: publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	slog.Debug("emitter: published", "topic", topic, "size", len(payload))
	return nil
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}

// IsConnected reports the broker connection state.
func (e *MQTTEmitter) IsConnected() bool {
	return e.Client != nil && e.Client.IsConnected()
}

// Disconnect closes the MQTT connection.
func (e *MQTTEmitter) Disconnect() {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250)
		slog.Info("emitter: mqtt disconnected")
	}
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

// Stats returns emitter statistics.
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{
		Connected: e.IsConnected(),
		Published: published,
		Errors:    e.errors,
	}
}
