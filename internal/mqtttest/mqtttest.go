// Package mqtttest provides an in-memory mqtt.Client for emitter and
// control plane tests. Subscriptions are exact-topic; no broker is involved.
package mqtttest

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Published is one message handed to Client.Publish.
type Published struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// Client records publishes and lets tests deliver inbound messages.
type Client struct {
	mu         sync.Mutex
	connected  bool
	handlers   map[string]mqtt.MessageHandler
	published  []Published
	publishErr error
	notify     chan struct{}
}

var _ mqtt.Client = (*Client)(nil)

// NewClient returns a connected client.
func NewClient() *Client {
	return &Client{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
		notify:    make(chan struct{}, 1),
	}
}

// SetConnected flips the connection flag.
func (c *Client) SetConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// FailPublishes makes every later Publish token carry err.
func (c *Client) FailPublishes(err error) {
	c.mu.Lock()
	c.publishErr = err
	c.mu.Unlock()
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) IsConnectionOpen() bool { return c.IsConnected() }

func (c *Client) Connect() mqtt.Token {
	c.SetConnected(true)
	return done(nil)
}

func (c *Client) Disconnect(uint) { c.SetConnected(false) }

func (c *Client) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = append([]byte(nil), p...)
	case string:
		data = []byte(p)
	}

	c.mu.Lock()
	err := c.publishErr
	if err == nil {
		c.published = append(c.published, Published{Topic: topic, QoS: qos, Retained: retained, Payload: data})
	}
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return done(err)
}

func (c *Client) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	c.handlers[topic] = callback
	c.mu.Unlock()
	return done(nil)
}

func (c *Client) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	for topic, qos := range filters {
		c.Subscribe(topic, qos, callback)
	}
	return done(nil)
}

func (c *Client) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	for _, topic := range topics {
		delete(c.handlers, topic)
	}
	c.mu.Unlock()
	return done(nil)
}

func (c *Client) AddRoute(topic string, callback mqtt.MessageHandler) {
	c.Subscribe(topic, 0, callback)
}

func (c *Client) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

// Subscribed reports whether a handler is registered for topic.
func (c *Client) Subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[topic]
	return ok
}

// Deliver invokes the handler subscribed to topic. It returns false when
// nothing is subscribed.
func (c *Client) Deliver(topic string, payload []byte) bool {
	c.mu.Lock()
	h, ok := c.handlers[topic]
	c.mu.Unlock()
	if !ok {
		return false
	}
	h(c, &message{topic: topic, payload: payload})
	return true
}

// Published returns a copy of every recorded publish.
func (c *Client) Published() []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Published(nil), c.published...)
}

// WaitPublished blocks until at least n messages were published or the
// timeout expires, and returns what was recorded.
func (c *Client) WaitPublished(n int, timeout time.Duration) []Published {
	deadline := time.After(timeout)
	for {
		if got := c.Published(); len(got) >= n {
			return got
		}
		select {
		case <-c.notify:
		case <-deadline:
			return c.Published()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

type token struct {
	err  error
	done chan struct{}
}

func done(err error) *token {
	t := &token{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *token) Wait() bool                     { return true }
func (t *token) WaitTimeout(time.Duration) bool { return true }
func (t *token) Done() <-chan struct{}          { return t.done }
func (t *token) Error() error                   { return t.err }

type message struct {
	topic   string
	payload []byte
}

func (m *message) Duplicate() bool   { return false }
func (m *message) Qos() byte         { return 0 }
func (m *message) Retained() bool    { return false }
func (m *message) Topic() string     { return m.topic }
func (m *message) MessageID() uint16 { return 0 }
func (m *message) Payload() []byte   { return m.payload }
func (m *message) Ack()              {}
