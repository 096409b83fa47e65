// Package eventbus fans session lifecycle events out to observers.
//
// Observers (the MQTT emitter, websocket clients) register a buffered
// channel. Publish never blocks: when an observer's channel is full the
// event is dropped for that observer and counted. A slow observer can
// miss intermediate events but never stalls a session.
//
// Basic usage:
//
//	bus := eventbus.New()
//	defer bus.Close()
//
//	ch := make(chan eventbus.Event, 16)
//	bus.Subscribe("mqtt", ch)
//
//	bus.Publish(eventbus.Event{SessionID: id, State: "ready"})
package eventbus

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Event is one session state change.
type Event struct {
	SessionID string    `json:"session_id"`
	ViewerID  string    `json:"viewer_id"`
	Category  string    `json:"category"`
	State     string    `json:"state"`
	Phase     string    `json:"phase,omitempty"`
	Message   string    `json:"message,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Attempt   int       `json:"attempt"`
	Time      time.Time `json:"time"`
}

// Bus distributes events to subscribers with a drop policy.
type Bus interface {
	// Subscribe registers a channel to receive events.
	// Returns an error if id already exists or the bus is closed.
	Subscribe(id string, ch chan<- Event) error

	// Unsubscribe removes a subscriber by id.
	Unsubscribe(id string) error

	// Publish sends e to every subscriber without blocking.
	// Publishing on a closed bus is a no-op.
	Publish(e Event)

	// Stats returns a statistics snapshot.
	Stats() Stats

	// Close stops delivery. Idempotent. Subscriber channels are not
	// closed: their owners do that.
	Close() error
}

var (
	// ErrSubscriberExists is returned when Subscribe is called with a duplicate id.
	ErrSubscriberExists = errors.New("eventbus: subscriber id already exists")

	// ErrSubscriberNotFound is returned when Unsubscribe is called with an unknown id.
	ErrSubscriberNotFound = errors.New("eventbus: subscriber id not found")

	// ErrBusClosed is returned by Subscribe/Unsubscribe after Close.
	ErrBusClosed = errors.New("eventbus: bus is closed")
)

// Stats holds bus counters.
type Stats struct {
	TotalPublished uint64                     `json:"total_published"`
	TotalSent      uint64                     `json:"total_sent"`
	TotalDropped   uint64                     `json:"total_dropped"`
	Subscribers    map[string]SubscriberStats `json:"subscribers"`
}

// SubscriberStats holds per-subscriber counters.
type SubscriberStats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

// DropRate returns dropped/(sent+dropped) in [0,1], or 0 with no traffic.
func (s Stats) DropRate() float64 {
	total := s.TotalSent + s.TotalDropped
	if total == 0 {
		return 0
	}
	return float64(s.TotalDropped) / float64(total)
}

type subscriber struct {
	ch      chan<- Event
	sent    atomic.Uint64
	dropped atomic.Uint64
}

type bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	closed      bool

	totalPublished atomic.Uint64
}

// New creates an open bus.
func New() Bus {
	return &bus{subscribers: make(map[string]*subscriber)}
}

func (b *bus) Subscribe(id string, ch chan<- Event) error {
	if ch == nil {
		return errors.New("eventbus: subscriber channel cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}
	b.subscribers[id] = &subscriber{ch: ch}
	return nil
}

func (b *bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; !exists {
		return ErrSubscriberNotFound
	}
	delete(b.subscribers, id)
	return nil
}

func (b *bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.totalPublished.Add(1)

	for _, sub := range b.subscribers {
		select {
		case sub.ch <- e:
			sub.sent.Add(1)
		default:
			sub.dropped.Add(1)
		}
	}
}

func (b *bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := Stats{
		TotalPublished: b.totalPublished.Load(),
		Subscribers:    make(map[string]SubscriberStats, len(b.subscribers)),
	}
	for id, sub := range b.subscribers {
		s := SubscriberStats{Sent: sub.sent.Load(), Dropped: sub.dropped.Load()}
		result.TotalSent += s.Sent
		result.TotalDropped += s.Dropped
		result.Subscribers[id] = s
	}
	return result
}

func (b *bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	clear(b.subscribers)
	return nil
}
