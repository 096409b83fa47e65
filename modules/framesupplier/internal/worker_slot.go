package internal

import (
	"sync"
	"time"
)

// Reader is a per-consumer single-slot mailbox.
//
// Read and TryRead MUST be called from a single consumer goroutine.
type Reader struct {
	mu    sync.Mutex
	cond  *sync.Cond
	frame *Frame // nil = consumed

	lastConsumedAt   time.Time
	lastConsumedSeq  uint64
	consecutiveDrops uint64
	totalDrops       uint64

	closed bool
}

func newReader() *Reader {
	r := &Reader{lastConsumedAt: time.Now()}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// closedReader returns a reader whose Read returns nil immediately.
func closedReader() *Reader {
	r := newReader()
	r.closed = true
	return r
}

func (r *Reader) publish(frame *Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	if r.frame != nil {
		r.consecutiveDrops++
		r.totalDrops++
	}
	r.frame = frame
	r.cond.Signal()
}

func (r *Reader) close() {
	r.mu.Lock()
	r.closed = true
	r.frame = nil
	r.cond.Broadcast()
	r.mu.Unlock()
}

// Read blocks until a frame is available. Returns nil once the
// subscription is closed.
func (r *Reader) Read() *Frame {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.frame == nil && !r.closed {
		r.cond.Wait()
	}
	if r.closed {
		return nil
	}
	return r.consume()
}

// TryRead returns the unconsumed frame or nil when nothing new arrived
// since the last read. Never blocks.
func (r *Reader) TryRead() *Frame {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.frame == nil {
		return nil
	}
	return r.consume()
}

// Closed reports whether the subscription has ended.
func (r *Reader) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// consume must be called with r.mu held.
func (r *Reader) consume() *Frame {
	frame := r.frame
	r.frame = nil
	r.lastConsumedAt = time.Now()
	r.lastConsumedSeq = frame.Seq
	r.consecutiveDrops = 0
	return frame
}

// Subscribe registers a consumer. A second Subscribe with the same ID
// closes the previous reader.
func (s *supplier) Subscribe(consumerID string) *Reader {
	if s.stopping.Load() {
		return closedReader()
	}

	r := newReader()
	if prev, loaded := s.slots.Swap(consumerID, r); loaded {
		prev.(*Reader).close()
	}
	return r
}

// Unsubscribe closes the consumer's reader and forgets it. Idempotent.
func (s *supplier) Unsubscribe(consumerID string) {
	val, ok := s.slots.LoadAndDelete(consumerID)
	if !ok {
		return
	}
	val.(*Reader).close()
}
