// Package internal implements the frame supplier mailboxes.
//
// Clients MUST use the public API in the parent package.
package internal

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrAlreadyStarted is returned by Start on a second call.
var ErrAlreadyStarted = errors.New("framesupplier: already started")

// supplier is the concrete implementation of framesupplier.Supplier.
//
// Goroutine topology:
//   - 1 fixed: distributionLoop (spawned by Start, stopped by Stop)
//   - N external: consumers (not managed by the supplier)
type supplier struct {
	// Inbox mailbox: publisher → distribution loop
	inboxMu    sync.Mutex
	inboxCond  *sync.Cond
	inboxFrame *Frame
	inboxDrops atomic.Uint64

	// Consumer slots: consumerID (string) → *Reader
	slots sync.Map

	publishSeq atomic.Uint64

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopping atomic.Bool

	startedMu sync.Mutex
	started   bool
}

// NewSupplier creates a new supplier instance (called by public New()).
func NewSupplier() *supplier {
	s := &supplier{}
	s.inboxCond = sync.NewCond(&s.inboxMu)
	return s
}

// Start spawns the distribution loop. The loop runs until ctx is done or
// Stop is called.
func (s *supplier) Start(ctx context.Context) error {
	s.startedMu.Lock()
	defer s.startedMu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	s.wg.Add(1)
	go s.distributionLoop()

	// Wake the loop when the parent context is cancelled.
	go func() {
		<-s.ctx.Done()
		s.inboxMu.Lock()
		s.inboxCond.Broadcast()
		s.inboxMu.Unlock()
	}()

	return nil
}

// Stop cancels the loop, waits for it to exit and closes every reader.
func (s *supplier) Stop() error {
	s.startedMu.Lock()
	if !s.started {
		s.startedMu.Unlock()
		return nil
	}
	s.startedMu.Unlock()

	if !s.stopping.CompareAndSwap(false, true) {
		return nil
	}

	s.cancel()

	s.inboxMu.Lock()
	s.inboxCond.Broadcast()
	s.inboxMu.Unlock()

	s.wg.Wait()

	s.slots.Range(func(key, value any) bool {
		value.(*Reader).close()
		s.slots.Delete(key)
		return true
	})

	return nil
}

// distributionLoop consumes the inbox and fans out to consumer slots.
func (s *supplier) distributionLoop() {
	defer s.wg.Done()

	for {
		s.inboxMu.Lock()
		for s.inboxFrame == nil {
			if s.ctx.Err() != nil {
				s.inboxMu.Unlock()
				return
			}
			s.inboxCond.Wait()
		}
		if s.ctx.Err() != nil {
			s.inboxMu.Unlock()
			return
		}

		frame := s.inboxFrame
		s.inboxFrame = nil
		s.inboxMu.Unlock()

		s.distribute(frame)
	}
}
