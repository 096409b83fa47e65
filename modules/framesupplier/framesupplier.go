// Package framesupplier hands the latest camera frame to the render loop
// and any other consumer with mailbox semantics.
//
// Philosophy: "Drop frames, never queue. Latency > Completeness."
//
// Design:
//   - Non-blocking Publish() from the capture callback
//   - Per-consumer single-slot mailbox (overwrite on publish)
//   - Blocking Read() for worker goroutines, non-blocking TryRead() for ticks
//   - Zero-copy frame sharing (immutability contract)
package framesupplier

import (
	"context"

	"github.com/meit-swami/jewellery/modules/framesupplier/internal"
)

// Frame is re-exported from internal package to avoid import cycles.
type Frame = internal.Frame

// Reader is the consumer side of a subscription.
type Reader = internal.Reader

// SupplierStats is re-exported from internal package.
type SupplierStats = internal.SupplierStats

// ConsumerStats is re-exported from internal package.
type ConsumerStats = internal.ConsumerStats

// Supplier is the public interface for frame distribution.
//
// Lifecycle: New() → Start() → Publish()/Subscribe() → Stop()
// All methods are safe for concurrent use.
type Supplier interface {
	// Start begins the distribution loop and returns immediately.
	// Returns an error if already started.
	Start(ctx context.Context) error

	// Stop shuts down the distribution loop and closes every reader.
	// Blocks until the loop exits. Idempotent.
	Stop() error

	// Publish hands a frame to the distribution loop (non-blocking).
	//
	// A new frame replaces an undistributed one and increments InboxDrops.
	// frame MUST NOT be nil and frame.Data MUST NOT be modified afterwards.
	Publish(frame *Frame)

	// Subscribe registers a consumer and returns its mailbox reader.
	//
	// Example (worker goroutine):
	//   r := supplier.Subscribe("detector")
	//   defer supplier.Unsubscribe("detector")
	//   for {
	//       frame := r.Read()  // Blocks here
	//       if frame == nil { break }
	//       process(frame)
	//   }
	//
	// Example (render tick):
	//   if frame := r.TryRead(); frame != nil { detect(frame) }
	Subscribe(consumerID string) *Reader

	// Unsubscribe removes a consumer and wakes a blocked Read with nil.
	// Safe to call for unknown IDs.
	Unsubscribe(consumerID string)

	// Stats returns a snapshot of operational statistics.
	Stats() SupplierStats
}

// New creates a new Supplier instance.
func New() Supplier {
	return internal.NewSupplier()
}
