package internal

import "time"

// SupplierStats is a snapshot of supplier operational state.
type SupplierStats struct {
	// InboxDrops counts frames overwritten before the distribution loop took them.
	InboxDrops uint64

	// Published counts frames handed to consumers.
	Published uint64

	// Consumers maps consumerID to per-consumer statistics.
	Consumers map[string]ConsumerStats
}

// ConsumerStats tracks per-consumer mailbox state.
type ConsumerStats struct {
	ConsumerID string

	LastConsumedAt  time.Time
	LastConsumedSeq uint64

	// ConsecutiveDrops resets to 0 on every successful read.
	ConsecutiveDrops uint64
	TotalDrops       uint64

	// IsIdle reports no read for longer than idleThreshold.
	IsIdle bool
}
