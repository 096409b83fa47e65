package internal

import "time"

// idleThreshold marks a consumer idle when it has not read for this long.
const idleThreshold = 30 * time.Second

// Stats returns a snapshot of supplier and consumer counters.
func (s *supplier) Stats() SupplierStats {
	consumers := make(map[string]ConsumerStats)

	s.slots.Range(func(key, value any) bool {
		id := key.(string)
		r := value.(*Reader)

		r.mu.Lock()
		consumers[id] = ConsumerStats{
			ConsumerID:       id,
			LastConsumedAt:   r.lastConsumedAt,
			LastConsumedSeq:  r.lastConsumedSeq,
			ConsecutiveDrops: r.consecutiveDrops,
			TotalDrops:       r.totalDrops,
			IsIdle:           time.Since(r.lastConsumedAt) > idleThreshold,
		}
		r.mu.Unlock()
		return true
	})

	return SupplierStats{
		InboxDrops: s.inboxDrops.Load(),
		Published:  s.publishSeq.Load(),
		Consumers:  consumers,
	}
}
