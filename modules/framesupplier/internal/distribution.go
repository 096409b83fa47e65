package internal

// distribute assigns the next sequence number and fans the frame out to
// every registered slot.
//
// Sessions hold one or two consumers, so fan-out is sequential. Each slot
// publish is a lock, a pointer swap and a signal.
func (s *supplier) distribute(frame *Frame) {
	frame.Seq = s.publishSeq.Add(1)

	s.slots.Range(func(_, value any) bool {
		value.(*Reader).publish(frame)
		return true
	})
}
