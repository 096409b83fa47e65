package internal

// Publish overwrites the inbox slot and wakes the distribution loop.
//
// Never blocks on consumers. A frame published after Stop is dropped.
func (s *supplier) Publish(frame *Frame) {
	if frame == nil || s.stopping.Load() {
		return
	}

	s.inboxMu.Lock()
	if s.inboxFrame != nil {
		s.inboxDrops.Add(1)
	}
	s.inboxFrame = frame
	s.inboxCond.Signal()
	s.inboxMu.Unlock()
}
