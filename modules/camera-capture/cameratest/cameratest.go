// Package cameratest provides in-memory camera streams and openers for
// tests that must not touch real hardware.
package cameratest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	cameracapture "github.com/meit-swami/jewellery/modules/camera-capture"
)

// Stream is an in-memory cameracapture.Stream.
type Stream struct {
	width, height int

	mu      sync.Mutex
	frames  chan cameracapture.Frame
	stopped bool
	seq     uint64

	stops  atomic.Int32
	pushed atomic.Uint64
}

// NewStream returns a stream of the given size with a small buffer.
func NewStream(width, height int) *Stream {
	return &Stream{
		width:  width,
		height: height,
		frames: make(chan cameracapture.Frame, 8),
	}
}

// Push sends one black frame without blocking. It reports false when
// the stream is stopped or the buffer is full.
func (s *Stream) Push() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.seq++
	f := cameracapture.Frame{
		Seq:       s.seq,
		Timestamp: time.Now(),
		Width:     s.width,
		Height:    s.height,
		Data:      make([]byte, s.width*s.height*3),
	}
	select {
	case s.frames <- f:
		s.pushed.Add(1)
		return true
	default:
		return false
	}
}

// Feed pushes a frame every interval until ctx is done or the stream stops.
func (s *Stream) Feed(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if s.Stopped() {
				return
			}
			s.Push()
		}
	}
}

func (s *Stream) Frames() <-chan cameracapture.Frame { return s.frames }

func (s *Stream) Dimensions() (int, int) { return s.width, s.height }

// Stop closes the frame channel once and counts every call.
func (s *Stream) Stop() error {
	s.stops.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.frames)
	}
	return nil
}

// Stopped reports whether Stop was called.
func (s *Stream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// StopCalls returns how many times Stop was called.
func (s *Stream) StopCalls() int { return int(s.stops.Load()) }

func (s *Stream) Stats() cameracapture.StreamStats {
	return cameracapture.StreamStats{
		FrameCount: s.pushed.Load(),
		Device:     "cameratest",
		IsPlaying:  !s.Stopped(),
	}
}

// Step is one scripted Opener result. A nil Err opens a stream.
type Step struct {
	Err error
}

// Opener replays Steps in order; once exhausted it repeats the last one.
// Opened streams are prefilled with Prefill frames.
type Opener struct {
	Width, Height int
	Prefill       int

	mu      sync.Mutex
	steps   []Step
	calls   []cameracapture.Constraints
	streams []*Stream
}

// NewOpener returns an Opener that succeeds on every call.
func NewOpener(width, height int) *Opener {
	return &Opener{Width: width, Height: height, Prefill: 3}
}

// Script replaces the remaining steps.
func (o *Opener) Script(steps ...Step) *Opener {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.steps = steps
	return o
}

func (o *Opener) Open(ctx context.Context, c cameracapture.Constraints) (cameracapture.Stream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.calls = append(o.calls, c)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var step Step
	switch {
	case len(o.steps) > 1:
		step, o.steps = o.steps[0], o.steps[1:]
	case len(o.steps) == 1:
		step = o.steps[0]
	}
	if step.Err != nil {
		return nil, step.Err
	}

	s := NewStream(o.Width, o.Height)
	for range o.Prefill {
		s.Push()
	}
	o.streams = append(o.streams, s)
	return s, nil
}

// Calls returns the constraints of every Open call so far.
func (o *Opener) Calls() []cameracapture.Constraints {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]cameracapture.Constraints(nil), o.calls...)
}

// Streams returns every stream opened so far.
func (o *Opener) Streams() []*Stream {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Stream(nil), o.streams...)
}

// LiveStreams counts opened streams that were never stopped.
func (o *Opener) LiveStreams() int {
	n := 0
	for _, s := range o.Streams() {
		if !s.Stopped() {
			n++
		}
	}
	return n
}
