package render

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/meit-swami/jewellery/modules/framesupplier"
	"github.com/meit-swami/jewellery/modules/jewelry"
	"github.com/meit-swami/jewellery/modules/landmarks"
	"github.com/meit-swami/jewellery/modules/placement"
)

// ErrSourceEnded is returned by Run when the frame source closed while the
// session was still alive.
var ErrSourceEnded = errors.New("render: frame source ended")

// LoopConfig wires one session's render loop.
type LoopConfig struct {
	SessionID string
	Category  placement.Category
	Frames    *framesupplier.Reader
	Detector  landmarks.Detector
	Model     *jewelry.Model
	Scene     *Scene
	Surface   Surface

	// DetectTimeout bounds one detector call inside a tick.
	DetectTimeout time.Duration
}

// TickResult reports what one tick did.
type TickResult struct {
	Seq       uint64
	NewFrame  bool
	Ended     bool
	Visible   bool
	Placement placement.Placement
	DetectErr error
	DrawErr   error
}

// LoopStats is a snapshot of loop counters.
type LoopStats struct {
	Ticks          uint64  `json:"ticks"`
	NewFrames      uint64  `json:"new_frames"`
	Placed         uint64  `json:"placed"`
	Hidden         uint64  `json:"hidden"`
	DetectorErrors uint64  `json:"detector_errors"`
	DrawErrors     uint64  `json:"draw_errors"`
	LastSeq        uint64  `json:"last_seq"`
	FPS            float64 `json:"fps"`
}

// Loop runs detection, placement and drawing once per tick.
//
// Tick is not safe for concurrent use; Run calls it from a single goroutine.
type Loop struct {
	cfg LoopConfig

	mu        sync.Mutex
	stats     LoopStats
	startedAt time.Time
	last      *framesupplier.Frame
}

// NewLoop returns a loop for cfg. A zero DetectTimeout means 200ms.
func NewLoop(cfg LoopConfig) *Loop {
	if cfg.DetectTimeout <= 0 {
		cfg.DetectTimeout = 200 * time.Millisecond
	}
	return &Loop{cfg: cfg}
}

// Tick performs one pass:
//  1. Take the latest frame without blocking
//  2. Detect landmarks only when the frame is new
//  3. Resolve placement: apply and show, or hide
//  4. Draw
//
// A detector error counts as no detection for this frame. Once the frame
// source has closed the model is hidden and Ended is set.
func (l *Loop) Tick(ctx context.Context) TickResult {
	var res TickResult

	frame := l.cfg.Frames.TryRead()
	switch {
	case frame != nil:
		res.NewFrame = true
		res.Seq = frame.Seq
		res.Visible, res.Placement, res.DetectErr = l.update(ctx, frame)
	case l.cfg.Frames.Closed():
		l.cfg.Model.Hide()
		res.Ended = true
	default:
		res.Visible = l.cfg.Model.Visible()
	}

	res.DrawErr = l.cfg.Surface.Draw(l.cfg.Scene)

	l.mu.Lock()
	l.stats.Ticks++
	if res.NewFrame {
		l.last = frame
		l.stats.NewFrames++
		l.stats.LastSeq = res.Seq
		if res.Visible {
			l.stats.Placed++
		} else {
			l.stats.Hidden++
		}
	}
	if res.DetectErr != nil {
		l.stats.DetectorErrors++
	}
	if res.DrawErr != nil {
		l.stats.DrawErrors++
	}
	l.mu.Unlock()

	return res
}

// update detects on frame and sets the model transform or hides it.
func (l *Loop) update(ctx context.Context, frame *framesupplier.Frame) (bool, placement.Placement, error) {
	dctx, cancel := context.WithTimeout(ctx, l.cfg.DetectTimeout)
	lf, err := l.cfg.Detector.Detect(dctx, frame)
	cancel()

	if err != nil {
		l.cfg.Model.Hide()
		slog.Debug("render: detection failed",
			"session_id", l.cfg.SessionID,
			"frame_seq", frame.Seq,
			"trace_id", frame.TraceID,
			"error", err,
		)
		return false, placement.Placement{}, err
	}

	p, ok := placement.Resolve(l.cfg.Category, lf)
	if !ok {
		l.cfg.Model.Hide()
		return false, placement.Placement{}, nil
	}
	l.cfg.Model.SetPlacement(p)
	return true, p, nil
}

// Run ticks every interval until ctx is done or alive reports false, which
// return nil, or until the frame source ends, which returns ErrSourceEnded
// after a final tick has cleared the overlay.
// A tick that overruns the interval causes the missed ticks to be dropped.
func (l *Loop) Run(ctx context.Context, interval time.Duration, alive func() bool) error {
	if interval <= 0 {
		interval = time.Second / 30
	}

	l.mu.Lock()
	l.startedAt = time.Now()
	l.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("render: loop started",
		"session_id", l.cfg.SessionID,
		"category", l.cfg.Category.String(),
		"interval", interval,
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("render: loop stopped", "session_id", l.cfg.SessionID, "reason", ctx.Err())
			return nil
		case <-ticker.C:
			if !alive() {
				slog.Info("render: loop stopped", "session_id", l.cfg.SessionID, "reason", "session closing")
				return nil
			}
			res := l.Tick(ctx)
			if res.DrawErr != nil {
				slog.Warn("render: draw failed", "session_id", l.cfg.SessionID, "error", res.DrawErr)
			}
			if res.Ended {
				slog.Warn("render: loop stopped", "session_id", l.cfg.SessionID, "reason", "frame source ended")
				return ErrSourceEnded
			}
		}
	}
}

// LastFrame returns the most recent frame the loop processed, or nil.
func (l *Loop) LastFrame() *framesupplier.Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// Stats returns a snapshot of loop counters.
func (l *Loop) Stats() LoopStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stats
	if !l.startedAt.IsZero() {
		if elapsed := time.Since(l.startedAt).Seconds(); elapsed > 0 {
			s.FPS = float64(s.Ticks) / elapsed
		}
	}
	return s
}
