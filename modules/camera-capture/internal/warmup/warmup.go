package warmup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meit-swami/jewellery/modules/framesupplier"
)

// ErrNoFrames is returned when the camera produced nothing before the deadline.
var ErrNoFrames = errors.New("warmup: no frames received")

// Await consumes frames until want frames arrived or timeout elapsed.
//
// Playback counts as started once at least one frame arrived; stats are
// computed over whatever was collected. Frames consumed here are not
// forwarded: they are stale by the time rendering starts.
func Await(ctx context.Context, frames <-chan framesupplier.Frame, want int, timeout time.Duration) (*Stats, error) {
	if want < 1 {
		want = 1
	}

	start := time.Now()
	frameTimes := make([]time.Time, 0, want)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

collect:
	for len(frameTimes) < want {
		select {
		case <-waitCtx.Done():
			break collect
		case frame, ok := <-frames:
			if !ok {
				return nil, fmt.Errorf("warmup: stream closed while waiting for playback")
			}
			frameTimes = append(frameTimes, frame.Timestamp)
			slog.Debug("warmup: frame received",
				"seq", frame.Seq,
				"frames_collected", len(frameTimes),
			)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(frameTimes) == 0 {
		return nil, fmt.Errorf("%w within %s", ErrNoFrames, timeout)
	}

	elapsed := time.Since(start)
	stats := CalculateFPSStats(frameTimes, elapsed)
	stats.FirstFrame = frameTimes[0].Sub(start)
	if stats.FirstFrame < 0 {
		stats.FirstFrame = 0
	}
	return stats, nil
}
