package cameracapture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meit-swami/jewellery/modules/camera-capture/internal/warmup"
)

// playbackFrames is how many frames AwaitPlayback samples before
// declaring the stream playing.
const playbackFrames = 3

// ErrNoFrames is returned by AwaitPlayback when the camera opened but
// produced no frames in time.
var ErrNoFrames = warmup.ErrNoFrames

// AwaitPlayback blocks until the stream delivers frames, so downstream
// initialization starts against a playing video sink. The frames it
// consumes are discarded.
func AwaitPlayback(ctx context.Context, stream Stream, timeout time.Duration) (*PlaybackStats, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	stats, err := warmup.Await(ctx, stream.Frames(), playbackFrames, timeout)
	if err != nil {
		return nil, fmt.Errorf("camera-capture: playback: %w", err)
	}

	slog.Info("camera-capture: playback started",
		"frames", stats.FramesReceived,
		"first_frame", stats.FirstFrame,
		"fps_mean", fmt.Sprintf("%.1f", stats.FPSMean),
		"stable", stats.IsStable,
	)
	return stats, nil
}
