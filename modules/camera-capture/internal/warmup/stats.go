// Package warmup measures frame arrival while a camera starts playing.
package warmup

import (
	"math"
	"time"
)

const (
	// fpsStabilityThreshold: stable when FPS stddev < 15% of mean FPS.
	fpsStabilityThreshold = 0.15

	// jitterStabilityThreshold: stable when mean jitter < 20% of the expected interval.
	jitterStabilityThreshold = 0.20
)

// Stats summarizes frame arrival during playback start.
type Stats struct {
	FramesReceived int           `json:"frames_received"`
	Duration       time.Duration `json:"duration"`
	FirstFrame     time.Duration `json:"first_frame"` // time to first frame
	FPSMean        float64       `json:"fps_mean"`
	FPSStdDev      float64       `json:"fps_stddev"`
	FPSMin         float64       `json:"fps_min"`
	FPSMax         float64       `json:"fps_max"`
	IsStable       bool          `json:"is_stable"`
	JitterMean     float64       `json:"jitter_mean"` // seconds
	JitterMax      float64       `json:"jitter_max"`  // seconds
}

// CalculateFPSStats derives FPS and jitter statistics from frame arrival
// times observed over totalDuration.
//
// A stream is stable when the instantaneous FPS stddev is under 15% of the
// mean and the mean jitter is under 20% of the expected interval.
// Fewer than two frames never count as stable.
func CalculateFPSStats(frameTimes []time.Time, totalDuration time.Duration) *Stats {
	n := len(frameTimes)
	stats := &Stats{FramesReceived: n, Duration: totalDuration}
	if n == 0 || totalDuration <= 0 {
		return stats
	}

	stats.FPSMean = float64(n) / totalDuration.Seconds()

	instantaneous := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		if interval := frameTimes[i].Sub(frameTimes[i-1]).Seconds(); interval > 0 {
			instantaneous = append(instantaneous, 1.0/interval)
		}
	}
	if len(instantaneous) == 0 {
		return stats
	}

	stats.FPSMin, stats.FPSMax = instantaneous[0], instantaneous[0]
	var sumSquares float64
	for _, fps := range instantaneous {
		stats.FPSMin = min(stats.FPSMin, fps)
		stats.FPSMax = max(stats.FPSMax, fps)
		diff := fps - stats.FPSMean
		sumSquares += diff * diff
	}
	stats.FPSStdDev = math.Sqrt(sumSquares / float64(len(instantaneous)))

	expected := 1.0 / stats.FPSMean
	var jitterSum float64
	for i := 1; i < n; i++ {
		jitter := math.Abs(frameTimes[i].Sub(frameTimes[i-1]).Seconds() - expected)
		jitterSum += jitter
		stats.JitterMax = max(stats.JitterMax, jitter)
	}
	stats.JitterMean = jitterSum / float64(n-1)

	fpsStable := stats.FPSStdDev < stats.FPSMean*fpsStabilityThreshold
	jitterStable := stats.JitterMean < expected*jitterStabilityThreshold
	stats.IsStable = fpsStable && jitterStable
	return stats
}
