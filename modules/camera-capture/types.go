package cameracapture

import (
	"fmt"

	"github.com/meit-swami/jewellery/modules/camera-capture/internal/warmup"
	"github.com/meit-swami/jewellery/modules/framesupplier"
)

// Frame is one captured RGB image. Seq here is the capture sequence;
// the frame supplier renumbers frames on distribution.
type Frame = framesupplier.Frame

// PlaybackStats summarizes frame arrival while waiting for playback.
type PlaybackStats = warmup.Stats

// Facing selects which way the camera points.
type Facing int

const (
	// FacingAny accepts any camera.
	FacingAny Facing = iota
	// FacingUser is the front (selfie) camera.
	FacingUser
	// FacingEnvironment is the rear camera.
	FacingEnvironment
)

// String returns the getUserMedia facingMode name.
func (f Facing) String() string {
	switch f {
	case FacingUser:
		return "user"
	case FacingEnvironment:
		return "environment"
	default:
		return "any"
	}
}

// Constraints describes one acquisition attempt.
// Zero IdealWidth/IdealHeight leave the resolution unconstrained.
type Constraints struct {
	Facing      Facing
	IdealWidth  int
	IdealHeight int
}

// Unconstrained reports whether c places no requirement on the device.
func (c Constraints) Unconstrained() bool {
	return c.Facing == FacingAny && c.IdealWidth == 0 && c.IdealHeight == 0
}

// String renders c for logs, e.g. "user 1280x720" or "any".
func (c Constraints) String() string {
	if c.IdealWidth == 0 || c.IdealHeight == 0 {
		return c.Facing.String()
	}
	return fmt.Sprintf("%s %dx%d", c.Facing, c.IdealWidth, c.IdealHeight)
}

// Environment describes the runtime requesting the camera.
type Environment struct {
	// APIAvailable is false when no capture backend exists on this host.
	APIAvailable bool

	// Origin is the origin of the requesting viewer, e.g. "https://shop.example".
	// Empty means an in-process caller.
	Origin string
}

// StreamStats contains current capture statistics.
type StreamStats struct {
	FrameCount    uint64  `json:"frame_count"`
	FramesDropped uint64  `json:"frames_dropped"`
	DropRate      float64 `json:"drop_rate"`
	FPSReal       float64 `json:"fps_real"`
	LatencyMS     int64   `json:"latency_ms"`
	Device        string  `json:"device"`
	Resolution    string  `json:"resolution"`
	BytesRead     uint64  `json:"bytes_read"`
	IsPlaying     bool    `json:"is_playing"`
}
