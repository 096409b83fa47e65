// Package landmarks defines the landmark detection capability consumed by
// the render loop, plus its implementations.
//
// A Provider initializes only the detectors a jewelry category needs and
// returns a Detector that turns one camera frame into a Frame of
// normalized anatomical points.
package landmarks

import (
	"context"
	"errors"
	"strings"

	"github.com/meit-swami/jewellery/modules/framesupplier"
)

// Collection sizes produced by the detectors.
const (
	HandPoints = 21
	FacePoints = 468
	PosePoints = 33
)

var (
	// ErrClosed is returned by Detect after Close.
	ErrClosed = errors.New("landmarks: detector closed")

	// ErrInit wraps every detector initialization failure.
	ErrInit = errors.New("landmarks: detector initialization failed")
)

// Point is a normalized landmark: X and Y in [0,1] of the frame, Z a
// relative depth.
type Point struct {
	X, Y, Z float64
}

// Frame holds the landmark collections detected in one camera frame.
// A nil collection means the detector did not produce it this frame.
type Frame struct {
	Seq     uint64
	TraceID string

	Hand []Point
	Face []Point
	Pose []Point
}

// Set is a bitmask of landmark collections.
type Set uint8

const (
	Hand Set = 1 << iota
	Face
	Pose
)

// Has reports whether every collection in other is in s.
func (s Set) Has(other Set) bool {
	return s&other == other
}

// Empty reports whether no collection is requested.
func (s Set) Empty() bool {
	return s == 0
}

// Names returns the collection names in s, in hand, face, pose order.
func (s Set) Names() []string {
	var names []string
	if s.Has(Hand) {
		names = append(names, "hand")
	}
	if s.Has(Face) {
		names = append(names, "face")
	}
	if s.Has(Pose) {
		names = append(names, "pose")
	}
	return names
}

func (s Set) String() string {
	if s.Empty() {
		return "none"
	}
	return strings.Join(s.Names(), "+")
}

// Provider initializes detectors.
type Provider interface {
	// Open initializes the detectors for need. Failures wrap ErrInit.
	Open(ctx context.Context, need Set) (Detector, error)
}

// Detector produces landmarks for one frame at a time. Detect is called
// from a single goroutine. Close is idempotent.
type Detector interface {
	Detect(ctx context.Context, frame *framesupplier.Frame) (*Frame, error)
	Close() error
}

// Nop returns a detector that never detects anything. Used when a
// category has no landmark requirement.
func Nop() Detector {
	return nopDetector{}
}

type nopDetector struct{}

func (nopDetector) Detect(_ context.Context, frame *framesupplier.Frame) (*Frame, error) {
	return &Frame{Seq: frame.Seq, TraceID: frame.TraceID}, nil
}

func (nopDetector) Close() error { return nil }
