package landmarks

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/meit-swami/jewellery/modules/framesupplier"
)

// Synthetic is a development Provider that produces deterministic points
// without looking at the image:
//
//	x = 0.5 + sin(i)*0.1, y = 0.5 + cos(i)*0.1, z = 0
//
// Only the requested collections are populated.
type Synthetic struct{}

// Open returns a synthetic detector for need.
func (Synthetic) Open(_ context.Context, need Set) (Detector, error) {
	slog.Info("landmarks: synthetic detector ready", "need", need.String())
	return &syntheticDetector{need: need}, nil
}

type syntheticDetector struct {
	need   Set
	closed atomic.Bool
}

func (d *syntheticDetector) Detect(ctx context.Context, frame *framesupplier.Frame) (*Frame, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &Frame{Seq: frame.Seq, TraceID: frame.TraceID}
	if d.need.Has(Hand) {
		out.Hand = syntheticPoints(HandPoints)
	}
	if d.need.Has(Face) {
		out.Face = syntheticPoints(FacePoints)
	}
	if d.need.Has(Pose) {
		out.Pose = syntheticPoints(PosePoints)
	}
	return out, nil
}

func (d *syntheticDetector) Close() error {
	d.closed.Store(true)
	return nil
}

func syntheticPoints(n int) []Point {
	points := make([]Point, n)
	for i := range points {
		points[i] = Point{
			X: 0.5 + math.Sin(float64(i))*0.1,
			Y: 0.5 + math.Cos(float64(i))*0.1,
		}
	}
	return points
}
