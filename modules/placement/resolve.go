package placement

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/meit-swami/jewellery/modules/landmarks"
)

// Euler is a rotation in radians applied in X, Y, Z order.
type Euler struct {
	X, Y, Z float64
}

// Placement is the resolved transform for one frame.
type Placement struct {
	Position mgl64.Vec3
	Rotation Euler
	Scale    float64
}

// Matrix returns translate * rotX * rotY * rotZ * scale.
func (p Placement) Matrix() mgl64.Mat4 {
	return mgl64.Translate3D(p.Position.X(), p.Position.Y(), p.Position.Z()).
		Mul4(mgl64.HomogRotate3DX(p.Rotation.X)).
		Mul4(mgl64.HomogRotate3DY(p.Rotation.Y)).
		Mul4(mgl64.HomogRotate3DZ(p.Rotation.Z)).
		Mul4(mgl64.Scale3D(p.Scale, p.Scale, p.Scale))
}

// rule says which landmark anchors a category and how the model sits on it.
type rule struct {
	source   landmarks.Set
	index    int
	rotation Euler
	scale    float64
	lift     float64 // added to Y after mapping
}

// Landmark indices: hand 8 index fingertip, hand 0 wrist, face 10 top of
// forehead, face 234 ear region, pose 28 ankle.
var rules = map[Category]rule{
	Ring:     {source: landmarks.Hand, index: 8, scale: 0.5},
	Necklace: {source: landmarks.Face, index: 10, scale: 0.8},
	Earring:  {source: landmarks.Face, index: 234, scale: 0.3},
	Bracelet: {source: landmarks.Hand, index: 0, rotation: Euler{X: math.Pi / 2}, scale: 0.6},
	Anklet:   {source: landmarks.Pose, index: 28, rotation: Euler{X: math.Pi / 2}, scale: 0.5},
	Tiara:    {source: landmarks.Face, index: 10, scale: 0.7, lift: 0.3},
}

// Resolve returns the placement for c in lf, or false when c is Unknown,
// lf is nil, the required collection is absent or the anchor index is out
// of range.
func Resolve(c Category, lf *landmarks.Frame) (Placement, bool) {
	r, ok := rules[c]
	if !ok || lf == nil {
		return Placement{}, false
	}

	var points []landmarks.Point
	switch r.source {
	case landmarks.Hand:
		points = lf.Hand
	case landmarks.Face:
		points = lf.Face
	case landmarks.Pose:
		points = lf.Pose
	}
	if points == nil || r.index >= len(points) {
		return Placement{}, false
	}

	pos := ToScene(points[r.index])
	pos[1] += r.lift

	return Placement{Position: pos, Rotation: r.rotation, Scale: r.scale}, true
}

// ToScene maps a normalized landmark into scene coordinates: re-centred to
// [-1,1], Y flipped up, depth scaled toward the viewer.
func ToScene(p landmarks.Point) mgl64.Vec3 {
	return mgl64.Vec3{
		(p.X - 0.5) * 2,
		-(p.Y - 0.5) * 2,
		-p.Z * 2,
	}
}
