// Package render owns the per-session scene, the render surface and the
// frame-driven loop that ties detection, placement and drawing together.
package render

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/meit-swami/jewellery/modules/jewelry"
)

// LightKind distinguishes the scene lights.
type LightKind int

const (
	Ambient LightKind = iota
	Directional
	Point
)

// Light is one scene light. Position is ignored for ambient lights.
type Light struct {
	Kind      LightKind
	Color     mgl64.Vec3
	Intensity float64
	Position  mgl64.Vec3
}

// Camera is a perspective camera looking at the origin from +Z.
type Camera struct {
	FovY     float64 // degrees
	Aspect   float64
	Near     float64
	Far      float64
	Position mgl64.Vec3
}

// View returns the world → camera matrix.
func (c Camera) View() mgl64.Mat4 {
	return mgl64.LookAtV(c.Position, mgl64.Vec3{0, 0, 0}, mgl64.Vec3{0, 1, 0})
}

// Projection returns the camera → clip matrix.
func (c Camera) Projection() mgl64.Mat4 {
	aspect := c.Aspect
	if aspect <= 0 {
		aspect = 1
	}
	return mgl64.Perspective(mgl64.DegToRad(c.FovY), aspect, c.Near, c.Far)
}

// Scene is what one session draws: camera, lights and the model.
type Scene struct {
	Camera Camera
	Lights []Light
	Model  *jewelry.Model
}

// NewScene builds the try-on scene for a video of width x height with the
// camera cameraDistance units in front of the origin.
func NewScene(width, height int, cameraDistance float64) *Scene {
	if cameraDistance <= 0 {
		cameraDistance = 2
	}
	s := &Scene{
		Camera: Camera{
			FovY:     50,
			Near:     0.1,
			Far:      1000,
			Position: mgl64.Vec3{0, 0, cameraDistance},
		},
		Lights: []Light{
			{Kind: Ambient, Color: mgl64.Vec3{1, 1, 1}, Intensity: 0.6},
			{Kind: Directional, Color: mgl64.Vec3{1, 1, 1}, Intensity: 0.8, Position: mgl64.Vec3{5, 5, 5}},
			{Kind: Point, Color: mgl64.Vec3{1, 1, 1}, Intensity: 0.5, Position: mgl64.Vec3{-5, -5, 5}},
		},
	}
	s.SetViewport(width, height)
	return s
}

// SetViewport updates the camera aspect ratio from the video size.
func (s *Scene) SetViewport(width, height int) {
	if width > 0 && height > 0 {
		s.Camera.Aspect = float64(width) / float64(height)
	}
}

// shade returns the light-weighted color of a face with world-space normal n
// and centroid c. Faces are lit from both sides.
func (s *Scene) shade(base, n, c mgl64.Vec3) mgl64.Vec3 {
	var light mgl64.Vec3
	for _, l := range s.Lights {
		var k float64
		switch l.Kind {
		case Ambient:
			k = l.Intensity
		case Directional:
			k = l.Intensity * abs(n.Dot(l.Position.Normalize()))
		case Point:
			k = l.Intensity * abs(n.Dot(l.Position.Sub(c).Normalize()))
		}
		light = light.Add(l.Color.Mul(k))
	}
	return mgl64.Vec3{
		clamp01(base[0] * light[0]),
		clamp01(base[1] * light[1]),
		clamp01(base[2] * light[2]),
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func clamp01(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}
