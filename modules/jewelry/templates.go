package jewelry

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/meit-swami/jewellery/modules/placement"
)

const (
	torusRadialSegments  = 16
	torusTubularSegments = 100
	sphereSegments       = 16
	necklaceDivisions    = 50
)

var necklaceControlPoints = []mgl64.Vec3{
	{-0.4, 0, 0},
	{-0.2, -0.1, 0},
	{0, -0.15, 0},
	{0.2, -0.1, 0},
	{0.4, 0, 0},
}

// TemplateMeshes generates the primitive shape for c. Unknown yields no meshes.
func TemplateMeshes(c placement.Category) []*Mesh {
	switch c {
	case placement.Ring:
		return []*Mesh{torusMesh("ring", 0.3, 0.05, mgl64.Ident4())}
	case placement.Necklace:
		points := CatmullRom(necklaceControlPoints, necklaceDivisions)
		indices := make([]uint32, len(points))
		for i := range indices {
			indices[i] = uint32(i)
		}
		return []*Mesh{{
			Name:      "necklace",
			Primitive: LineStrip,
			Positions: points,
			Indices:   indices,
			Local:     mgl64.Ident4(),
			Material:  &Material{Color: HexColor(0xd4af37)},
		}}
	case placement.Earring:
		gold := Gold()
		topPos, topIdx := Sphere(0.03, sphereSegments, sphereSegments)
		dropPos, dropIdx := Sphere(0.05, sphereSegments, sphereSegments)
		return []*Mesh{
			{Name: "earring-top", Positions: topPos, Indices: topIdx, Local: mgl64.Ident4(), Material: gold},
			{Name: "earring-drop", Positions: dropPos, Indices: dropIdx, Local: mgl64.Translate3D(0, -0.1, 0), Material: gold},
		}
	case placement.Bracelet:
		return []*Mesh{torusMesh("bracelet", 0.25, 0.03, mgl64.HomogRotate3DX(math.Pi/2))}
	case placement.Anklet:
		return []*Mesh{torusMesh("anklet", 0.2, 0.02, mgl64.HomogRotate3DX(math.Pi/2))}
	case placement.Tiara:
		return []*Mesh{torusMesh("tiara", 0.35, 0.04, mgl64.HomogRotate3DX(math.Pi/2))}
	default:
		return nil
	}
}

func torusMesh(name string, radius, tube float64, local mgl64.Mat4) *Mesh {
	pos, idx := Torus(radius, tube, torusRadialSegments, torusTubularSegments)
	return &Mesh{
		Name:      name,
		Positions: pos,
		Indices:   idx,
		Local:     local,
		Material:  Gold(),
	}
}
