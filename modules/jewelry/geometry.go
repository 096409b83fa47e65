package jewelry

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Torus builds a torus in the XY plane around the Z axis.
func Torus(radius, tube float64, radialSegments, tubularSegments int) ([]mgl64.Vec3, []uint32) {
	positions := make([]mgl64.Vec3, 0, (radialSegments+1)*(tubularSegments+1))
	for j := 0; j <= radialSegments; j++ {
		v := float64(j) / float64(radialSegments) * 2 * math.Pi
		for i := 0; i <= tubularSegments; i++ {
			u := float64(i) / float64(tubularSegments) * 2 * math.Pi
			positions = append(positions, mgl64.Vec3{
				(radius + tube*math.Cos(v)) * math.Cos(u),
				(radius + tube*math.Cos(v)) * math.Sin(u),
				tube * math.Sin(v),
			})
		}
	}

	row := uint32(tubularSegments + 1)
	indices := make([]uint32, 0, radialSegments*tubularSegments*6)
	for j := uint32(1); j <= uint32(radialSegments); j++ {
		for i := uint32(1); i <= uint32(tubularSegments); i++ {
			a := row*j + i - 1
			b := row*(j-1) + i - 1
			c := row*(j-1) + i
			d := row*j + i
			indices = append(indices, a, b, d, b, c, d)
		}
	}
	return positions, indices
}

// Sphere builds a UV sphere centred on the origin.
func Sphere(radius float64, widthSegments, heightSegments int) ([]mgl64.Vec3, []uint32) {
	positions := make([]mgl64.Vec3, 0, (widthSegments+1)*(heightSegments+1))
	for iy := 0; iy <= heightSegments; iy++ {
		theta := float64(iy) / float64(heightSegments) * math.Pi
		for ix := 0; ix <= widthSegments; ix++ {
			phi := float64(ix) / float64(widthSegments) * 2 * math.Pi
			positions = append(positions, mgl64.Vec3{
				-radius * math.Cos(phi) * math.Sin(theta),
				radius * math.Cos(theta),
				radius * math.Sin(phi) * math.Sin(theta),
			})
		}
	}

	row := uint32(widthSegments + 1)
	var indices []uint32
	for iy := uint32(0); iy < uint32(heightSegments); iy++ {
		for ix := uint32(0); ix < uint32(widthSegments); ix++ {
			a := iy*row + ix + 1
			b := iy*row + ix
			c := (iy+1)*row + ix
			d := (iy+1)*row + ix + 1
			if iy != 0 {
				indices = append(indices, a, b, d)
			}
			if iy != uint32(heightSegments)-1 {
				indices = append(indices, b, c, d)
			}
		}
	}
	return positions, indices
}

// CatmullRom samples a centripetal Catmull-Rom curve through points at
// divisions+1 evenly spaced parameter values. Endpoints are extrapolated.
func CatmullRom(points []mgl64.Vec3, divisions int) []mgl64.Vec3 {
	out := make([]mgl64.Vec3, 0, divisions+1)
	for d := 0; d <= divisions; d++ {
		out = append(out, catmullRomAt(points, float64(d)/float64(divisions)))
	}
	return out
}

func catmullRomAt(points []mgl64.Vec3, t float64) mgl64.Vec3 {
	l := len(points)
	if l == 0 {
		return mgl64.Vec3{}
	}
	if l == 1 {
		return points[0]
	}

	p := float64(l-1) * t
	idx := int(math.Floor(p))
	weight := p - float64(idx)
	if idx >= l-1 {
		idx = l - 2
		weight = 1
	}

	var p0, p3 mgl64.Vec3
	if idx > 0 {
		p0 = points[idx-1]
	} else {
		p0 = points[0].Sub(points[1]).Add(points[0])
	}
	p1 := points[idx]
	p2 := points[idx+1]
	if idx+2 < l {
		p3 = points[idx+2]
	} else {
		p3 = points[l-1].Sub(points[l-2]).Add(points[l-1])
	}

	dt0 := math.Pow(p0.Sub(p1).LenSqr(), 0.25)
	dt1 := math.Pow(p1.Sub(p2).LenSqr(), 0.25)
	dt2 := math.Pow(p2.Sub(p3).LenSqr(), 0.25)
	if dt1 < 1e-4 {
		dt1 = 1
	}
	if dt0 < 1e-4 {
		dt0 = dt1
	}
	if dt2 < 1e-4 {
		dt2 = dt1
	}

	var out mgl64.Vec3
	for k := 0; k < 3; k++ {
		out[k] = nonUniformCubic(p0[k], p1[k], p2[k], p3[k], dt0, dt1, dt2, weight)
	}
	return out
}

// nonUniformCubic evaluates one coordinate of a non-uniform Catmull-Rom segment.
func nonUniformCubic(x0, x1, x2, x3, dt0, dt1, dt2, w float64) float64 {
	t1 := (x1-x0)/dt0 - (x2-x0)/(dt0+dt1) + (x2-x1)/dt1
	t2 := (x2-x1)/dt1 - (x3-x1)/(dt1+dt2) + (x3-x2)/dt2
	t1 *= dt1
	t2 *= dt1

	c0 := x1
	c1 := t1
	c2 := -3*x1 + 3*x2 - 2*t1 - t2
	c3 := 2*x1 - 2*x2 + t1 + t2
	return c0 + c1*w + c2*w*w + c3*w*w*w
}
