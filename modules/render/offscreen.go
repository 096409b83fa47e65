package render

import (
	"image"
	"image/color"
	"log/slog"
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/meit-swami/jewellery/modules/gpu"
	"github.com/meit-swami/jewellery/modules/jewelry"
)

// Offscreen is a software Surface that rasterizes the model into a
// transparent RGBA overlay matching the video frame.
type Offscreen struct {
	ledger *gpu.Ledger
	mirror bool

	mu       sync.Mutex
	img      *image.RGBA
	depth    []float64
	buffers  map[string]int // model ID → buffers held
	draws    uint64
	disposed bool
}

// NewOffscreen creates a surface. mirror flips the overlay horizontally
// to match a selfie-style video preview.
func NewOffscreen(ledger *gpu.Ledger, mirror bool) *Offscreen {
	ledger.Acquire(gpu.KindSurface)
	return &Offscreen{
		ledger:  ledger,
		mirror:  mirror,
		img:     image.NewRGBA(image.Rect(0, 0, 1, 1)),
		depth:   make([]float64, 1),
		buffers: make(map[string]int),
	}
}

// Resize reallocates the overlay at width*pixelRatio x height*pixelRatio.
func (o *Offscreen) Resize(width, height int, pixelRatio float64) {
	if pixelRatio <= 0 {
		pixelRatio = 1
	}
	w := max(1, int(math.Round(float64(width)*pixelRatio)))
	h := max(1, int(math.Round(float64(height)*pixelRatio)))

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.disposed {
		return
	}
	o.img = image.NewRGBA(image.Rect(0, 0, w, h))
	o.depth = make([]float64, w*h)

	slog.Debug("render: surface resized", "width", w, "height", h, "pixel_ratio", pixelRatio)
}

// Size returns the overlay size in pixels.
func (o *Offscreen) Size() (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	b := o.img.Bounds()
	return b.Dx(), b.Dy()
}

// Upload validates the model's meshes and acquires one buffer per mesh.
// Uploading the same model twice is a no-op.
func (o *Offscreen) Upload(model *jewelry.Model) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.disposed {
		return ErrSurfaceDisposed
	}
	if _, ok := o.buffers[model.ID]; ok {
		return nil
	}
	for _, mesh := range model.Meshes {
		if err := mesh.Validate(); err != nil {
			return err
		}
	}
	for range model.Meshes {
		o.ledger.Acquire(gpu.KindBuffer)
	}
	o.buffers[model.ID] = len(model.Meshes)
	return nil
}

// Draw clears the overlay and rasterizes the scene model when visible.
func (o *Offscreen) Draw(scene *Scene) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.disposed {
		return ErrSurfaceDisposed
	}

	clear(o.img.Pix)
	for i := range o.depth {
		o.depth[i] = math.Inf(1)
	}
	o.draws++

	m := scene.Model
	if m == nil || !m.Visible() {
		return nil
	}
	if _, ok := o.buffers[m.ID]; !ok {
		return ErrNotUploaded
	}

	viewProj := scene.Camera.Projection().Mul4(scene.Camera.View())
	world := m.Transform()

	for _, mesh := range m.Meshes {
		model := world.Mul4(mesh.Local)
		mat := mesh.Material
		if mat == nil {
			mat = jewelry.Gold()
		}
		switch mesh.Primitive {
		case jewelry.LineStrip:
			o.drawLineStrip(scene, mesh, model, viewProj, mat)
		default:
			o.drawTriangles(scene, mesh, model, viewProj, mat)
		}
	}
	return nil
}

// screenVertex is a projected vertex: pixel coordinates plus NDC depth.
type screenVertex struct {
	x, y, z float64
	ok      bool
}

func (o *Offscreen) project(p mgl64.Vec3, mvp mgl64.Mat4) screenVertex {
	clip := mvp.Mul4x1(p.Vec4(1))
	if clip.W() <= 0 {
		return screenVertex{}
	}
	ndc := clip.Vec3().Mul(1 / clip.W())

	b := o.img.Bounds()
	x := (ndc.X() + 1) / 2 * float64(b.Dx())
	if o.mirror {
		x = float64(b.Dx()) - x
	}
	y := (1 - ndc.Y()) / 2 * float64(b.Dy())
	return screenVertex{x: x, y: y, z: ndc.Z(), ok: true}
}

func (o *Offscreen) drawTriangles(scene *Scene, mesh *jewelry.Mesh, model, viewProj mgl64.Mat4, mat *jewelry.Material) {
	mvp := viewProj.Mul4(model)
	for i := 0; i+2 < len(mesh.Indices); i += 3 {
		a := mesh.Positions[mesh.Indices[i]]
		b := mesh.Positions[mesh.Indices[i+1]]
		c := mesh.Positions[mesh.Indices[i+2]]

		wa := model.Mul4x1(a.Vec4(1)).Vec3()
		wb := model.Mul4x1(b.Vec4(1)).Vec3()
		wc := model.Mul4x1(c.Vec4(1)).Vec3()
		n := wb.Sub(wa).Cross(wc.Sub(wa))
		if n.Len() == 0 {
			continue
		}
		centroid := wa.Add(wb).Add(wc).Mul(1.0 / 3)
		col := toRGBA(scene.shade(mat.Color, n.Normalize(), centroid))

		o.fillTriangle(o.project(a, mvp), o.project(b, mvp), o.project(c, mvp), col)
	}
}

func (o *Offscreen) drawLineStrip(scene *Scene, mesh *jewelry.Mesh, model, viewProj mgl64.Mat4, mat *jewelry.Material) {
	mvp := viewProj.Mul4(model)
	col := toRGBA(mat.Color)
	for i := 0; i+1 < len(mesh.Indices); i++ {
		p := o.project(mesh.Positions[mesh.Indices[i]], mvp)
		q := o.project(mesh.Positions[mesh.Indices[i+1]], mvp)
		if !p.ok || !q.ok {
			continue
		}
		steps := int(math.Max(math.Abs(q.x-p.x), math.Abs(q.y-p.y))) + 1
		for s := 0; s <= steps; s++ {
			t := float64(s) / float64(steps)
			o.plot(int(p.x+(q.x-p.x)*t), int(p.y+(q.y-p.y)*t), p.z+(q.z-p.z)*t, col)
		}
	}
}

// fillTriangle rasterizes with edge functions over the bounding box.
func (o *Offscreen) fillTriangle(a, b, c screenVertex, col color.RGBA) {
	if !a.ok || !b.ok || !c.ok {
		return
	}
	area := edge(a, b, c.x, c.y)
	if area == 0 {
		return
	}

	bounds := o.img.Bounds()
	minX := max(0, int(math.Floor(min(a.x, b.x, c.x))))
	maxX := min(bounds.Dx()-1, int(math.Ceil(max(a.x, b.x, c.x))))
	minY := max(0, int(math.Floor(min(a.y, b.y, c.y))))
	maxY := min(bounds.Dy()-1, int(math.Ceil(max(a.y, b.y, c.y))))

	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			px, py := float64(x)+0.5, float64(y)+0.5
			w0 := edge(b, c, px, py) / area
			w1 := edge(c, a, px, py) / area
			w2 := edge(a, b, px, py) / area
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}
			o.plot(x, y, w0*a.z+w1*b.z+w2*c.z, col)
		}
	}
}

func edge(a, b screenVertex, x, y float64) float64 {
	return (b.x-a.x)*(y-a.y) - (b.y-a.y)*(x-a.x)
}

// plot writes col at (x, y) when z passes the depth test and lies inside the frustum.
func (o *Offscreen) plot(x, y int, z float64, col color.RGBA) {
	b := o.img.Bounds()
	if x < 0 || y < 0 || x >= b.Dx() || y >= b.Dy() || z < -1 || z > 1 {
		return
	}
	i := y*b.Dx() + x
	if z >= o.depth[i] {
		return
	}
	o.depth[i] = z
	o.img.SetRGBA(x, y, col)
}

func toRGBA(c mgl64.Vec3) color.RGBA {
	return color.RGBA{
		R: uint8(clamp01(c[0])*255 + 0.5),
		G: uint8(clamp01(c[1])*255 + 0.5),
		B: uint8(clamp01(c[2])*255 + 0.5),
		A: 255,
	}
}

// Snapshot returns a copy of the current overlay.
func (o *Offscreen) Snapshot() *image.RGBA {
	o.mu.Lock()
	defer o.mu.Unlock()
	cp := image.NewRGBA(o.img.Bounds())
	copy(cp.Pix, o.img.Pix)
	return cp
}

// Draws returns how many times Draw rendered a pass.
func (o *Offscreen) Draws() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.draws
}

// Dispose releases uploaded buffers and the surface. Idempotent.
func (o *Offscreen) Dispose() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.disposed {
		return nil
	}
	o.disposed = true

	for id, n := range o.buffers {
		for i := 0; i < n; i++ {
			o.ledger.Release(gpu.KindBuffer)
		}
		delete(o.buffers, id)
	}
	o.ledger.Release(gpu.KindSurface)
	o.img = image.NewRGBA(image.Rect(0, 0, 1, 1))
	o.depth = make([]float64, 1)
	return nil
}
