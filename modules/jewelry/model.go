// Package jewelry provisions the 3D model a try-on session places: either
// an external glTF asset or a procedurally generated template.
package jewelry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"github.com/meit-swami/jewellery/modules/gpu"
	"github.com/meit-swami/jewellery/modules/placement"
)

// Source tells where a model's geometry came from.
type Source int

const (
	SourceTemplate Source = iota
	SourceAsset
)

func (s Source) String() string {
	if s == SourceAsset {
		return "asset"
	}
	return "template"
}

// Primitive is how a mesh's indices are assembled.
type Primitive int

const (
	Triangles Primitive = iota
	LineStrip
)

// Material is a flat PBR-ish description. Color components are in [0,1].
type Material struct {
	Color     mgl64.Vec3
	Metalness float64
	Roughness float64
}

// Gold is the template material (0xd4af37, metalness 0.9, roughness 0.1).
func Gold() *Material {
	return &Material{
		Color:     HexColor(0xd4af37),
		Metalness: 0.9,
		Roughness: 0.1,
	}
}

// HexColor converts 0xRRGGBB to a [0,1] RGB vector.
func HexColor(hex uint32) mgl64.Vec3 {
	return mgl64.Vec3{
		float64(hex>>16&0xff) / 255,
		float64(hex>>8&0xff) / 255,
		float64(hex&0xff) / 255,
	}
}

// Mesh is one drawable piece of a model, in model-local coordinates.
type Mesh struct {
	Name      string
	Primitive Primitive
	Positions []mgl64.Vec3
	Indices   []uint32
	Local     mgl64.Mat4
	Material  *Material
}

// ErrInvalidMesh is returned by Mesh.Validate.
var ErrInvalidMesh = errors.New("jewelry: invalid mesh")

// Validate checks that every index addresses a position and that a
// triangle mesh holds whole triangles.
func (m *Mesh) Validate() error {
	if m.Primitive == Triangles && len(m.Indices)%3 != 0 {
		return fmt.Errorf("%w: %q has %d indices, not a triangle list", ErrInvalidMesh, m.Name, len(m.Indices))
	}
	for i, idx := range m.Indices {
		if int(idx) >= len(m.Positions) {
			return fmt.Errorf("%w: %q index %d = %d over %d positions", ErrInvalidMesh, m.Name, i, idx, len(m.Positions))
		}
	}
	return nil
}

// Model is a session-owned jewelry model. It starts hidden; only the
// render loop changes its visibility.
type Model struct {
	ID       string
	Category placement.Category
	Source   Source
	Meshes   []*Mesh

	ledger *gpu.Ledger

	mu        sync.Mutex
	visible   bool
	transform mgl64.Mat4
	disposed  bool
}

func newModel(c placement.Category, src Source, meshes []*Mesh, ledger *gpu.Ledger) *Model {
	m := &Model{
		ID:        uuid.NewString(),
		Category:  c,
		Source:    src,
		Meshes:    meshes,
		ledger:    ledger,
		transform: mgl64.Ident4(),
	}
	for range meshes {
		ledger.Acquire(gpu.KindGeometry)
	}
	for range m.materials() {
		ledger.Acquire(gpu.KindMaterial)
	}
	return m
}

// materials returns the distinct materials used by the meshes.
func (m *Model) materials() []*Material {
	seen := make(map[*Material]bool)
	var out []*Material
	for _, mesh := range m.Meshes {
		if mesh.Material != nil && !seen[mesh.Material] {
			seen[mesh.Material] = true
			out = append(out, mesh.Material)
		}
	}
	return out
}

// SetPlacement applies p and makes the model visible.
func (m *Model) SetPlacement(p placement.Placement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}
	m.transform = p.Matrix()
	m.visible = true
}

// Hide makes the model invisible. The last transform is kept but never drawn.
func (m *Model) Hide() {
	m.mu.Lock()
	m.visible = false
	m.mu.Unlock()
}

// Visible reports whether the model should be drawn.
func (m *Model) Visible() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visible
}

// Transform returns the current model matrix.
func (m *Model) Transform() mgl64.Mat4 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transform
}

// Disposed reports whether Dispose has run.
func (m *Model) Disposed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposed
}

// Dispose releases geometry and materials. Only the first call has effect.
func (m *Model) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	m.visible = false
	m.mu.Unlock()

	for range m.Meshes {
		m.ledger.Release(gpu.KindGeometry)
	}
	for range m.materials() {
		m.ledger.Release(gpu.KindMaterial)
	}

	slog.Debug("jewelry: model disposed",
		"model_id", m.ID,
		"category", m.Category.String(),
		"meshes", len(m.Meshes),
	)
}

// VertexCount sums the vertices over all meshes.
func (m *Model) VertexCount() int {
	n := 0
	for _, mesh := range m.Meshes {
		n += len(mesh.Positions)
	}
	return n
}
