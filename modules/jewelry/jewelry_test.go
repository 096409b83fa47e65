package jewelry_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/meit-swami/jewellery/modules/gpu"
	"github.com/meit-swami/jewellery/modules/jewelry"
	"github.com/meit-swami/jewellery/modules/placement"
)

func TestTemplateMeshes(t *testing.T) {
	tests := []struct {
		category  placement.Category
		meshes    int
		primitive jewelry.Primitive
	}{
		{placement.Ring, 1, jewelry.Triangles},
		{placement.Necklace, 1, jewelry.LineStrip},
		{placement.Earring, 2, jewelry.Triangles},
		{placement.Bracelet, 1, jewelry.Triangles},
		{placement.Anklet, 1, jewelry.Triangles},
		{placement.Tiara, 1, jewelry.Triangles},
		{placement.Unknown, 0, jewelry.Triangles},
	}

	for _, tt := range tests {
		t.Run(tt.category.String(), func(t *testing.T) {
			meshes := jewelry.TemplateMeshes(tt.category)
			if len(meshes) != tt.meshes {
				t.Fatalf("len(meshes) = %d, want %d", len(meshes), tt.meshes)
			}
			for _, m := range meshes {
				if m.Primitive != tt.primitive {
					t.Errorf("mesh %q primitive = %v, want %v", m.Name, m.Primitive, tt.primitive)
				}
				if len(m.Positions) == 0 || len(m.Indices) == 0 {
					t.Errorf("mesh %q is empty", m.Name)
				}
				if err := m.Validate(); err != nil {
					t.Errorf("Validate() = %v", err)
				}
			}
		})
	}
}

func TestRingTorusDimensions(t *testing.T) {
	mesh := jewelry.TemplateMeshes(placement.Ring)[0]
	if got, want := len(mesh.Positions), 17*101; got != want {
		t.Errorf("vertex count = %d, want %d", got, want)
	}
	maxR := 0.0
	for _, p := range mesh.Positions {
		maxR = math.Max(maxR, math.Hypot(p.X(), p.Y()))
	}
	if math.Abs(maxR-0.35) > 1e-9 {
		t.Errorf("outer radius = %v, want 0.35", maxR)
	}
}

func TestEarringSharesMaterial(t *testing.T) {
	meshes := jewelry.TemplateMeshes(placement.Earring)
	if meshes[0].Material != meshes[1].Material {
		t.Error("earring spheres should share one material")
	}
	drop := meshes[1].Local.Mul4x1(mgl64.Vec4{0, 0, 0, 1}).Vec3()
	if !drop.ApproxEqualThreshold(mgl64.Vec3{0, -0.1, 0}, 1e-12) {
		t.Errorf("drop sphere at %v, want (0,-0.1,0)", drop)
	}
}

func TestCatmullRomPassesThroughControlPoints(t *testing.T) {
	ctrl := []mgl64.Vec3{{-0.4, 0, 0}, {-0.2, -0.1, 0}, {0, -0.15, 0}, {0.2, -0.1, 0}, {0.4, 0, 0}}
	points := jewelry.CatmullRom(ctrl, 4)
	if len(points) != 5 {
		t.Fatalf("len(points) = %d, want 5", len(points))
	}
	for i, p := range points {
		if p.Sub(ctrl[i]).Len() > 1e-9 {
			t.Errorf("point %d = %v, want %v", i, p, ctrl[i])
		}
	}
}

func TestHexColor(t *testing.T) {
	got := jewelry.HexColor(0xff8000)
	want := mgl64.Vec3{1, 128.0 / 255, 0}
	if !got.ApproxEqualThreshold(want, 1e-12) {
		t.Errorf("HexColor = %v, want %v", got, want)
	}
}

type failingLoader struct{ calls int }

func (l *failingLoader) Load(context.Context, string) ([]*jewelry.Mesh, error) {
	l.calls++
	return nil, errors.New("404 not found")
}

func TestProvisionFallsBackToTemplate(t *testing.T) {
	loader := &failingLoader{}
	ledger := gpu.NewLedger()
	p := jewelry.NewProvisioner(loader, ledger)

	m, err := p.Provision(context.Background(), placement.Ring, "https://cdn.example.com/ring.glb")
	if err != nil {
		t.Fatalf("Provision() failed: %v", err)
	}
	if loader.calls != 1 {
		t.Errorf("loader called %d times, want 1", loader.calls)
	}
	if m.Source != jewelry.SourceTemplate {
		t.Errorf("Source = %v, want template", m.Source)
	}
	if m.Visible() {
		t.Error("provisioned model must start hidden")
	}
}

func TestProvisionWithoutRefSkipsLoader(t *testing.T) {
	loader := &failingLoader{}
	p := jewelry.NewProvisioner(loader, gpu.NewLedger())

	if _, err := p.Provision(context.Background(), placement.Necklace, ""); err != nil {
		t.Fatalf("Provision() failed: %v", err)
	}
	if loader.calls != 0 {
		t.Errorf("loader called %d times, want 0", loader.calls)
	}
}

func TestProvisionCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ledger := gpu.NewLedger()
	if _, err := jewelry.NewProvisioner(nil, ledger).Provision(ctx, placement.Ring, ""); !errors.Is(err, context.Canceled) {
		t.Errorf("Provision() = %v, want context.Canceled", err)
	}
	if ledger.Total() != 0 {
		t.Errorf("cancelled provision leaked %v", ledger.Snapshot())
	}
}

func TestModelVisibilityAndDispose(t *testing.T) {
	ledger := gpu.NewLedger()
	m, _ := jewelry.NewProvisioner(nil, ledger).Provision(context.Background(), placement.Earring, "")

	if got := ledger.Live(gpu.KindGeometry); got != 2 {
		t.Errorf("geometry live = %d, want 2", got)
	}
	if got := ledger.Live(gpu.KindMaterial); got != 1 {
		t.Errorf("material live = %d, want 1", got)
	}

	m.SetPlacement(placement.Placement{Position: mgl64.Vec3{0.2, 0.2, -0.2}, Scale: 0.3})
	if !m.Visible() {
		t.Error("model should be visible after SetPlacement")
	}
	m.Hide()
	if m.Visible() {
		t.Error("model should be hidden after Hide")
	}

	m.Dispose()
	m.Dispose()
	if ledger.Total() != 0 {
		t.Errorf("ledger after dispose = %v, want empty", ledger.Snapshot())
	}
	m.SetPlacement(placement.Placement{Scale: 1})
	if m.Visible() {
		t.Error("disposed model must not become visible")
	}
}

// triangleGLTF builds a self-contained glTF with one triangle.
func triangleGLTF() []byte {
	var buf bytes.Buffer
	for _, v := range []float32{0, 0, 0, 1, 0, 0, 0, 1, 0} {
		binary.Write(&buf, binary.LittleEndian, v)
	}
	uri := "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
	return []byte(fmt.Sprintf(`{
  "asset": {"version": "2.0"},
  "buffers": [{"byteLength": 36, "uri": %q}],
  "bufferViews": [{"buffer": 0, "byteLength": 36}],
  "accessors": [{"bufferView": 0, "componentType": 5126, "count": 3, "type": "VEC3", "min": [0,0,0], "max": [1,1,0]}],
  "meshes": [{"name": "tri", "primitives": [{"attributes": {"POSITION": 0}}]}]
}`, uri))
}

func TestAssetLoaderHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ring.gltf" {
			http.NotFound(w, r)
			return
		}
		w.Write(triangleGLTF())
	}))
	defer srv.Close()

	loader := jewelry.NewAssetLoader(0, 0, "")

	meshes, err := loader.Load(context.Background(), srv.URL+"/ring.gltf")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(meshes) != 1 || len(meshes[0].Positions) != 3 || len(meshes[0].Indices) != 3 {
		t.Fatalf("unexpected meshes: %+v", meshes)
	}
	if !meshes[0].Positions[1].ApproxEqualThreshold(mgl64.Vec3{1, 0, 0}, 1e-6) {
		t.Errorf("vertex 1 = %v", meshes[0].Positions[1])
	}

	if _, err := loader.Load(context.Background(), srv.URL+"/missing.glb"); err == nil {
		t.Error("Load() of 404 should fail")
	}
}

func TestAssetLoaderSizeCap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.gltf")
	if err := os.WriteFile(path, triangleGLTF(), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := jewelry.NewAssetLoader(0, 16, dir).Load(context.Background(), path); !errors.Is(err, jewelry.ErrAssetTooLarge) {
		t.Errorf("Load() = %v, want ErrAssetTooLarge", err)
	}
	if _, err := jewelry.NewAssetLoader(0, 0, dir).Load(context.Background(), "file://"+path); err != nil {
		t.Errorf("Load(file://) failed: %v", err)
	}
}

func TestProvisionAsset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.gltf")
	os.WriteFile(path, triangleGLTF(), 0o644)

	m, err := jewelry.NewProvisioner(jewelry.NewAssetLoader(0, 0, dir), gpu.NewLedger()).
		Provision(context.Background(), placement.Tiara, path)
	if err != nil {
		t.Fatalf("Provision() failed: %v", err)
	}
	if m.Source != jewelry.SourceAsset {
		t.Errorf("Source = %v, want asset", m.Source)
	}
	if m.Visible() {
		t.Error("asset model must start hidden")
	}
}

// indexedGLTF builds a self-contained glTF with one triangle's positions
// and the given uint16 indices. Accessor 0 holds positions, accessor 1
// indices; position and index name the accessors the primitive uses.
func indexedGLTF(indices []uint16, position, index int) []byte {
	var buf bytes.Buffer
	for _, v := range []float32{0, 0, 0, 1, 0, 0, 0, 1, 0} {
		binary.Write(&buf, binary.LittleEndian, v)
	}
	for _, i := range indices {
		binary.Write(&buf, binary.LittleEndian, i)
	}
	uri := "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
	return []byte(fmt.Sprintf(`{
  "asset": {"version": "2.0"},
  "buffers": [{"byteLength": %d, "uri": %q}],
  "bufferViews": [{"buffer": 0, "byteLength": 36}, {"buffer": 0, "byteOffset": 36, "byteLength": %d}],
  "accessors": [
    {"bufferView": 0, "componentType": 5126, "count": 3, "type": "VEC3", "min": [0,0,0], "max": [1,1,0]},
    {"bufferView": 1, "componentType": 5123, "count": %d, "type": "SCALAR"}
  ],
  "meshes": [{"name": "tri", "primitives": [{"attributes": {"POSITION": %d}, "indices": %d}]}]
}`, buf.Len(), uri, 2*len(indices), len(indices), position, index))
}

func TestAssetLoaderRejectsMalformedDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  []byte
	}{
		{"index past positions", indexedGLTF([]uint16{0, 1, 7}, 0, 1)},
		{"position accessor missing", indexedGLTF([]uint16{0, 1, 2}, 9, 1)},
		{"index accessor missing", indexedGLTF([]uint16{0, 1, 2}, 0, 5)},
		{"partial triangle", indexedGLTF([]uint16{0, 1}, 0, 1)},
	}

	dir := t.TempDir()
	loader := jewelry.NewAssetLoader(0, 0, dir)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "bad.gltf")
			if err := os.WriteFile(path, tt.doc, 0o644); err != nil {
				t.Fatal(err)
			}

			if _, err := loader.Load(context.Background(), path); !errors.Is(err, jewelry.ErrMalformedAsset) {
				t.Errorf("Load() = %v, want ErrMalformedAsset", err)
			}

			ledger := gpu.NewLedger()
			m, err := jewelry.NewProvisioner(loader, ledger).Provision(context.Background(), placement.Ring, path)
			if err != nil {
				t.Fatalf("Provision() failed: %v", err)
			}
			if m.Source != jewelry.SourceTemplate {
				t.Errorf("Source = %v, want template fallback", m.Source)
			}
			m.Dispose()
		})
	}
	t.Logf("✅ malformed assets fall back to the template")
}

func TestAssetLoaderIndexedTriangle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ok.gltf")
	os.WriteFile(path, indexedGLTF([]uint16{0, 1, 2}, 0, 1), 0o644)

	meshes, err := jewelry.NewAssetLoader(0, 0, dir).Load(context.Background(), "ok.gltf")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if got := meshes[0].Indices; len(got) != 3 || got[2] != 2 {
		t.Errorf("Indices = %v, want [0 1 2]", got)
	}
}

func TestAssetLoaderLocalRefs(t *testing.T) {
	dir := t.TempDir()
	assets := filepath.Join(dir, "assets")
	os.Mkdir(assets, 0o755)
	os.WriteFile(filepath.Join(assets, "ring.gltf"), triangleGLTF(), 0o644)
	outside := filepath.Join(dir, "secret.gltf")
	os.WriteFile(outside, triangleGLTF(), 0o644)

	tests := []struct {
		name    string
		dir     string
		ref     string
		wantErr error
	}{
		{"relative inside", assets, "ring.gltf", nil},
		{"absolute inside", assets, filepath.Join(assets, "ring.gltf"), nil},
		{"file url inside", assets, "file://" + filepath.Join(assets, "ring.gltf"), nil},
		{"absolute outside", assets, outside, jewelry.ErrLocalRefDenied},
		{"traversal", assets, "../secret.gltf", jewelry.ErrLocalRefDenied},
		{"file url outside", assets, "file://" + outside, jewelry.ErrLocalRefDenied},
		{"no assets dir", "", filepath.Join(assets, "ring.gltf"), jewelry.ErrLocalRefDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := jewelry.NewAssetLoader(0, 0, tt.dir).Load(context.Background(), tt.ref)
			if tt.wantErr == nil && err != nil {
				t.Errorf("Load(%q) failed: %v", tt.ref, err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Load(%q) = %v, want %v", tt.ref, err, tt.wantErr)
			}
		})
	}
}
