package jewelry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
)

var (
	// ErrAssetTooLarge is returned when an asset exceeds the loader's size cap.
	ErrAssetTooLarge = errors.New("jewelry: asset exceeds size limit")

	// ErrLocalRefDenied is returned for file refs when no assets directory
	// is configured or the path leaves it.
	ErrLocalRefDenied = errors.New("jewelry: local model ref not allowed")

	// ErrMalformedAsset is returned when a glTF document references data
	// it does not contain.
	ErrMalformedAsset = errors.New("jewelry: malformed asset")
)

// Loader fetches and decodes an external model.
type Loader interface {
	Load(ctx context.Context, ref string) ([]*Mesh, error)
}

// AssetLoader loads GLB or self-contained glTF files over HTTP(S) or from
// a local assets directory. External buffer URIs are not followed.
type AssetLoader struct {
	client    *http.Client
	maxBytes  int64
	assetsDir string
}

// NewAssetLoader returns a loader with the given per-request timeout and
// size cap. Zero values pick 10s and 32MiB. Local refs (bare paths and
// file:// URLs) resolve inside assetsDir; an empty assetsDir rejects them.
func NewAssetLoader(timeout time.Duration, maxBytes int64, assetsDir string) *AssetLoader {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = 32 << 20
	}
	return &AssetLoader{
		client:    &http.Client{Timeout: timeout},
		maxBytes:  maxBytes,
		assetsDir: assetsDir,
	}
}

// Load fetches ref and returns its triangle meshes with a gold material.
func (l *AssetLoader) Load(ctx context.Context, ref string) ([]*Mesh, error) {
	data, err := l.fetch(ctx, ref)
	if err != nil {
		return nil, err
	}
	return decodeMeshes(data)
}

func (l *AssetLoader) fetch(ctx context.Context, ref string) ([]byte, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("parse model ref: %w", err)
	}

	var body io.ReadCloser
	switch u.Scheme {
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		resp, err := l.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", ref, err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("fetch %s: status %d", ref, resp.StatusCode)
		}
		body = resp.Body
	case "", "file":
		f, err := l.openLocal(u.Path)
		if err != nil {
			return nil, err
		}
		body = f
	default:
		return nil, fmt.Errorf("unsupported model ref scheme %q", u.Scheme)
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, l.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref, err)
	}
	if int64(len(data)) > l.maxBytes {
		return nil, fmt.Errorf("%w: %s", ErrAssetTooLarge, ref)
	}
	return data, nil
}

// openLocal opens path inside the assets directory. Absolute paths must
// point into it; os.Root rejects traversal and escaping symlinks.
func (l *AssetLoader) openLocal(path string) (*os.File, error) {
	if l.assetsDir == "" {
		return nil, fmt.Errorf("%w: %s", ErrLocalRefDenied, path)
	}
	root, err := os.OpenRoot(l.assetsDir)
	if err != nil {
		return nil, fmt.Errorf("open assets dir: %w", err)
	}
	defer root.Close()

	name := path
	if filepath.IsAbs(path) {
		base, err := filepath.Abs(l.assetsDir)
		if err != nil {
			return nil, fmt.Errorf("resolve assets dir: %w", err)
		}
		if name, err = filepath.Rel(base, path); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrLocalRefDenied, path)
		}
	}
	if !filepath.IsLocal(name) {
		return nil, fmt.Errorf("%w: %s", ErrLocalRefDenied, path)
	}
	f, err := root.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

// decodeMeshes extracts every triangle primitive of a glTF document.
func decodeMeshes(data []byte) ([]*Mesh, error) {
	doc := new(gltf.Document)
	if err := gltf.NewDecoder(bytes.NewReader(data)).Decode(doc); err != nil {
		return nil, fmt.Errorf("decode gltf: %w", err)
	}

	material := Gold()
	var meshes []*Mesh
	for _, gm := range doc.Meshes {
		for pi, prim := range gm.Primitives {
			if prim.Mode != gltf.PrimitiveTriangles {
				continue
			}
			posIdx, ok := prim.Attributes[gltf.POSITION]
			if !ok {
				continue
			}
			if int(posIdx) >= len(doc.Accessors) {
				return nil, fmt.Errorf("%w: mesh %q primitive %d: position accessor %d of %d",
					ErrMalformedAsset, gm.Name, pi, posIdx, len(doc.Accessors))
			}

			raw, err := modeler.ReadPosition(doc, doc.Accessors[posIdx], nil)
			if err != nil {
				return nil, fmt.Errorf("mesh %q primitive %d positions: %w", gm.Name, pi, err)
			}
			positions := make([]mgl64.Vec3, len(raw))
			for i, p := range raw {
				positions[i] = mgl64.Vec3{float64(p[0]), float64(p[1]), float64(p[2])}
			}

			var indices []uint32
			if prim.Indices != nil {
				if int(*prim.Indices) >= len(doc.Accessors) {
					return nil, fmt.Errorf("%w: mesh %q primitive %d: index accessor %d of %d",
						ErrMalformedAsset, gm.Name, pi, *prim.Indices, len(doc.Accessors))
				}
				indices, err = modeler.ReadIndices(doc, doc.Accessors[*prim.Indices], nil)
				if err != nil {
					return nil, fmt.Errorf("mesh %q primitive %d indices: %w", gm.Name, pi, err)
				}
			} else {
				indices = make([]uint32, len(positions))
				for i := range indices {
					indices[i] = uint32(i)
				}
			}

			mesh := &Mesh{
				Name:      gm.Name,
				Primitive: Triangles,
				Positions: positions,
				Indices:   indices,
				Local:     mgl64.Ident4(),
				Material:  material,
			}
			if err := mesh.Validate(); err != nil {
				return nil, fmt.Errorf("%w: primitive %d: %w", ErrMalformedAsset, pi, err)
			}
			meshes = append(meshes, mesh)
		}
	}

	if len(meshes) == 0 {
		return nil, errors.New("gltf document has no triangle meshes")
	}
	return meshes, nil
}
