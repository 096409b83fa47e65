package render

import (
	"errors"

	"github.com/meit-swami/jewellery/modules/jewelry"
)

var (
	// ErrSurfaceDisposed is returned by operations on a disposed surface.
	ErrSurfaceDisposed = errors.New("render: surface disposed")

	// ErrNotUploaded is returned when drawing a model the surface has not seen.
	ErrNotUploaded = errors.New("render: model not uploaded")
)

// Surface is the render target of one session.
//
// Dispose releases every buffer the surface holds and is idempotent.
type Surface interface {
	// Resize sizes the drawing buffer to the video size times pixelRatio.
	Resize(width, height int, pixelRatio float64)

	// Upload creates GPU buffers for the model's meshes.
	Upload(model *jewelry.Model) error

	// Draw renders the scene. A hidden model draws nothing.
	Draw(scene *Scene) error

	Dispose() error
}
