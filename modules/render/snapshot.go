package render

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	xdraw "golang.org/x/image/draw"

	"github.com/meit-swami/jewellery/modules/framesupplier"
)

// SnapshotSaver writes composited try-on frames to disk.
//
// Safe for concurrent use.
type SnapshotSaver struct {
	outputDir   string
	format      string
	jpegQuality int
	saved       atomic.Uint64
	failed      atomic.Uint64
}

// NewSnapshotSaver creates the output directory and validates format
// ("png" or "jpeg"). jpegQuality is 1-100 and only used for JPEG.
func NewSnapshotSaver(outputDir, format string, jpegQuality int) (*SnapshotSaver, error) {
	if format != "png" && format != "jpeg" {
		return nil, fmt.Errorf("unsupported format: %s (must be png or jpeg)", format)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = 90
	}
	return &SnapshotSaver{
		outputDir:   outputDir,
		format:      format,
		jpegQuality: jpegQuality,
	}, nil
}

// Save composites overlay onto frame and writes it as
// tryon_{seq:06d}_{timestamp}.{ext}. It returns the written path.
func (s *SnapshotSaver) Save(frame *framesupplier.Frame, overlay *image.RGBA) (string, error) {
	img, err := Composite(frame, overlay)
	if err != nil {
		s.failed.Add(1)
		return "", err
	}

	ts := frame.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	name := fmt.Sprintf("tryon_%06d_%s.%s", frame.Seq, ts.Format("20060102_150405.000"), s.format)
	path := filepath.Join(s.outputDir, name)

	f, err := os.Create(path)
	if err != nil {
		s.failed.Add(1)
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	switch s.format {
	case "png":
		err = png.Encode(f, img)
	case "jpeg":
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: s.jpegQuality})
	}
	if err != nil {
		s.failed.Add(1)
		return "", fmt.Errorf("%s encode failed: %w", s.format, err)
	}

	s.saved.Add(1)
	return path, nil
}

// Stats returns saved and failed counts.
func (s *SnapshotSaver) Stats() (saved, failed uint64) {
	return s.saved.Load(), s.failed.Load()
}

// Composite draws overlay over the camera frame, scaling the overlay to the
// frame size when the surface runs at a different pixel ratio.
func Composite(frame *framesupplier.Frame, overlay *image.RGBA) (*image.RGBA, error) {
	img, err := rgbToRGBA(frame)
	if err != nil {
		return nil, err
	}
	if overlay == nil {
		return img, nil
	}
	if overlay.Bounds().Size() == img.Bounds().Size() {
		xdraw.Draw(img, img.Bounds(), overlay, overlay.Bounds().Min, xdraw.Over)
		return img, nil
	}
	xdraw.BiLinear.Scale(img, img.Bounds(), overlay, overlay.Bounds(), xdraw.Over, nil)
	return img, nil
}

// rgbToRGBA converts packed RGB (3 bytes/pixel) to opaque RGBA.
func rgbToRGBA(frame *framesupplier.Frame) (*image.RGBA, error) {
	expected := frame.Width * frame.Height * 3
	if frame.Width <= 0 || frame.Height <= 0 || len(frame.Data) != expected {
		return nil, fmt.Errorf("invalid RGB data size: got %d, expected %d", len(frame.Data), expected)
	}

	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for i := 0; i < frame.Width*frame.Height; i++ {
		img.Pix[i*4+0] = frame.Data[i*3+0]
		img.Pix[i*4+1] = frame.Data[i*3+1]
		img.Pix[i*4+2] = frame.Data[i*3+2]
		img.Pix[i*4+3] = 255
	}
	return img, nil
}
