package engine

import (
	"fmt"
	"image"
	"image/draw"
	"math"

	"github.com/menta2k/batch-composer/pkg/geometry"
	"github.com/menta2k/batch-composer/pkg/types"
)

// Engine turns one image plus one bounding box into one fit-and-pad output
// bitmap per SizeSpec.
type Engine struct {
	backend geometry.Backend
}

// New creates an engine on the given geometry backend.
func New(backend geometry.Backend) *Engine {
	return &Engine{backend: backend}
}

// Backend returns the geometry backend in use, for progress reporting.
func (e *Engine) Backend() geometry.Backend {
	return e.backend
}

// CropAndResize extracts the bbox region once and renders it into one
// independent bitmap per SizeSpec. Each output is exactly the spec's
// dimensions: the crop is scaled to fit inside and the leftover canvas is
// filled with the spec's pad color.
func (e *Engine) CropAndResize(img image.Image, bbox types.BoundingBox, sizes []types.SizeSpec) (map[string]image.Image, error) {
	bounds := img.Bounds()
	clamped := bbox.Clamp(bounds.Dx(), bounds.Dy())
	if clamped.Width <= 0 || clamped.Height <= 0 {
		return nil, fmt.Errorf("%w: bounding box %+v is outside the image", types.ErrInvalidRequest, bbox)
	}

	crop := e.backend.Crop(img, clamped.Rect().Add(bounds.Min))

	out := make(map[string]image.Image, len(sizes))
	for _, spec := range sizes {
		out[spec.Name] = e.renderSpec(crop, spec)
	}
	return out, nil
}

// renderSpec scales the crop with the aspect-preserving fit-inside scale,
// rounds the scaled dimensions, and pastes it centered (floor offsets) onto
// a canvas of exactly the spec size.
func (e *Engine) renderSpec(crop image.Image, spec types.SizeSpec) image.Image {
	cb := crop.Bounds()
	cw, ch := cb.Dx(), cb.Dy()

	scale := math.Min(float64(spec.Width)/float64(cw), float64(spec.Height)/float64(ch))
	rw := int(math.Round(float64(cw) * scale))
	rh := int(math.Round(float64(ch) * scale))
	if rw < 1 {
		rw = 1
	}
	if rh < 1 {
		rh = 1
	}

	resized := e.backend.Resize(crop, rw, rh)

	canvas := image.NewNRGBA(image.Rect(0, 0, spec.Width, spec.Height))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: spec.Pad.NRGBA()}, image.Point{}, draw.Src)

	offX := (spec.Width - rw) / 2
	offY := (spec.Height - rh) / 2
	draw.Draw(canvas, image.Rect(offX, offY, offX+rw, offY+rh), resized, resized.Bounds().Min, draw.Src)

	return canvas
}
