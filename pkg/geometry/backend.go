package geometry

import (
	"image"
	"image/draw"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"

	"github.com/menta2k/batch-composer/pkg/types"
)

// Backend is the image-geometry capability the crop engine and compositor
// are built on: rectangular crop and exact-size resize. Two implementations
// exist; the choice is made once, not re-probed per call.
type Backend interface {
	Name() string
	Crop(img image.Image, rect image.Rectangle) image.Image
	Resize(img image.Image, width, height int) image.Image
}

// ImagingBackend is the primary backend, built on disintegration/imaging.
// Resize uses the box filter, an area-averaging downsample.
type ImagingBackend struct{}

func (ImagingBackend) Name() string { return "imaging" }

func (ImagingBackend) Crop(img image.Image, rect image.Rectangle) image.Image {
	return imaging.Crop(img, rect)
}

func (ImagingBackend) Resize(img image.Image, width, height int) image.Image {
	return imaging.Resize(img, width, height, imaging.Box)
}

// RasterFallback reproduces the same crop/resize semantics with a plain
// pixel copy and a bilinear scaler. Lower quality, same geometry.
type RasterFallback struct{}

func (RasterFallback) Name() string { return "raster" }

func (RasterFallback) Crop(img image.Image, rect image.Rectangle) image.Image {
	rect = rect.Intersect(img.Bounds())
	out := image.NewNRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(out, out.Bounds(), img, rect.Min, draw.Src)
	return out
}

func (RasterFallback) Resize(img image.Image, width, height int) image.Image {
	if width <= 0 || height <= 0 {
		return image.NewNRGBA(image.Rect(0, 0, 0, 0))
	}
	out := image.NewNRGBA(image.Rect(0, 0, width, height))
	xdraw.ApproxBiLinear.Scale(out, out.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return out
}

// Probe selects the backend: the imaging backend if a trial crop/resize
// round trip succeeds, the raster fallback otherwise.
func Probe() Backend {
	b, _ := ProbeChecked()
	return b
}

// ProbeChecked is Probe plus a sentinel error when the primary backend is
// unavailable, so callers can log the degradation. The returned fallback is
// always usable.
func ProbeChecked() (Backend, error) {
	primary := ImagingBackend{}
	if probeWorks(primary) {
		return primary, nil
	}
	return RasterFallback{}, types.ErrGeometryUnavailable
}

func probeWorks(b Backend) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	test := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	r := b.Resize(b.Crop(test, image.Rect(0, 0, 2, 2)), 2, 2)
	return r != nil && r.Bounds().Dx() == 2 && r.Bounds().Dy() == 2
}
