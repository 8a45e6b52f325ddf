package geometry

import (
	"image"
	"image/color"
	"testing"
)

func createTestImage(width, height int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x % 256), uint8(y % 256), 0, 255})
		}
	}
	return img
}

func TestProbeReturnsWorkingBackend(t *testing.T) {
	b := Probe()
	if b == nil {
		t.Fatal("Probe() returned nil")
	}
	if b.Name() == "" {
		t.Error("Expected a named backend")
	}

	out := b.Resize(createTestImage(20, 20), 10, 10)
	if got := out.Bounds(); got.Dx() != 10 || got.Dy() != 10 {
		t.Errorf("Expected 10x10, got %dx%d", got.Dx(), got.Dy())
	}
}

func TestBackendsCropAndResize(t *testing.T) {
	backends := []Backend{ImagingBackend{}, RasterFallback{}}
	src := createTestImage(100, 80)

	for _, b := range backends {
		cropped := b.Crop(src, image.Rect(10, 10, 60, 50))
		if got := cropped.Bounds(); got.Dx() != 50 || got.Dy() != 40 {
			t.Errorf("%s: expected 50x40 crop, got %dx%d", b.Name(), got.Dx(), got.Dy())
		}

		resized := b.Resize(cropped, 25, 20)
		if got := resized.Bounds(); got.Dx() != 25 || got.Dy() != 20 {
			t.Errorf("%s: expected 25x20 resize, got %dx%d", b.Name(), got.Dx(), got.Dy())
		}
	}
}

func TestRasterFallbackCropCopiesPixels(t *testing.T) {
	src := createTestImage(50, 50)
	b := RasterFallback{}

	cropped := b.Crop(src, image.Rect(10, 20, 30, 40))
	want := color.NRGBAModel.Convert(src.At(10, 20)).(color.NRGBA)
	got := color.NRGBAModel.Convert(cropped.At(cropped.Bounds().Min.X, cropped.Bounds().Min.Y)).(color.NRGBA)
	if got != want {
		t.Errorf("Expected top-left pixel %+v, got %+v", want, got)
	}
}
