package encoder

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/menta2k/batch-composer/pkg/compositor"
	"github.com/menta2k/batch-composer/pkg/types"
)

func createCanvas(width, height int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{10, 20, 30, 255})
		}
	}
	return img
}

func TestPNGRoundTrip(t *testing.T) {
	e := New()
	data, err := e.PNG(createCanvas(120, 80))
	if err != nil {
		t.Fatalf("PNG encode failed: %v", err)
	}

	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("PNG decode failed: %v", err)
	}
	b := decoded.Bounds()
	if b.Dx() != 120 || b.Dy() != 80 {
		t.Errorf("Expected 120x80, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestJPEGRoundTrip(t *testing.T) {
	e := New()
	data, err := e.JPEG(createCanvas(120, 80))
	if err != nil {
		t.Fatalf("JPEG encode failed: %v", err)
	}

	decoded, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("JPEG decode failed: %v", err)
	}
	b := decoded.Bounds()
	if b.Dx() != 120 || b.Dy() != 80 {
		t.Errorf("Expected 120x80, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestLayeredPrependsHiddenBackground(t *testing.T) {
	e := New()
	canvas := createCanvas(64, 64)
	layers := []compositor.Layer{
		{Name: "cell1", Bitmap: createCanvas(32, 32), Offset: image.Pt(0, 0)},
		{Name: "cell2", Bitmap: createCanvas(32, 32), Offset: image.Pt(32, 32)},
	}

	data, err := e.Layered(canvas, layers)
	if err != nil {
		t.Fatalf("Layered encode failed: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("8BPS")) {
		t.Error("Expected a PSD document")
	}
	// cells plus the hidden background layer
	count := int(data[42])<<8 | int(data[43])
	if count != 3 {
		t.Errorf("Expected 3 layers, got %d", count)
	}
}

func TestApplyFillsRequestedFormats(t *testing.T) {
	e := New()
	rec := types.OutputRecord{
		Filename: "group_profile",
		Bitmap:   createCanvas(40, 40),
		Formats:  []string{types.FormatJPG, types.FormatPNG},
	}

	if err := e.Apply(&rec, nil); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(rec.JPEG) == 0 {
		t.Error("Expected JPEG blob")
	}
	if len(rec.PNG) == 0 {
		t.Error("Expected PNG blob")
	}
	if len(rec.WebP) != 0 || len(rec.PSD) != 0 {
		t.Error("Expected unrequested formats to stay empty")
	}
}

func TestApplyUnknownFormat(t *testing.T) {
	e := New()
	rec := types.OutputRecord{
		Bitmap:  createCanvas(10, 10),
		Formats: []string{"bmp"},
	}

	if err := e.Apply(&rec, nil); err == nil {
		t.Error("Expected error for unknown format")
	}
}
