package worker

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/menta2k/batch-composer/pkg/detection"
	"github.com/menta2k/batch-composer/pkg/encoder"
	"github.com/menta2k/batch-composer/pkg/geometry"
	"github.com/menta2k/batch-composer/pkg/types"
)

func createSolidImage(width, height int, c color.NRGBA) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func newTestWorker(progress ProgressFunc) *Worker {
	return New(detection.NewHandle(nil), geometry.ImagingBackend{}, encoder.New(), progress)
}

func testLayouts() map[types.Orientation]types.LayoutDefinition {
	def := types.LayoutDefinition{Gutter: 4, Background: types.White()}
	return map[types.Orientation]types.LayoutDefinition{
		types.Vertical:   def,
		types.Horizontal: def,
		types.Square:     def,
	}
}

func testGroups(n int) []types.ComposeGroup {
	groups := make([]types.ComposeGroup, 0, n)
	names := []string{"alpha", "beta", "gamma"}
	for i := 0; i < n; i++ {
		groups = append(groups, types.ComposeGroup{
			Name: names[i],
			Images: []image.Image{
				createSolidImage(200, 200, color.NRGBA{255, 0, 0, 255}),
				createSolidImage(200, 200, color.NRGBA{0, 255, 0, 255}),
			},
			Filenames: []string{"one.jpg", "two.jpg"},
		})
	}
	return groups
}

func TestDetectEchoesFileID(t *testing.T) {
	w := newTestWorker(nil)

	resp := w.Detect(context.Background(), "photos/a.jpg", createSolidImage(50, 50, color.NRGBA{0, 0, 0, 255}))
	if resp.FileID != "photos/a.jpg" {
		t.Errorf("Expected echoed file id, got %q", resp.FileID)
	}
	if resp.Predictions == nil {
		t.Error("Expected empty (non-nil) prediction list without a detector")
	}
	if len(resp.Predictions) != 0 {
		t.Errorf("Expected no predictions, got %d", len(resp.Predictions))
	}
}

func TestComposeProducesEverySize(t *testing.T) {
	w := newTestWorker(nil)
	img := createSolidImage(600, 600, color.NRGBA{120, 50, 50, 255})

	resp, err := w.Compose(context.Background(), types.ComposeRequest{
		Image: img,
		BBox:  types.BoundingBox{Left: 100, Top: 100, Width: 300, Height: 300},
		Sizes: []types.SizeSpec{
			{Name: "web", Width: 300, Height: 200, Pad: types.White()},
			{Name: "thumb", Width: 100, Height: 100, Pad: types.Transparent()},
		},
	})
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if len(resp.Rasters) != 2 {
		t.Fatalf("Expected 2 rasters, got %d", len(resp.Rasters))
	}
	if b := resp.Rasters["web"].Bounds(); b.Dx() != 300 || b.Dy() != 200 {
		t.Errorf("Expected 300x200 web raster, got %dx%d", b.Dx(), b.Dy())
	}
	if resp.Layered != nil {
		t.Error("Expected no layered document without ExportPSD")
	}
}

func TestComposeExportPSD(t *testing.T) {
	w := newTestWorker(nil)
	img := createSolidImage(400, 400, color.NRGBA{10, 10, 10, 255})

	resp, err := w.Compose(context.Background(), types.ComposeRequest{
		Image: img,
		BBox:  types.BoundingBox{Left: 0, Top: 0, Width: 400, Height: 400},
		Sizes: []types.SizeSpec{
			{Name: "big", Width: 200, Height: 200, Pad: types.White()},
			{Name: "small", Width: 100, Height: 100, Pad: types.White()},
		},
		ExportPSD: true,
	})
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if !bytes.HasPrefix(resp.Layered, []byte("8BPS")) {
		t.Error("Expected a PSD layered document")
	}
}

func TestComposeInvalidRequest(t *testing.T) {
	w := newTestWorker(nil)

	_, err := w.Compose(context.Background(), types.ComposeRequest{})
	if !errors.Is(err, types.ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest, got %v", err)
	}

	_, err = w.Compose(context.Background(), types.ComposeRequest{
		Image: createSolidImage(10, 10, color.NRGBA{}),
		Sizes: []types.SizeSpec{
			{Name: "dup", Width: 10, Height: 10},
			{Name: "dup", Width: 20, Height: 20},
		},
	})
	if !errors.Is(err, types.ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest for duplicate names, got %v", err)
	}
}

func TestComposeManyGroupMajorOrder(t *testing.T) {
	w := newTestWorker(nil)

	resp, err := w.ComposeMany(context.Background(), types.ComposeManyRequest{
		Groups: testGroups(2),
		Profiles: []types.ProfileDef{
			{Tag: "web", Width: 600, Height: 400, Formats: []string{"jpg"}},
			{Tag: "tall", Width: 400, Height: 600, Formats: []string{"png"}},
		},
		Layouts: testLayouts(),
	})
	if err != nil {
		t.Fatalf("ComposeMany failed: %v", err)
	}

	want := []string{"alpha_web", "alpha_tall", "beta_web", "beta_tall"}
	if len(resp.Outputs) != len(want) {
		t.Fatalf("Expected %d outputs, got %d", len(want), len(resp.Outputs))
	}
	for i, rec := range resp.Outputs {
		if rec.Filename != want[i] {
			t.Errorf("Output %d: expected %q, got %q", i, want[i], rec.Filename)
		}
	}
}

func TestComposeManySkipsEmptyFormats(t *testing.T) {
	w := newTestWorker(nil)

	resp, err := w.ComposeMany(context.Background(), types.ComposeManyRequest{
		Groups: testGroups(3),
		Profiles: []types.ProfileDef{
			{Tag: "disabled", Width: 400, Height: 400, Formats: nil},
		},
		Layouts: testLayouts(),
	})
	if err != nil {
		t.Fatalf("ComposeMany failed: %v", err)
	}
	if len(resp.Outputs) != 0 {
		t.Errorf("Expected zero outputs for a profile without formats, got %d", len(resp.Outputs))
	}
}

func TestComposeManyFillsBlobs(t *testing.T) {
	w := newTestWorker(nil)

	resp, err := w.ComposeMany(context.Background(), types.ComposeManyRequest{
		Groups: testGroups(1),
		Profiles: []types.ProfileDef{
			{Tag: "layered", Width: 300, Height: 300, Formats: []string{"png", "psd"}},
		},
		Layouts: testLayouts(),
	})
	if err != nil {
		t.Fatalf("ComposeMany failed: %v", err)
	}
	if len(resp.Outputs) != 1 {
		t.Fatalf("Expected one output, got %d", len(resp.Outputs))
	}

	rec := resp.Outputs[0]
	if rec.Tag != "layered" {
		t.Errorf("Expected tag on the record, got %q", rec.Tag)
	}
	if len(rec.PNG) == 0 {
		t.Error("Expected PNG blob")
	}
	if !bytes.HasPrefix(rec.PSD, []byte("8BPS")) {
		t.Error("Expected PSD blob")
	}
	if len(rec.JPEG) != 0 {
		t.Error("Expected no JPEG blob")
	}
	if b := rec.Bitmap.Bounds(); b.Dx() != 300 || b.Dy() != 300 {
		t.Errorf("Expected 300x300 canvas, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestComposeManyMismatchedGroup(t *testing.T) {
	w := newTestWorker(nil)

	_, err := w.ComposeMany(context.Background(), types.ComposeManyRequest{
		Groups: []types.ComposeGroup{
			{
				Name:      "broken",
				Images:    []image.Image{createSolidImage(10, 10, color.NRGBA{})},
				Filenames: []string{"a.jpg", "b.jpg"},
			},
		},
		Profiles: []types.ProfileDef{{Tag: "t", Width: 100, Height: 100, Formats: []string{"jpg"}}},
		Layouts:  testLayouts(),
	})
	if !errors.Is(err, types.ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest for mismatched arrays, got %v", err)
	}
}

func TestProgressSteps(t *testing.T) {
	var steps []Step
	w := newTestWorker(func(s Step) { steps = append(steps, s) })

	img := createSolidImage(100, 100, color.NRGBA{5, 5, 5, 255})
	w.Detect(context.Background(), "a.jpg", img)
	_, err := w.Compose(context.Background(), types.ComposeRequest{
		Image: img,
		BBox:  types.BoundingBox{Left: 0, Top: 0, Width: 100, Height: 100},
		Sizes: []types.SizeSpec{{Name: "x", Width: 50, Height: 50, Pad: types.White()}},
	})
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}

	want := []Step{StepInit, StepDetect, StepCropBackend}
	if len(steps) != len(want) {
		t.Fatalf("Expected steps %v, got %v", want, steps)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Errorf("Step %d: expected %s, got %s", i, want[i], steps[i])
		}
	}
}
