package selector

import (
	"image"
	"image/color"
	"testing"

	"github.com/menta2k/batch-composer/pkg/types"
)

// createSolidImage creates a uniformly colored test image
func createSolidImage(width, height int, c color.NRGBA) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func darkImage(width, height int) image.Image {
	return createSolidImage(width, height, color.NRGBA{64, 64, 64, 255})
}

func TestIsWhiteBackground(t *testing.T) {
	white := createSolidImage(200, 200, color.NRGBA{255, 255, 255, 255})
	if !IsWhiteBackground(white) {
		t.Error("Expected white image to classify as white background")
	}

	dark := darkImage(200, 200)
	if IsWhiteBackground(dark) {
		t.Error("Expected dark image not to classify as white background")
	}

	// 230 on all channels is above the 220 threshold
	offWhite := createSolidImage(200, 200, color.NRGBA{230, 230, 230, 255})
	if !IsWhiteBackground(offWhite) {
		t.Error("Expected off-white image to classify as white background")
	}
}

func TestWhiteBackgroundWinsOverPredictions(t *testing.T) {
	img := createSolidImage(1000, 1000, color.NRGBA{255, 255, 255, 255})
	preds := []types.Prediction{
		{Box: types.BoundingBox{Left: 10, Top: 10, Width: 300, Height: 300}, Score: 0.99},
	}

	got := Select(img, preds)
	want := types.BoundingBox{Left: 100, Top: 100, Width: 800, Height: 800}
	if got != want {
		t.Errorf("Expected center square %+v, got %+v", want, got)
	}
}

func TestCenterSquareFallbackWithoutPredictions(t *testing.T) {
	img := darkImage(1000, 1000)

	got := Select(img, nil)
	want := types.BoundingBox{Left: 100, Top: 100, Width: 800, Height: 800}
	if got != want {
		t.Errorf("Expected center square %+v, got %+v", want, got)
	}
}

func TestCenterSquare(t *testing.T) {
	tests := []struct {
		w, h int
		want types.BoundingBox
	}{
		{1000, 1000, types.BoundingBox{Left: 100, Top: 100, Width: 800, Height: 800}},
		{1200, 800, types.BoundingBox{Left: 280, Top: 80, Width: 640, Height: 640}},
		{800, 1200, types.BoundingBox{Left: 80, Top: 280, Width: 640, Height: 640}},
	}
	for _, tt := range tests {
		got := CenterSquare(tt.w, tt.h)
		if got != tt.want {
			t.Errorf("CenterSquare(%d, %d) = %+v, want %+v", tt.w, tt.h, got, tt.want)
		}
	}
}

func TestSelectLargestValidPrediction(t *testing.T) {
	// 1000x1000 image: area window is [20000, 200000]
	img := darkImage(1000, 1000)
	preds := []types.Prediction{
		{Box: types.BoundingBox{Left: 0, Top: 0, Width: 200, Height: 200}, Score: 0.9},   // 40000
		{Box: types.BoundingBox{Left: 50, Top: 50, Width: 400, Height: 400}, Score: 0.9}, // 160000
		{Box: types.BoundingBox{Left: 0, Top: 0, Width: 500, Height: 500}, Score: 0.9},   // 250000, above cap
		{Box: types.BoundingBox{Left: 0, Top: 0, Width: 350, Height: 350}, Score: 0.1},   // score too low
	}

	got := Select(img, preds)
	want := types.BoundingBox{Left: 50, Top: 50, Width: 400, Height: 400}
	if got != want {
		t.Errorf("Expected largest valid box %+v, got %+v", want, got)
	}
}

func TestSelectFirstBoxWinsTies(t *testing.T) {
	img := darkImage(1000, 1000)
	preds := []types.Prediction{
		{Box: types.BoundingBox{Left: 10, Top: 10, Width: 300, Height: 300}, Score: 0.5},
		{Box: types.BoundingBox{Left: 600, Top: 600, Width: 300, Height: 300}, Score: 0.9},
	}

	got := Select(img, preds)
	want := types.BoundingBox{Left: 10, Top: 10, Width: 300, Height: 300}
	if got != want {
		t.Errorf("Expected first box on equal area, got %+v", got)
	}
}

func TestSelectClampsToImage(t *testing.T) {
	img := darkImage(1000, 1000)
	preds := []types.Prediction{
		{Box: types.BoundingBox{Left: 800, Top: 800, Width: 400, Height: 400}, Score: 0.9},
	}

	got := Select(img, preds)
	want := types.BoundingBox{Left: 800, Top: 800, Width: 200, Height: 200}
	if got != want {
		t.Errorf("Expected clamped box %+v, got %+v", want, got)
	}
}

func TestHugeImageAreaWindowCollapses(t *testing.T) {
	// 4000x3000: minArea 240000 exceeds the 200000 cap, so every prediction
	// is rejected and the center square wins
	img := darkImage(4000, 3000)
	preds := []types.Prediction{
		{Box: types.BoundingBox{Left: 100, Top: 100, Width: 350, Height: 350}, Score: 0.95},
	}

	got := Select(img, preds)
	want := CenterSquare(4000, 3000)
	if got != want {
		t.Errorf("Expected center square %+v, got %+v", want, got)
	}
}

func TestSelectWithOptionsOverrides(t *testing.T) {
	img := darkImage(1000, 1000)
	preds := []types.Prediction{
		{Box: types.BoundingBox{Left: 0, Top: 0, Width: 100, Height: 100}, Score: 0.5}, // 10000, below default floor
	}

	if got := Select(img, preds); got != CenterSquare(1000, 1000) {
		t.Errorf("Expected fallback under default thresholds, got %+v", got)
	}

	got := SelectWithOptions(img, preds, Options{MinArea: 5000})
	want := types.BoundingBox{Left: 0, Top: 0, Width: 100, Height: 100}
	if got != want {
		t.Errorf("Expected lowered min area to accept the box, got %+v", got)
	}

	if got := SelectWithOptions(img, preds, Options{MinArea: 5000, MinScore: 0.8}); got != CenterSquare(1000, 1000) {
		t.Errorf("Expected raised score threshold to reject the box, got %+v", got)
	}
}

func TestIsWhiteBackgroundDeterministic(t *testing.T) {
	img := darkImage(500, 400)
	first := IsWhiteBackground(img)
	for i := 0; i < 5; i++ {
		if IsWhiteBackground(img) != first {
			t.Fatal("Expected repeated classification of the same image to be stable")
		}
	}
}
