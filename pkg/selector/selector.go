package selector

import (
	"image"
	"math/rand"

	"github.com/menta2k/batch-composer/pkg/types"
)

// Selection heuristics for picking one bounding box per source image.
const (
	// background classification
	edgeSamplesPerSide = 100
	whiteChannelMin    = 220 // all of R,G,B must exceed this
	whiteFraction      = 0.7

	// center-square fallback covers 80% of the shorter dimension
	centerCropRatio = 0.8

	// prediction filtering
	defaultMinScore = 0.3
	minAreaFloor    = 1000
	minAreaRatio    = 0.02
	maxAreaCap      = 200000
	maxAreaRatio    = 0.8
)

// Options overrides the default filtering thresholds. Zero values keep the
// defaults.
type Options struct {
	MinScore float64
	MinArea  int
	MaxArea  int
}

// Select picks one bounding box for the image given candidate predictions,
// using default options.
func Select(img image.Image, preds []types.Prediction) types.BoundingBox {
	return SelectWithOptions(img, preds, Options{})
}

// SelectWithOptions picks one bounding box for the image.
//
// Priority order: a white studio background always wins the center-square
// crop (generous product margin assumed); otherwise the largest prediction
// inside the area window with sufficient score is taken; every other case
// falls back to the center square.
func SelectWithOptions(img image.Image, preds []types.Prediction, opts Options) types.BoundingBox {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	if IsWhiteBackground(img) {
		return CenterSquare(w, h)
	}
	if len(preds) == 0 {
		return CenterSquare(w, h)
	}

	imageArea := w * h
	minArea := maxInt(minAreaFloor, int(minAreaRatio*float64(imageArea)))
	maxArea := minInt(int(maxAreaRatio*float64(imageArea)), maxAreaCap)
	if opts.MinArea > 0 {
		minArea = opts.MinArea
	}
	if opts.MaxArea > 0 {
		maxArea = opts.MaxArea
	}
	if minArea > maxArea {
		// huge images: the area window collapses
		return CenterSquare(w, h)
	}

	minScore := opts.MinScore
	if minScore == 0 {
		minScore = defaultMinScore
	}

	bestIdx := -1
	bestArea := 0
	for i, p := range preds {
		area := p.Box.Area()
		if area < minArea || area > maxArea || p.Score < minScore {
			continue
		}
		// strict comparison keeps the first-encountered box on ties
		if area > bestArea {
			bestArea = area
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return CenterSquare(w, h)
	}
	return preds[bestIdx].Box.Clamp(w, h)
}

// CenterSquare is the fallback crop: a centered square covering 80% of the
// shorter image dimension. The side length floors, so odd dimensions may be
// off-center by one pixel.
func CenterSquare(w, h int) types.BoundingBox {
	side := int(float64(minInt(w, h)) * centerCropRatio)
	return types.BoundingBox{
		Left:   (w - side) / 2,
		Top:    (h - side) / 2,
		Width:  side,
		Height: side,
	}
}

// IsWhiteBackground samples pseudo-random pixel coordinates along the four
// image edges and classifies the background as white when more than 70% of
// the samples have all channels above 220.
//
// The sampler is seeded from the image dimensions, so the classification is
// reproducible for a given image even near the threshold.
func IsWhiteBackground(img image.Image) bool {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return false
	}

	rng := rand.New(rand.NewSource(int64(w)<<32 ^ int64(h)))

	whitish := 0
	total := 0
	sample := func(x, y int) {
		r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
		if r>>8 > whiteChannelMin && g>>8 > whiteChannelMin && b>>8 > whiteChannelMin {
			whitish++
		}
		total++
	}

	for i := 0; i < edgeSamplesPerSide; i++ {
		sample(rng.Intn(w), 0)   // top
		sample(rng.Intn(w), h-1) // bottom
		sample(0, rng.Intn(h))   // left
		sample(w-1, rng.Intn(h)) // right
	}

	return float64(whitish)/float64(total) > whiteFraction
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
