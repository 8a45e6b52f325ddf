package compositor

import (
	"fmt"
	"image"
	"image/draw"
	"math"
	"path/filepath"
	"strings"

	"github.com/menta2k/batch-composer/pkg/geometry"
	"github.com/menta2k/batch-composer/pkg/types"
)

// Layer records one placed cell for layered-document export: the source
// crop region, the on-canvas offset, and the scaled cell bitmap.
type Layer struct {
	Name   string
	Crop   image.Rectangle
	Offset image.Point
	Bitmap image.Image
}

// Result is a composed grid canvas plus its per-cell layer records.
type Result struct {
	Canvas *image.NRGBA
	Layers []Layer
}

// Compositor draws N images into one canvas using crop-to-fill placement.
type Compositor struct {
	backend geometry.Backend
}

// New creates a compositor on the given geometry backend.
func New(backend geometry.Backend) *Compositor {
	return &Compositor{backend: backend}
}

// ComposeGrid lays the group's images into a width x height canvas following
// the row pattern, top-to-bottom and left-to-right. The canvas is filled
// with the layout background first; cells beyond the image count stay
// unfilled and images beyond the pattern capacity are dropped.
//
// Gutter geometry: every non-last row gets floor((height-totalGutter)/rows)
// pixels and the last row absorbs the remainder, so no rounding gap opens at
// the bottom edge; cell widths behave the same within each row.
func (c *Compositor) ComposeGrid(group types.ComposeGroup, width, height int, def types.LayoutDefinition, pattern types.LayoutPattern) (*Result, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: canvas size %dx%d must be positive", types.ErrInvalidRequest, width, height)
	}
	rowCount := len(pattern.Rows)
	if rowCount == 0 {
		return nil, fmt.Errorf("%w: empty layout pattern for group %q", types.ErrInvalidRequest, group.Name)
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: def.Background.NRGBA()}, image.Point{}, draw.Src)

	result := &Result{Canvas: canvas}

	gutter := def.Gutter
	baseRowH := (height - gutter*(rowCount-1)) / rowCount

	idx := 0
	y := 0
	for rowIdx, cols := range pattern.Rows {
		if cols <= 0 {
			return nil, fmt.Errorf("%w: non-positive column count in pattern for group %q", types.ErrInvalidRequest, group.Name)
		}
		rowH := baseRowH
		if rowIdx == rowCount-1 {
			rowH = height - y
		}

		baseCellW := (width - gutter*(cols-1)) / cols
		x := 0
		for col := 0; col < cols; col++ {
			cellW := baseCellW
			if col == cols-1 {
				cellW = width - x
			}

			if idx < len(group.Images) {
				c.placeCell(result, group, idx, x, y, cellW, rowH)
				idx++
			}
			x += cellW + gutter
		}
		y += rowH + gutter
	}

	return result, nil
}

// placeCell crop-to-fills one image into its cell: the centered source
// region matching the cell aspect is cut out and scaled to cover the cell
// exactly, discarding overflow content instead of padding.
func (c *Compositor) placeCell(result *Result, group types.ComposeGroup, idx, x, y, cellW, cellH int) {
	img := group.Images[idx]
	bounds := img.Bounds()
	iw, ih := bounds.Dx(), bounds.Dy()
	if iw == 0 || ih == 0 || cellW <= 0 || cellH <= 0 {
		return
	}

	cellAspect := float64(cellW) / float64(cellH)
	imgAspect := float64(iw) / float64(ih)

	var src image.Rectangle
	if imgAspect > cellAspect {
		// relatively wider: crop width, centered horizontally
		srcW := int(math.Round(float64(ih) * cellAspect))
		if srcW < 1 {
			srcW = 1
		}
		srcX := (iw - srcW) / 2
		src = image.Rect(srcX, 0, srcX+srcW, ih)
	} else {
		// relatively taller: crop height, centered vertically
		srcH := int(math.Round(float64(iw) / cellAspect))
		if srcH < 1 {
			srcH = 1
		}
		srcY := (ih - srcH) / 2
		src = image.Rect(0, srcY, iw, srcY+srcH)
	}

	cropped := c.backend.Crop(img, src.Add(bounds.Min))
	scaled := c.backend.Resize(cropped, cellW, cellH)

	draw.Draw(result.Canvas, image.Rect(x, y, x+cellW, y+cellH), scaled, scaled.Bounds().Min, draw.Src)

	result.Layers = append(result.Layers, Layer{
		Name:   layerName(group, idx),
		Crop:   src,
		Offset: image.Pt(x, y),
		Bitmap: scaled,
	})
}

func layerName(group types.ComposeGroup, idx int) string {
	if idx < len(group.Filenames) && group.Filenames[idx] != "" {
		base := filepath.Base(group.Filenames[idx])
		return strings.TrimSuffix(base, filepath.Ext(base))
	}
	return fmt.Sprintf("Image_%d", idx+1)
}
