package encoder

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/chai2010/webp"

	"github.com/menta2k/batch-composer/pkg/compositor"
	"github.com/menta2k/batch-composer/pkg/psd"
	"github.com/menta2k/batch-composer/pkg/types"
)

// Encoder serializes composed bitmaps to the requested raster formats and
// to the layered document format.
type Encoder struct {
	JPEGQuality  int
	WebPQuality  float32
	WebPLossless bool
}

// New creates an encoder with the default quality settings.
func New() *Encoder {
	return &Encoder{
		JPEGQuality: 90,
		WebPQuality: 90,
	}
}

// PNG encodes losslessly.
func (e *Encoder) PNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: png: %v", types.ErrEncodingFailure, err)
	}
	return buf.Bytes(), nil
}

// JPEG encodes with the configured quality.
func (e *Encoder) JPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("%w: jpeg: %v", types.ErrEncodingFailure, err)
	}
	return buf.Bytes(), nil
}

// WebP encodes with the configured quality and lossless mode.
func (e *Encoder) WebP(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	opts := &webp.Options{Lossless: e.WebPLossless, Quality: e.WebPQuality}
	if err := webp.Encode(&buf, img, opts); err != nil {
		return nil, fmt.Errorf("%w: webp: %v", types.ErrEncodingFailure, err)
	}
	return buf.Bytes(), nil
}

// Layered assembles the layered document: an invisible full-canvas base
// layer first (some readers treat the bottom layer as a flattened
// background, the hidden base keeps the first real layer editable),
// then one visible layer per placed cell.
func (e *Encoder) Layered(canvas image.Image, layers []compositor.Layer) ([]byte, error) {
	docLayers := make([]psd.Layer, 0, len(layers)+1)
	docLayers = append(docLayers, psd.Layer{
		Name:   "Background",
		Image:  canvas,
		Hidden: true,
	})
	for _, l := range layers {
		docLayers = append(docLayers, psd.Layer{
			Name:   l.Name,
			Image:  l.Bitmap,
			Offset: l.Offset,
		})
	}

	var buf bytes.Buffer
	if err := psd.Encode(&buf, canvas, docLayers); err != nil {
		return nil, fmt.Errorf("%w: psd: %v", types.ErrEncodingFailure, err)
	}
	return buf.Bytes(), nil
}

// Apply fills the record's encoded blobs for each requested format. A
// record with no formats is left untouched; encoding is purely
// format-conditional.
func (e *Encoder) Apply(rec *types.OutputRecord, layers []compositor.Layer) error {
	for _, f := range rec.Formats {
		var err error
		switch f {
		case types.FormatPNG:
			rec.PNG, err = e.PNG(rec.Bitmap)
		case types.FormatJPG:
			rec.JPEG, err = e.JPEG(rec.Bitmap)
		case types.FormatWebP:
			rec.WebP, err = e.WebP(rec.Bitmap)
		case types.FormatPSD:
			rec.PSD, err = e.Layered(rec.Bitmap, layers)
		default:
			err = fmt.Errorf("%w: unknown format %q", types.ErrEncodingFailure, f)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
