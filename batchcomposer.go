// Package batchcomposer provides detection-driven batch cropping and
// multi-image grid composition.
//
// This package combines an external subject detector with bounding-box
// selection heuristics, an aspect-preserving crop/resize/pad engine, and a
// deterministic grid compositor, producing raster files and layered
// documents for a set of named output profiles.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"log"
//
//		batchcomposer "github.com/menta2k/batch-composer"
//		"github.com/menta2k/batch-composer/pkg/imageio"
//		"github.com/menta2k/batch-composer/pkg/ollama"
//		"github.com/menta2k/batch-composer/pkg/types"
//	)
//
//	func main() {
//		predictor, err := ollama.NewClient("http://localhost:11434", "openbmb/minicpm-v4.5")
//		if err != nil {
//			log.Fatal(err)
//		}
//		composer := batchcomposer.NewWithPredictor(predictor)
//
//		img, err := imageio.Load("photo.jpg")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		ctx := context.Background()
//		resp := composer.Detect(ctx, "photo.jpg", img)
//		bbox := composer.SelectBoundingBox(img, resp.Predictions)
//
//		out, err := composer.Compose(ctx, types.ComposeRequest{
//			Image: img,
//			BBox:  bbox,
//			Sizes: []types.SizeSpec{{Name: "thumb", Width: 400, Height: 400, Pad: types.White()}},
//		})
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		if err := imageio.Save(out.Rasters["thumb"], "photo_thumb.jpg", "jpg", 90, false); err != nil {
//			log.Fatal(err)
//		}
//	}
//
// The pipeline consists of these components:
//
//  1. Detection (pkg/detection): predictor session handle with degrade-to-empty semantics
//  2. Selector (pkg/selector): background/area/confidence bounding-box heuristics
//  3. Engine (pkg/engine): per-SizeSpec fit-and-pad rendering
//  4. Compositor (pkg/compositor): crop-to-fill grid composition
//  5. Encoder (pkg/encoder): raster and layered-document serialization
//
// Detection is an external collaborator: any implementation of
// client.Predictor works, and a failing or absent predictor degrades the
// pipeline to its center-square crop instead of failing requests.
package batchcomposer

import (
	"context"
	"image"

	"github.com/menta2k/batch-composer/pkg/client"
	"github.com/menta2k/batch-composer/pkg/detection"
	"github.com/menta2k/batch-composer/pkg/encoder"
	"github.com/menta2k/batch-composer/pkg/geometry"
	"github.com/menta2k/batch-composer/pkg/selector"
	"github.com/menta2k/batch-composer/pkg/types"
	"github.com/menta2k/batch-composer/pkg/worker"
)

// Version of the batch composer library
const Version = "1.0.0"

// Composer is the high-level interface to the pipeline.
type Composer struct {
	worker *worker.Worker
}

// New creates a Composer without a detector: every image degrades to the
// center-square heuristic.
func New() *Composer {
	return NewWithPredictor(nil)
}

// NewWithPredictor creates a Composer around the given predictor. A nil
// predictor is allowed and disables detection.
func NewWithPredictor(p client.Predictor) *Composer {
	var handle *detection.Handle
	if p != nil {
		handle = detection.NewHandleFor(p)
	} else {
		handle = detection.NewHandle(nil)
	}
	return &Composer{
		worker: worker.New(handle, geometry.Probe(), encoder.New(), nil),
	}
}

// NewWithWorker wraps an already-wired worker.
func NewWithWorker(w *worker.Worker) *Composer {
	return &Composer{worker: w}
}

// Detect returns candidate subject boxes for the image; never fails.
func (c *Composer) Detect(ctx context.Context, fileID string, img image.Image) worker.DetectResponse {
	return c.worker.Detect(ctx, fileID, img)
}

// SelectBoundingBox picks one bounding box from the predictions.
func (c *Composer) SelectBoundingBox(img image.Image, preds []types.Prediction) types.BoundingBox {
	return c.worker.SelectBoundingBox(img, preds)
}

// SetSelectorOptions overrides bbox selection thresholds.
func (c *Composer) SetSelectorOptions(opts selector.Options) {
	c.worker.SetSelectorOptions(opts)
}

// Compose crops one image into one bitmap per SizeSpec.
func (c *Composer) Compose(ctx context.Context, req types.ComposeRequest) (*worker.ComposeResponse, error) {
	return c.worker.Compose(ctx, req)
}

// ComposeMany composes every group with every profile.
func (c *Composer) ComposeMany(ctx context.Context, req types.ComposeManyRequest) (*worker.ComposeManyResponse, error) {
	return c.worker.ComposeMany(ctx, req)
}
