package worker

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/menta2k/batch-composer/pkg/compositor"
	"github.com/menta2k/batch-composer/pkg/detection"
	"github.com/menta2k/batch-composer/pkg/encoder"
	"github.com/menta2k/batch-composer/pkg/engine"
	"github.com/menta2k/batch-composer/pkg/geometry"
	"github.com/menta2k/batch-composer/pkg/layout"
	"github.com/menta2k/batch-composer/pkg/selector"
	"github.com/menta2k/batch-composer/pkg/types"
)

// Worker sequences the pipeline per request: detect, select, crop, compose,
// encode. One request is processed to completion at a time; callers on
// other goroutines queue up behind the mutex, which keeps per-request state
// unshared without any further locking.
type Worker struct {
	mu sync.Mutex

	detector   *detection.Handle
	engine     *engine.Engine
	compositor *compositor.Compositor
	encoder    *encoder.Encoder
	progress   ProgressFunc
	selectOpts selector.Options
}

// DetectResponse echoes the caller's opaque file identifier so responses
// can be reassembled out of order.
type DetectResponse struct {
	FileID      string             `json:"file_id,omitempty"`
	Predictions []types.Prediction `json:"predictions"`
}

// ComposeResponse carries one output bitmap per SizeSpec, plus the layered
// document when requested.
type ComposeResponse struct {
	Rasters map[string]image.Image
	Layered []byte
}

// ComposeManyResponse lists output records in group-major, profile-minor
// order.
type ComposeManyResponse struct {
	Outputs []types.OutputRecord
}

// New wires a worker. progress may be nil.
func New(detector *detection.Handle, backend geometry.Backend, enc *encoder.Encoder, progress ProgressFunc) *Worker {
	if enc == nil {
		enc = encoder.New()
	}
	w := &Worker{
		detector:   detector,
		engine:     engine.New(backend),
		compositor: compositor.New(backend),
		encoder:    enc,
		progress:   progress,
	}
	w.emit(StepInit)
	return w
}

// SetSelectorOptions overrides the bbox selection thresholds, typically
// from CLI flags. Call before dispatching requests.
func (w *Worker) SetSelectorOptions(opts selector.Options) {
	w.selectOpts = opts
}

func (w *Worker) emit(step Step) {
	if w.progress != nil {
		w.progress(step)
	}
}

func (w *Worker) emitCropStep() {
	if w.engine.Backend().Name() == "imaging" {
		w.emit(StepCropBackend)
	} else {
		w.emit(StepCropFallback)
	}
}

// Detect runs the predictor over the image. It never returns an error:
// detector failure degrades to an empty prediction list, so the pipeline
// never aborts a request solely because detection is down.
//
// Unlike the compose paths, Detect is not serialized: callers may dispatch
// many detection requests without waiting for responses and reassemble them
// by the echoed fileID.
func (w *Worker) Detect(ctx context.Context, fileID string, img image.Image) DetectResponse {
	w.emit(StepDetect)
	preds := w.detector.Detect(ctx, fileID, img)
	if preds == nil {
		preds = []types.Prediction{}
	}
	return DetectResponse{FileID: fileID, Predictions: preds}
}

// SelectBoundingBox picks one bounding box for an image given predictions,
// applying the worker's selector options.
func (w *Worker) SelectBoundingBox(img image.Image, preds []types.Prediction) types.BoundingBox {
	return selector.SelectWithOptions(img, preds, w.selectOpts)
}

// Compose is the single-image path: crop the bbox region into one bitmap
// per SizeSpec, optionally bundling the results as a layered document whose
// canvas is the first spec's bitmap and which carries one named layer per
// spec.
func (w *Worker) Compose(ctx context.Context, req types.ComposeRequest) (*ComposeResponse, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w.emitCropStep()
	rasters, err := w.engine.CropAndResize(req.Image, req.BBox, req.Sizes)
	if err != nil {
		return nil, err
	}

	resp := &ComposeResponse{Rasters: rasters}
	if req.ExportPSD {
		w.emit(StepEncodeDocument)
		canvas := rasters[req.Sizes[0].Name]
		layers := make([]compositor.Layer, 0, len(req.Sizes))
		for _, spec := range req.Sizes {
			layers = append(layers, compositor.Layer{
				Name:   spec.Name,
				Bitmap: rasters[spec.Name],
			})
		}
		resp.Layered, err = w.encoder.Layered(canvas, layers)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// ComposeMany is the batch path: outer loop over groups, inner loop over
// profiles. Each pair independently selects orientation and pattern, builds
// the grid, and encodes the requested formats. Profiles with no formats are
// skipped entirely.
func (w *Worker) ComposeMany(ctx context.Context, req types.ComposeManyRequest) (*ComposeManyResponse, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	profiles := make([]types.ProfileDef, len(req.Profiles))
	for i, p := range req.Profiles {
		profiles[i] = p.Normalize()
	}

	resp := &ComposeManyResponse{}
	for _, group := range req.Groups {
		for _, profile := range profiles {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if len(profile.Formats) == 0 {
				continue
			}

			orient := types.OrientationFor(profile.Width, profile.Height)
			def := req.Layouts[orient]
			pattern := layout.PatternFor(def, len(group.Images))

			w.emit(StepCompose)
			result, err := w.compositor.ComposeGrid(group, profile.Width, profile.Height, def, pattern)
			if err != nil {
				return nil, fmt.Errorf("compose %s/%s: %w", group.Name, profile.Tag, err)
			}

			rec := types.OutputRecord{
				Filename:      fmt.Sprintf("%s_%s", group.Name, profile.FileBase),
				Tag:           profile.Tag,
				Bitmap:        result.Canvas,
				Formats:       profile.Formats,
				GroupByFormat: profile.GroupByFormat,
			}
			if hasFormat(profile.Formats, types.FormatPSD) {
				w.emit(StepEncodeDocument)
			}
			if err := w.encoder.Apply(&rec, result.Layers); err != nil {
				return nil, fmt.Errorf("encode %s/%s: %w", group.Name, profile.Tag, err)
			}
			resp.Outputs = append(resp.Outputs, rec)
		}
	}
	return resp, nil
}

func hasFormat(formats []string, want string) bool {
	for _, f := range formats {
		if f == want {
			return true
		}
	}
	return false
}
