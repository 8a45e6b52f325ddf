package detection

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/menta2k/batch-composer/pkg/client"
	"github.com/menta2k/batch-composer/pkg/types"
)

// Handle owns the predictor session for one worker lifetime. The predictor
// is initialized lazily on first use; an initialization failure permanently
// disables detection for this handle (one-way init -> ready | failed), in
// which case Detect degrades to an empty prediction list instead of erroring.
type Handle struct {
	factory func() (client.Predictor, error)

	once      sync.Once
	predictor client.Predictor
	initErr   error

	// cache of predictions keyed by caller-supplied file identifier, so
	// re-detecting an unchanged file skips the model round trip
	cache *cache.Cache
}

// NewHandle creates a handle around a predictor factory. The factory runs at
// most once, on the first Detect call.
func NewHandle(factory func() (client.Predictor, error)) *Handle {
	return &Handle{
		factory: factory,
		cache:   cache.New(15*time.Minute, 30*time.Minute),
	}
}

// NewHandleFor wraps an already-constructed predictor.
func NewHandleFor(p client.Predictor) *Handle {
	return NewHandle(func() (client.Predictor, error) { return p, nil })
}

func (h *Handle) init() {
	h.once.Do(func() {
		if h.factory == nil {
			h.initErr = types.ErrDetectorUnavailable
			return
		}
		h.predictor, h.initErr = h.factory()
	})
}

// Failed reports whether the handle is permanently degraded. It forces
// initialization.
func (h *Handle) Failed() bool {
	h.init()
	return h.initErr != nil || h.predictor == nil
}

// InitErr returns the initialization error, if any, for logging.
func (h *Handle) InitErr() error {
	h.init()
	return h.initErr
}

// Detect returns candidate boxes for the image. It never fails: predictor
// errors and unavailable backends both yield an empty list so the pipeline
// can fall through to its center-square heuristic. fileID, when non-empty,
// keys the prediction cache and is otherwise opaque.
func (h *Handle) Detect(ctx context.Context, fileID string, img image.Image) []types.Prediction {
	if fileID != "" {
		if v, ok := h.cache.Get(fileID); ok {
			return v.([]types.Prediction)
		}
	}

	h.init()
	if h.initErr != nil || h.predictor == nil {
		return nil
	}

	preds, err := h.predictor.Predict(ctx, img)
	if err != nil {
		return nil
	}

	if fileID != "" {
		h.cache.Set(fileID, preds, cache.DefaultExpiration)
	}
	return preds
}
