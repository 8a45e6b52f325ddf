package client

import (
	"context"
	"image"

	"github.com/menta2k/batch-composer/pkg/types"
)

// Predictor turns a raw image into candidate subject boxes in source-pixel
// space. Implementations may fail; wrap a Predictor in a detection.Handle
// when the caller needs the never-errors guarantee.
type Predictor interface {
	Predict(ctx context.Context, img image.Image) ([]types.Prediction, error)
}
