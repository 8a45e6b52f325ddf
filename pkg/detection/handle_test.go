package detection

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/menta2k/batch-composer/pkg/client"
	"github.com/menta2k/batch-composer/pkg/types"
)

type fakePredictor struct {
	preds []types.Prediction
	err   error
	calls int
}

func (f *fakePredictor) Predict(ctx context.Context, img image.Image) ([]types.Prediction, error) {
	f.calls++
	return f.preds, f.err
}

func testImage() image.Image {
	return image.NewNRGBA(image.Rect(0, 0, 10, 10))
}

func TestDetectWithoutFactory(t *testing.T) {
	h := NewHandle(nil)

	preds := h.Detect(context.Background(), "a.jpg", testImage())
	if preds != nil {
		t.Errorf("Expected nil predictions without a factory, got %v", preds)
	}
	if !h.Failed() {
		t.Error("Expected handle to report failed")
	}
	if !errors.Is(h.InitErr(), types.ErrDetectorUnavailable) {
		t.Errorf("Expected ErrDetectorUnavailable, got %v", h.InitErr())
	}
}

func TestDetectFactoryFailureIsPermanent(t *testing.T) {
	calls := 0
	h := NewHandle(func() (client.Predictor, error) {
		calls++
		return nil, errors.New("connection refused")
	})

	for i := 0; i < 3; i++ {
		if preds := h.Detect(context.Background(), "", testImage()); preds != nil {
			t.Errorf("Expected nil predictions from failed handle, got %v", preds)
		}
	}
	if calls != 1 {
		t.Errorf("Expected factory to run once, ran %d times", calls)
	}
	if !h.Failed() {
		t.Error("Expected handle to report failed")
	}
}

func TestDetectReturnsPredictions(t *testing.T) {
	want := []types.Prediction{
		{Box: types.BoundingBox{Left: 1, Top: 2, Width: 3, Height: 4}, Score: 0.8},
	}
	h := NewHandleFor(&fakePredictor{preds: want})

	got := h.Detect(context.Background(), "a.jpg", testImage())
	if len(got) != 1 || got[0] != want[0] {
		t.Errorf("Expected %v, got %v", want, got)
	}
	if h.Failed() {
		t.Error("Expected handle to be healthy")
	}
}

func TestDetectPredictorErrorDegrades(t *testing.T) {
	h := NewHandleFor(&fakePredictor{err: errors.New("timeout")})

	got := h.Detect(context.Background(), "a.jpg", testImage())
	if got != nil {
		t.Errorf("Expected nil predictions on predictor error, got %v", got)
	}
}

func TestDetectCachesByFileID(t *testing.T) {
	p := &fakePredictor{preds: []types.Prediction{{Score: 0.9}}}
	h := NewHandleFor(p)

	h.Detect(context.Background(), "same.jpg", testImage())
	h.Detect(context.Background(), "same.jpg", testImage())
	if p.calls != 1 {
		t.Errorf("Expected one predictor call for a cached file id, got %d", p.calls)
	}

	h.Detect(context.Background(), "other.jpg", testImage())
	if p.calls != 2 {
		t.Errorf("Expected a second call for a new file id, got %d", p.calls)
	}

	// empty file id bypasses the cache
	h.Detect(context.Background(), "", testImage())
	h.Detect(context.Background(), "", testImage())
	if p.calls != 4 {
		t.Errorf("Expected uncached calls without a file id, got %d", p.calls)
	}
}
