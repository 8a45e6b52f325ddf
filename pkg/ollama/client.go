package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"golang.org/x/time/rate"

	"github.com/menta2k/batch-composer/pkg/imageio"
	"github.com/menta2k/batch-composer/pkg/types"
)

// DetectPrompt instructs the vision model to act as an object detector.
const DetectPrompt = `You are an object detector.

Return JSON only:
{
  "detections": [
    {"box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}, "class_id": 0, "score": 0.0}
  ]
}

HARD RULES
- All coordinates are normalized to [0,1] (NOT pixels).
- Each box tightly encloses one distinct object.
- score is your confidence in [0,1].
- class_id is a small integer category index, 0 if unknown.
- At most 10 detections, sorted by score descending.
- If nothing is found, return {"detections": []}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// Client is an Ollama-backed predictor for subject detection.
type Client struct {
	client  *api.Client
	model   string
	limiter *rate.Limiter

	// image preparation knobs
	sendFormat  string
	sendMaxDim  int
	sendQuality int
}

// NewClient creates a predictor talking to an Ollama server. Requests are
// rate limited so a busy batch does not swamp a CPU-bound model server.
func NewClient(ollamaURL, model string) (*Client, error) {
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}

	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	return &Client{
		client:      api.NewClient(baseURL, http.DefaultClient),
		model:       model,
		limiter:     rate.NewLimiter(rate.Every(500*time.Millisecond), 2),
		sendFormat:  "jpg",
		sendMaxDim:  1536,
		sendQuality: 85,
	}, nil
}

// Predict asks the model for candidate boxes and converts them to
// source-pixel space.
func (c *Client) Predict(ctx context.Context, img image.Image) ([]types.Prediction, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 300*time.Second) // CPU inference is slow
		defer cancel()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	imgB64, err := imageio.EncodeForModel(img, c.sendFormat, c.sendMaxDim, c.sendQuality)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare image: %w", err)
	}
	imgBytes, err := base64.StdEncoding.DecodeString(imgB64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 image: %v", err)
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: DetectPrompt,
				Images:  []api.ImageData{api.ImageData(imgBytes)},
			},
		},
		Stream: &streamFalse,
	}

	var responseContent string
	err = c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		responseContent = resp.Message.Content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat error: %v", err)
	}
	if responseContent == "" {
		return nil, fmt.Errorf("empty response from ollama")
	}

	bounds := img.Bounds()
	return parsePredictions(responseContent, bounds.Dx(), bounds.Dy())
}

type wireDetection struct {
	Box struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
		W float64 `json:"w"`
		H float64 `json:"h"`
	} `json:"box"`
	ClassID int     `json:"class_id"`
	Score   float64 `json:"score"`
}

type wirePayload struct {
	Detections []wireDetection `json:"detections"`
}

// parsePredictions converts the model's normalized boxes to pixel space.
// A malformed response yields an empty prediction list rather than an error:
// the model answered, it just answered badly.
func parsePredictions(raw string, imgW, imgH int) ([]types.Prediction, error) {
	raw = sanitizeModelJSON(raw)
	if !strings.HasPrefix(strings.TrimSpace(raw), "{") {
		return nil, nil
	}

	var payload wirePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		start := strings.Index(raw, "{")
		end := strings.LastIndex(raw, "}")
		if start < 0 || end <= start {
			return nil, nil
		}
		if err2 := json.Unmarshal([]byte(raw[start:end+1]), &payload); err2 != nil {
			return nil, nil
		}
	}

	preds := make([]types.Prediction, 0, len(payload.Detections))
	for _, d := range payload.Detections {
		box := types.BoundingBox{
			Left:   int(clamp(d.Box.X, 0, 1)*float64(imgW) + 0.5),
			Top:    int(clamp(d.Box.Y, 0, 1)*float64(imgH) + 0.5),
			Width:  int(clamp(d.Box.W, 0, 1)*float64(imgW) + 0.5),
			Height: int(clamp(d.Box.H, 0, 1)*float64(imgH) + 0.5),
		}
		box = box.Clamp(imgW, imgH)
		if box.Width <= 0 || box.Height <= 0 {
			continue
		}
		preds = append(preds, types.Prediction{
			Box:     box,
			ClassID: d.ClassID,
			Score:   clamp(d.Score, 0, 1),
		})
	}
	return preds, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// sanitizeModelJSON removes code fences, comments, and trailing commas from
// a model response before parsing.
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	// Remove /* ... */ block comments
	reBlock := regexp.MustCompile(`(?s)/\*.*?\*/`)
	raw = reBlock.ReplaceAllString(raw, "")

	// Remove // line/inline comments
	reLine := regexp.MustCompile(`(?m)^\s*//.*$`)
	raw = reLine.ReplaceAllString(raw, "")
	reInline := regexp.MustCompile(`(?m)//.*$`)
	raw = reInline.ReplaceAllString(raw, "")

	// Remove trailing commas before } or ]
	reTrailing := regexp.MustCompile(`,(\s*[}\]])`)
	raw = reTrailing.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
