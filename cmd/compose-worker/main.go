// Command compose-worker is a long-running pipeline worker. It reads one
// JSON request per line on stdin and writes line-delimited JSON events on
// stdout: advisory progress steps, one result per request, and error events
// for failed requests.
//
// The process keeps serving after request errors; it exits when stdin
// closes or a request with op "shutdown" arrives.
package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"

	"github.com/menta2k/batch-composer/internal/utils"
	"github.com/menta2k/batch-composer/pkg/client"
	"github.com/menta2k/batch-composer/pkg/detection"
	"github.com/menta2k/batch-composer/pkg/encoder"
	"github.com/menta2k/batch-composer/pkg/geometry"
	"github.com/menta2k/batch-composer/pkg/imageio"
	"github.com/menta2k/batch-composer/pkg/llamacpp"
	"github.com/menta2k/batch-composer/pkg/ollama"
	"github.com/menta2k/batch-composer/pkg/selector"
	"github.com/menta2k/batch-composer/pkg/types"
	"github.com/menta2k/batch-composer/pkg/worker"
)

// request is one line of worker input. Exactly one of ImagePath/ImageB64
// identifies the source for detect and compose; composeMany references
// images by path only.
type request struct {
	Op     string `json:"op"` // detect | compose | composeMany | shutdown
	FileID string `json:"file_id,omitempty"`

	ImagePath string `json:"image_path,omitempty"`
	ImageB64  string `json:"image_b64,omitempty"`

	// compose
	BBox      *types.BoundingBox `json:"bbox,omitempty"`
	Sizes     []types.SizeSpec   `json:"sizes,omitempty"`
	ExportPSD bool               `json:"export_psd,omitempty"`
	OutputDir string             `json:"output_dir,omitempty"`
	Format    string             `json:"format,omitempty"`

	// composeMany
	Groups   []groupRequest                              `json:"groups,omitempty"`
	Profiles []types.ProfileDef                          `json:"profiles,omitempty"`
	Layouts  map[types.Orientation]types.LayoutDefinition `json:"layouts,omitempty"`
}

type groupRequest struct {
	Name       string   `json:"name"`
	ImagePaths []string `json:"image_paths"`
}

// composeResult lists the files a compose or composeMany request produced.
type composeResult struct {
	Written []string `json:"written"`
}

func main() {
	var backend, url, model string
	var conf float64
	var minArea, maxArea int
	var quality int
	var lossless bool

	flag.StringVar(&backend, "backend", "none", "detector backend: ollama, llamacpp or none")
	flag.StringVar(&url, "url", "", "detector server URL")
	flag.StringVar(&model, "model", "openbmb/minicpm-v4.5", "vision model name")
	flag.Float64Var(&conf, "conf", 0, "minimum detection confidence (0=default)")
	flag.IntVar(&minArea, "min-area", 0, "minimum accepted bbox area in px (0=default)")
	flag.IntVar(&maxArea, "max-area", 0, "maximum accepted bbox area in px (0=default)")
	flag.IntVar(&quality, "quality", 90, "JPEG/WebP output quality (1-100)")
	flag.BoolVar(&lossless, "lossless", false, "WebP lossless mode")
	flag.Parse()

	events := worker.NewEventWriter(os.Stdout)

	enc := encoder.New()
	enc.JPEGQuality = quality
	enc.WebPQuality = float32(quality)
	enc.WebPLossless = lossless

	handle := detection.NewHandle(predictorFactory(backend, url, model))
	w := worker.New(handle, geometry.Probe(), enc, events.Progress)
	w.SetSelectorOptions(selector.Options{MinScore: conf, MinArea: minArea, MaxArea: maxArea})

	ctx := context.Background()
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 1024*1024), 64*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			events.Error(fmt.Errorf("%w: bad request line: %v", types.ErrInvalidRequest, err))
			continue
		}
		if req.Op == "shutdown" {
			return
		}
		if err := serve(ctx, w, events, req, quality, lossless); err != nil {
			events.Error(err)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("stdin: %v", err)
	}
}

func predictorFactory(backend, url, model string) func() (client.Predictor, error) {
	switch backend {
	case "ollama":
		if url == "" {
			url = "http://localhost:11434"
		}
		return func() (client.Predictor, error) { return ollama.NewClient(url, model) }
	case "llamacpp":
		if url == "" {
			url = "http://localhost:8080"
		}
		return func() (client.Predictor, error) { return llamacpp.NewClient(url, model) }
	default:
		return nil
	}
}

func serve(ctx context.Context, w *worker.Worker, events *worker.EventWriter, req request, quality int, lossless bool) error {
	switch req.Op {
	case "detect":
		img, err := loadSource(req)
		if err != nil {
			return err
		}
		return events.Result(req.FileID, w.Detect(ctx, req.FileID, img))

	case "compose":
		img, err := loadSource(req)
		if err != nil {
			return err
		}
		bbox := resolveBBox(ctx, w, req, img)
		out, err := w.Compose(ctx, types.ComposeRequest{
			Image:     img,
			BBox:      bbox,
			Sizes:     req.Sizes,
			ExportPSD: req.ExportPSD,
		})
		if err != nil {
			return err
		}
		written, err := writeCompose(req, out, quality, lossless)
		if err != nil {
			return err
		}
		return events.Result(req.FileID, composeResult{Written: written})

	case "composeMany":
		cmReq, err := buildComposeMany(req)
		if err != nil {
			return err
		}
		out, err := w.ComposeMany(ctx, cmReq)
		if err != nil {
			return err
		}
		written, err := writeComposeMany(req, out)
		if err != nil {
			return err
		}
		return events.Result(req.FileID, composeResult{Written: written})

	default:
		return fmt.Errorf("%w: unknown op %q", types.ErrInvalidRequest, req.Op)
	}
}

func loadSource(req request) (image.Image, error) {
	switch {
	case req.ImagePath != "":
		img, err := imageio.Load(req.ImagePath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrInvalidRequest, err)
		}
		return img, nil
	case req.ImageB64 != "":
		data, err := base64.StdEncoding.DecodeString(req.ImageB64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad image_b64: %v", types.ErrInvalidRequest, err)
		}
		img, err := imageio.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrInvalidRequest, err)
		}
		return img, nil
	default:
		return nil, fmt.Errorf("%w: request needs image_path or image_b64", types.ErrInvalidRequest)
	}
}

// resolveBBox uses the caller-supplied box when present and otherwise runs
// the detect-then-select path inline.
func resolveBBox(ctx context.Context, w *worker.Worker, req request, img image.Image) types.BoundingBox {
	if req.BBox != nil {
		return *req.BBox
	}
	resp := w.Detect(ctx, req.FileID, img)
	return w.SelectBoundingBox(img, resp.Predictions)
}

func writeCompose(req request, out *worker.ComposeResponse, quality int, lossless bool) ([]string, error) {
	if req.OutputDir == "" {
		return nil, fmt.Errorf("%w: compose request needs output_dir", types.ErrInvalidRequest)
	}
	format := req.Format
	if format == "" {
		format = types.FormatJPG
	}

	stem := "output"
	if req.ImagePath != "" {
		stem = utils.BaseName(req.ImagePath)
	} else if req.FileID != "" {
		stem = utils.SanitizeFilename(req.FileID)
	}

	var written []string
	for _, spec := range req.Sizes {
		raster, ok := out.Rasters[spec.Name]
		if !ok {
			continue
		}
		dst := filepath.Join(req.OutputDir, spec.Name, fmt.Sprintf("%s_%s_%dx%d.%s", stem, spec.Name, spec.Width, spec.Height, format))
		if err := writeRaster(raster, dst, format, quality, lossless); err != nil {
			return nil, err
		}
		written = append(written, dst)
	}
	if len(out.Layered) > 0 {
		dst := filepath.Join(req.OutputDir, fmt.Sprintf("%s.psd", stem))
		if err := utils.EnsureDir(filepath.Dir(dst)); err != nil {
			return nil, err
		}
		if err := os.WriteFile(dst, out.Layered, 0644); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrEncodingFailure, err)
		}
		written = append(written, dst)
	}
	return written, nil
}

func writeRaster(img image.Image, dst, format string, quality int, lossless bool) error {
	if err := utils.EnsureDir(filepath.Dir(dst)); err != nil {
		return err
	}
	if err := imageio.Save(img, dst, format, quality, lossless); err != nil {
		return fmt.Errorf("%w: %v", types.ErrEncodingFailure, err)
	}
	return nil
}

func buildComposeMany(req request) (types.ComposeManyRequest, error) {
	out := types.ComposeManyRequest{
		Profiles: req.Profiles,
		Layouts:  req.Layouts,
	}
	for _, g := range req.Groups {
		group := types.ComposeGroup{Name: g.Name}
		for _, p := range g.ImagePaths {
			img, err := imageio.Load(p)
			if err != nil {
				return out, fmt.Errorf("%w: group %s: %v", types.ErrInvalidRequest, g.Name, err)
			}
			group.Images = append(group.Images, img)
			group.Filenames = append(group.Filenames, filepath.Base(p))
		}
		out.Groups = append(out.Groups, group)
	}
	return out, nil
}

func writeComposeMany(req request, out *worker.ComposeManyResponse) ([]string, error) {
	if req.OutputDir == "" {
		return nil, fmt.Errorf("%w: composeMany request needs output_dir", types.ErrInvalidRequest)
	}
	blobsOf := func(rec types.OutputRecord) map[string][]byte {
		return map[string][]byte{
			types.FormatPNG:  rec.PNG,
			types.FormatJPG:  rec.JPEG,
			types.FormatWebP: rec.WebP,
			types.FormatPSD:  rec.PSD,
		}
	}

	var written []string
	for _, rec := range out.Outputs {
		blobs := blobsOf(rec)
		for _, format := range rec.Formats {
			data := blobs[format]
			if len(data) == 0 {
				continue
			}
			dst := utils.OutputPath(req.OutputDir, rec.Tag, rec.Filename, format, rec.GroupByFormat)
			if err := utils.EnsureDir(filepath.Dir(dst)); err != nil {
				return nil, err
			}
			if err := os.WriteFile(dst, data, 0644); err != nil {
				return nil, fmt.Errorf("%w: %v", types.ErrEncodingFailure, err)
			}
			written = append(written, dst)
		}
	}
	return written, nil
}
