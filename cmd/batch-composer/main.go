package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	batchcomposer "github.com/menta2k/batch-composer"
	"github.com/menta2k/batch-composer/internal/config"
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

// detectWorkers bounds concurrent detection requests against the model
// server.
const detectWorkers = 3

func main() {
	var cfgPath, in, outDir string
	var backend, url, model string
	var conf float64
	var minArea, maxArea int
	var quality int
	var lossless bool
	var debug bool
	var dbgext string

	flag.StringVar(&cfgPath, "cfg", "", "config file path (default: ~/.config/batch-composer/output_profiles.json)")
	flag.StringVar(&in, "in", "", "input root: loose images are cropped, subfolders are composed")
	flag.StringVar(&outDir, "out", "out", "output directory")
	flag.StringVar(&backend, "backend", "none", "detector backend: ollama, llamacpp or none")
	flag.StringVar(&url, "url", "", "detector server URL (defaults: ollama=http://localhost:11434, llamacpp=http://localhost:8080)")
	flag.StringVar(&model, "model", "openbmb/minicpm-v4.5", "vision model name")

	flag.Float64Var(&conf, "conf", 0, "minimum detection confidence (0=default)")
	flag.IntVar(&minArea, "min-area", 0, "minimum accepted bbox area in px (0=default)")
	flag.IntVar(&maxArea, "max-area", 0, "maximum accepted bbox area in px (0=default)")

	flag.IntVar(&quality, "quality", 90, "JPEG/WebP output quality (1-100)")
	flag.BoolVar(&lossless, "lossless", false, "WebP lossless mode")
	flag.BoolVar(&debug, "debug", false, "write debug overlay images showing the selected box")
	flag.StringVar(&dbgext, "dbgext", "png", "debug overlay format: png|jpg|webp")

	flag.Parse()
	if in == "" {
		log.Fatalf("usage: %s -in inputdir [-backend ollama|llamacpp|none] [-url server_url] [-out outdir] [-cfg config.json]", filepath.Base(os.Args[0]))
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	profiles, err := cfg.ProfileDefs()
	if err != nil {
		log.Fatal(err)
	}
	sizes, err := cfg.SizeSpecs()
	if err != nil {
		log.Fatal(err)
	}
	layouts, err := cfg.LayoutDefs()
	if err != nil {
		log.Fatal(err)
	}

	handle := detection.NewHandle(predictorFactory(backend, url, model))

	enc := encoder.New()
	enc.JPEGQuality = quality
	enc.WebPQuality = float32(quality)
	enc.WebPLossless = lossless

	backendImpl, berr := geometry.ProbeChecked()
	if berr != nil {
		log.Printf("primary geometry backend unavailable, using %s: %v", backendImpl.Name(), berr)
	}

	w := worker.New(handle, backendImpl, enc, func(step worker.Step) {
		log.Printf("step: %s", step)
	})
	w.SetSelectorOptions(selector.Options{MinScore: conf, MinArea: minArea, MaxArea: maxArea})
	composer := batchcomposer.NewWithWorker(w)

	files, dirs, err := utils.ScanInputRoot(in)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("input: %d loose files, %d groups", len(files), len(dirs))

	ctx := context.Background()

	if len(files) > 0 {
		if err := cropLooseFiles(ctx, composer, cfg, files, sizes, profiles, outDir, quality, lossless, debug, dbgext); err != nil {
			log.Fatal(err)
		}
	}
	if len(dirs) > 0 {
		if err := composeGroups(ctx, composer, dirs, profiles, layouts, outDir); err != nil {
			log.Fatal(err)
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = config.GetConfigPath()
		if !utils.FileExists(path) {
			log.Printf("no config at %s, using defaults", path)
			return config.Default(), nil
		}
	}
	return config.LoadFromFile(path)
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

// cropLooseFiles runs the single-image pipeline over the loose files under
// the input root. Detection is fanned out over a bounded group; the crop and
// save phase runs sequentially afterwards.
func cropLooseFiles(ctx context.Context, composer *batchcomposer.Composer, cfg *config.Config, files []string, sizes []types.SizeSpec, profiles []types.ProfileDef, outDir string, quality int, lossless, debug bool, dbgext string) error {
	images := make([]detectedImage, len(files))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(detectWorkers)
	for i, path := range files {
		g.Go(func() error {
			img, err := imageio.Load(path)
			if err != nil {
				return fmt.Errorf("load %s: %w", path, err)
			}
			resp := composer.Detect(gctx, path, img)
			mu.Lock()
			images[i] = detectedImage{img: img, preds: resp.Predictions}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	sep := cfg.Separator()
	wantPSD := anyProfileWants(profiles, types.FormatPSD)

	for i, path := range files {
		img := images[i].img
		bbox := composer.SelectBoundingBox(img, images[i].preds)
		log.Printf("%s: bbox %dx%d@%d,%d", filepath.Base(path), bbox.Width, bbox.Height, bbox.Left, bbox.Top)

		if debug {
			overlay := imageio.DrawDebugOverlay(img, bbox)
			dbgPath := filepath.Join(outDir, "debug", fmt.Sprintf("%s_box.%s", utils.BaseName(path), dbgext))
			if err := utils.EnsureDir(filepath.Dir(dbgPath)); err != nil {
				return err
			}
			if err := imageio.Save(overlay, dbgPath, dbgext, quality, lossless); err != nil {
				log.Printf("debug overlay save failed: %v", err)
			}
		}

		out, err := composer.Compose(ctx, types.ComposeRequest{
			Image:     img,
			BBox:      bbox,
			Sizes:     sizes,
			ExportPSD: wantPSD,
		})
		if err != nil {
			return fmt.Errorf("compose %s: %w", path, err)
		}

		stem := utils.BaseName(path)
		for _, profile := range profiles {
			raster, ok := out.Rasters[profile.Tag]
			if !ok {
				continue
			}
			for _, format := range profile.Formats {
				if format == types.FormatPSD {
					continue
				}
				name := fmt.Sprintf("%s%s%s%dx%d", stem, sep, profile.Tag, profile.Width, profile.Height)
				dst := utils.OutputPath(outDir, profile.Tag, name, format, profile.GroupByFormat)
				if err := utils.EnsureDir(filepath.Dir(dst)); err != nil {
					return err
				}
				if err := imageio.Save(raster, dst, format, quality, lossless); err != nil {
					return fmt.Errorf("save %s: %w", dst, err)
				}
				log.Printf("wrote %s", dst)
			}
		}

		// The layered document bundles every size once per source file.
		if wantPSD && len(out.Layered) > 0 {
			dst := filepath.Join(outDir, "psd", fmt.Sprintf("%s.psd", stem))
			if err := utils.EnsureDir(filepath.Dir(dst)); err != nil {
				return err
			}
			if err := os.WriteFile(dst, out.Layered, 0644); err != nil {
				return fmt.Errorf("save %s: %w", dst, err)
			}
			log.Printf("wrote %s", dst)
		}
	}
	return nil
}

type detectedImage struct {
	img   image.Image
	preds []types.Prediction
}

// composeGroups treats each subfolder of the input root as one group and
// composes it against every profile in a single batch request.
func composeGroups(ctx context.Context, composer *batchcomposer.Composer, dirs []string, profiles []types.ProfileDef, layouts map[types.Orientation]types.LayoutDefinition, outDir string) error {
	groups := make([]types.ComposeGroup, 0, len(dirs))
	for _, dir := range dirs {
		paths, err := utils.ListImageFiles(dir)
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			log.Printf("skipping empty group %s", dir)
			continue
		}
		group := types.ComposeGroup{Name: utils.SanitizeFilename(filepath.Base(dir))}
		for _, p := range paths {
			img, err := imageio.Load(p)
			if err != nil {
				return fmt.Errorf("load %s: %w", p, err)
			}
			group.Images = append(group.Images, img)
			group.Filenames = append(group.Filenames, filepath.Base(p))
		}
		groups = append(groups, group)
	}
	if len(groups) == 0 {
		return nil
	}

	resp, err := composer.ComposeMany(ctx, types.ComposeManyRequest{
		Groups:   groups,
		Profiles: profiles,
		Layouts:  layouts,
	})
	if err != nil {
		return err
	}

	for _, rec := range resp.Outputs {
		if err := writeRecord(rec, outDir); err != nil {
			return err
		}
	}
	return nil
}

func writeRecord(rec types.OutputRecord, outDir string) error {
	blobs := map[string][]byte{
		types.FormatPNG:  rec.PNG,
		types.FormatJPG:  rec.JPEG,
		types.FormatWebP: rec.WebP,
		types.FormatPSD:  rec.PSD,
	}
	for _, format := range rec.Formats {
		data := blobs[format]
		if len(data) == 0 {
			continue
		}
		dst := utils.OutputPath(outDir, rec.Tag, rec.Filename, format, rec.GroupByFormat)
		if err := utils.EnsureDir(filepath.Dir(dst)); err != nil {
			return err
		}
		if err := os.WriteFile(dst, data, 0644); err != nil {
			return fmt.Errorf("save %s: %w", dst, err)
		}
		log.Printf("wrote %s", dst)
	}
	return nil
}

func anyProfileWants(profiles []types.ProfileDef, format string) bool {
	for _, p := range profiles {
		for _, f := range p.Formats {
			if f == format {
				return true
			}
		}
	}
	return false
}
