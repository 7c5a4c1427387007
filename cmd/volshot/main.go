package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"

	"volshot/pkg/camera"
	"volshot/pkg/capture"
	"volshot/pkg/config"
	"volshot/pkg/output"
	"volshot/pkg/render"
	"volshot/pkg/scene"
	"volshot/pkg/source"
	"volshot/pkg/transfer"
	"volshot/pkg/visualization"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "volshot.yaml", "Path to the YAML configuration file")
	initConfig := flag.Bool("init-config", false, "Write a default configuration file and exit")
	inputDir := flag.String("input", "", "Directory containing 2D slices of the volume")
	labelDir := flag.String("labels", "", "Directory containing label slices used as a mask")
	mode := flag.String("mode", "", "Capture mode: screenshot or movie")
	outputPath := flag.String("output", "", "Screenshot file or movie directory")
	format := flag.String("format", "", "Movie frame format: png or webp")
	projection := flag.String("projection", "", "Projection: perspective or orthographic")
	dither := flag.String("dither", "", "Dither preset: none, 2x2 ... 8x8")
	width := flag.Int("width", 0, "Render width in pixels")
	height := flag.Int("height", 0, "Render height in pixels")
	frames := flag.Int("frames", 0, "Number of movie frames for a full turn")
	numCores := flag.Int("cores", 0, "Number of CPU cores to use (default: all available)")
	previewDir := flag.String("preview", "", "Directory for centre slice previews")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Default configuration written to: %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.Resolve(config.Flags{
		InputDir:   *inputDir,
		LabelDir:   *labelDir,
		Mode:       *mode,
		Output:     *outputPath,
		Format:     *format,
		Projection: *projection,
		Dither:     *dither,
		Width:      *width,
		Height:     *height,
		Frames:     *frames,
		NumCores:   *numCores,
		PreviewDir: *previewDir,
		Verbose:    *verbose,
	})

	// Validate inputs
	if cfg.Data.InputDir == "" {
		flag.Usage()
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration:\n%v", err)
	}

	logger, err := newLogger(cfg.Output.Verbose)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	err = run(cfg, logger)
	logger.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run loads the data and performs the capture. Every exit path returns to
// main so the logger is flushed before the process ends.
func run(cfg *config.Config, logger *zap.Logger) error {
	fmt.Println("================================")
	fmt.Println("VOLSHOT HEADLESS VOLUME CAPTURE")
	fmt.Println("================================")

	// Output problems are reported before anything is loaded or rendered
	sink, err := newSink(cfg)
	if err != nil {
		return fmt.Errorf("invalid output: %w", err)
	}

	startTime := time.Now()
	sc, err := buildScene(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to load data: %w", err)
	}
	fmt.Printf("Data loaded in %.2f seconds\n", time.Since(startTime).Seconds())

	if cfg.Output.PreviewDir != "" {
		if err := writePreviews(sc, cfg, logger); err != nil {
			return fmt.Errorf("failed to write previews: %w", err)
		}
	}

	proj, err := cfg.Projection()
	if err != nil {
		return fmt.Errorf("invalid projection: %w", err)
	}
	policy, err := capture.ParseFailurePolicy(cfg.Movie.FailurePolicy)
	if err != nil {
		return fmt.Errorf("invalid failure policy: %w", err)
	}

	cache := render.NewBlockCache(cfg.Render.MaxCacheMB, cfg.Render.CacheBlockSize)
	renderer := render.NewSoftware(cache)
	renderer.NumCores = cfg.Render.NumCores
	renderer.DitherWidth = cfg.DitherWidth()
	renderer.DitherSamples = cfg.Render.NumDitherSamples

	session := &capture.Session{
		Scene:    sc,
		Renderer: renderer,
		Sink:     sink,
		Cache:    cache,
		Logger:   logger,
		Options: capture.Options{
			Projection:    proj,
			Padding:       cfg.Camera.Padding,
			FitIterations: cfg.Camera.FitIterations,
			Realign:       camera.Realignment(cfg.Camera.Realign),
			Timepoint:     cfg.Data.Timepoint,
			Level:         cfg.Data.Level,
			Budget:        time.Duration(cfg.Render.MaxRenderMillis) * time.Millisecond,
			MaxStep:       cfg.Render.MaxStepInVoxels,
			MaxPasses:     cfg.Render.MaxPasses,
			FailurePolicy: policy,
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	startTime = time.Now()
	if cfg.Output.Mode == "movie" {
		fmt.Printf("Rendering %d frame orbit to: %s\n", cfg.Movie.Frames, cfg.Output.Dir)
		report, err := session.Movie(ctx, cfg.Movie.Frames)
		if err != nil {
			logger.Error("movie capture failed", zap.Error(err), zap.Int("written", report.Written))
			return err
		}
		fmt.Printf("\nMovie completed in %.2f seconds!\n", time.Since(startTime).Seconds())
		fmt.Printf("- Frames written: %d of %d\n", report.Written, report.Frames)
		fmt.Printf("- Render passes: %d\n", report.Passes)
		if len(report.Skipped) > 0 {
			fmt.Printf("- Skipped frames: %v\n", report.Skipped)
		}
		stats := cache.Stats()
		fmt.Printf("- Cache hits/misses/evictions: %d/%d/%d\n", stats.Hits, stats.Misses, stats.Evictions)
		return nil
	}

	fmt.Printf("Rendering screenshot to: %s\n", cfg.Output.Path)
	if err := session.Screenshot(ctx); err != nil {
		logger.Error("screenshot failed", zap.Error(err))
		return err
	}
	fmt.Printf("\nScreenshot completed in %.2f seconds!\n", time.Since(startTime).Seconds())
	return nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newSink(cfg *config.Config) (*output.FileSink, error) {
	var sink *output.FileSink
	if cfg.Output.Mode == "movie" {
		f, err := output.ParseFormat(cfg.Output.Format)
		if err != nil {
			return nil, err
		}
		if sink, err = output.NewMovieSink(cfg.Output.Dir, f); err != nil {
			return nil, err
		}
	} else {
		var err error
		if sink, err = output.NewScreenshotSink(cfg.Output.Path); err != nil {
			return nil, err
		}
	}
	sink.Width, sink.Height = cfg.Output.Width, cfg.Output.Height
	return sink, nil
}

// buildScene loads the slices, builds the resolution pyramid and registers
// the source with its display settings.
func buildScene(cfg *config.Config, logger *zap.Logger) (*scene.Scene, error) {
	opts := source.PyramidOptions{
		Levels:    cfg.Data.Levels,
		VoxelSize: r3.Vec{X: cfg.Data.VoxelSize[0], Y: cfg.Data.VoxelSize[1], Z: cfg.Data.VoxelSize[2]},
		VoxelType: source.UnsignedShort,
	}

	vol, err := source.LoadSliceDir(cfg.Data.InputDir, true)
	if err != nil {
		return nil, err
	}
	intensity, err := source.NewPyramid("intensity", vol, opts)
	if err != nil {
		return nil, err
	}
	dims := vol.Dims()
	logger.Info("volume loaded",
		zap.String("dir", cfg.Data.InputDir),
		zap.Ints("dims", dims[:]),
		zap.Int("levels", intensity.NumLevels()))

	var src source.Source = intensity
	if cfg.Data.LabelDir != "" {
		labelVol, err := source.LoadSliceDir(cfg.Data.LabelDir, false)
		if err != nil {
			return nil, fmt.Errorf("labels: %w", err)
		}
		labels, err := source.NewPyramid("labels", labelVol, opts)
		if err != nil {
			return nil, fmt.Errorf("labels: %w", err)
		}
		src = source.NewMasked(intensity, labels, cfg.Data.MaskLabels)
	}

	tf, err := cfg.TransferFunction(src.Name())
	if err != nil {
		return nil, err
	}
	if cfg.Display.AutoContrast {
		coarse, err := src.Voxels(cfg.Data.Timepoint, src.NumLevels()-1)
		if err != nil {
			return nil, err
		}
		if tf.DisplayMin, tf.DisplayMax, err = transfer.AutoContrast(coarse, 0.01, 0.99); err != nil {
			return nil, err
		}
		logger.Info("auto contrast", zap.Float64("min", tf.DisplayMin), zap.Float64("max", tf.DisplayMax))
	}

	var volatile source.Source
	if cfg.Data.MinLevel > 0 {
		volatile = source.NewLevelClamp(src, cfg.Data.MinLevel)
	}

	sc := scene.New()
	sc.Add(src, volatile, tf)
	return sc, nil
}

// writePreviews saves the centre planes of every visible source at the
// target level.
func writePreviews(sc *scene.Scene, cfg *config.Config, logger *zap.Logger) error {
	f, err := output.ParseFormat(cfg.Output.Format)
	if err != nil {
		return err
	}
	for _, e := range sc.Visible(cfg.Data.Timepoint) {
		src := e.Source
		if e.Volatile != nil {
			src = e.Volatile
		}
		tf, _ := sc.TransferFunction(src)
		v, err := visualization.NewViewer(src, cfg.Data.Timepoint, cfg.Data.Level, tf)
		if err != nil {
			return err
		}
		dir := filepath.Join(cfg.Output.PreviewDir, e.Source.Name())
		paths, err := v.SaveCentral(dir, f)
		if err != nil {
			return err
		}
		logger.Info("previews written", zap.String("source", e.Source.Name()), zap.Strings("paths", paths))
	}
	return nil
}
