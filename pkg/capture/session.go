// Package capture runs headless screenshot and orbit movie captures: it
// frames the scene, renders every frame to convergence and hands the
// images to a sink.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"

	"volshot/pkg/bounds"
	"volshot/pkg/camera"
	"volshot/pkg/output"
	"volshot/pkg/render"
	"volshot/pkg/scene"
	"volshot/pkg/transform"
)

// FailurePolicy decides what a movie does with a frame whose render failed.
type FailurePolicy int

const (
	// AbortOnError stops the capture at the first failed frame
	AbortOnError FailurePolicy = iota

	// SkipFailedFrames logs the failure and continues with the next frame
	SkipFailedFrames
)

// ParseFailurePolicy accepts "abort" or "skip".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch s {
	case "", "abort":
		return AbortOnError, nil
	case "skip":
		return SkipFailedFrames, nil
	}
	return AbortOnError, fmt.Errorf("unknown failure policy %q", s)
}

// FrameRequest is one frame to render.
type FrameRequest struct {
	Index     int
	Timepoint int
	Level     int
	Transform transform.Affine
}

// Options are the per-session capture settings.
type Options struct {
	Projection camera.Projection

	// Padding and FitIterations configure the framing
	Padding       float64
	FitIterations int

	// Realign is applied after moving the pivot to the origin
	Realign transform.Affine

	Timepoint int
	Level     int

	// Budget, MaxStep and MaxPasses configure the convergence loop
	Budget    time.Duration
	MaxStep   float64
	MaxPasses int

	FailurePolicy FailurePolicy
}

// Report summarises a movie capture.
type Report struct {
	Frames  int
	Written int
	Skipped []int
	Passes  int
}

// Session owns the graphics context for the duration of one capture.
type Session struct {
	Scene    *scene.Scene
	Renderer render.Renderer
	Sink     output.Sink
	Options  Options

	// Cache is told about every new frame; nil means render.NopCache
	Cache render.CacheControl

	// NewContext creates the offscreen context; nil means a software context
	NewContext func(width, height int) (render.Context, error)

	Logger *zap.Logger
}

func (s *Session) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

type run struct {
	session *Session
	bounds  bounds.Bounds
	framer  camera.Framer
	loop    *render.Loop
	cache   render.CacheControl
	log     *zap.Logger
}

// start estimates the bounds and acquires the context. The returned
// release function must be called whatever happens afterwards.
func (s *Session) start() (*run, func(), error) {
	if s.Scene == nil || s.Renderer == nil || s.Sink == nil {
		return nil, nil, errors.New("capture: session needs a scene, a renderer and a sink")
	}
	opts := s.Options
	if err := opts.Projection.Validate(); err != nil {
		return nil, nil, fmt.Errorf("capture: %w", err)
	}

	b, err := bounds.Estimate(s.Scene.Items(opts.Timepoint), opts.Timepoint, opts.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("capture: %w", err)
	}

	newContext := s.NewContext
	if newContext == nil {
		newContext = func(w, h int) (render.Context, error) {
			return render.NewSoftwareContext(w, h), nil
		}
	}
	rctx, err := newContext(opts.Projection.Width, opts.Projection.Height)
	if err != nil {
		return nil, nil, fmt.Errorf("capture: create context: %w", err)
	}

	log := s.logger()
	release := func() {
		if err := rctx.Destroy(); err != nil {
			log.Error("failed to destroy render context", zap.Error(err))
		}
	}

	cache := s.Cache
	if cache == nil {
		cache = render.NopCache{}
	}

	log.Info("scene bounds",
		zap.Float64s("min", []float64{b.Min.X, b.Min.Y, b.Min.Z}),
		zap.Float64s("max", []float64{b.Max.X, b.Max.Y, b.Max.Z}),
		zap.Float64("radius", b.Radius))

	return &run{
		session: s,
		bounds:  b,
		framer: camera.Framer{
			Projection:    opts.Projection,
			Padding:       opts.Padding,
			MaxIterations: opts.FitIterations,
		},
		loop: &render.Loop{
			Context:   rctx,
			Renderer:  s.Renderer,
			Budget:    opts.Budget,
			MaxStep:   opts.MaxStep,
			MaxPasses: opts.MaxPasses,
			Logger:    log,
		},
		cache: cache,
		log:   log,
	}, release, nil
}

func (s *Session) base(b bounds.Bounds) transform.Affine {
	realign := s.Options.Realign
	if realign == (transform.Affine{}) {
		realign = transform.Identity()
	}
	return camera.BaseTransform(b.Pivot, realign)
}

// render draws one frame to convergence.
func (r *run) render(req FrameRequest) (image.Image, error) {
	r.cache.PrepareNextFrame()

	vp := r.framer.Projection.Combined(req.Transform)
	frame, err := r.session.Scene.Frame(req.Timepoint, req.Level, vp)
	if err != nil {
		return nil, err
	}
	return r.loop.Run(frame)
}

// Screenshot renders a single framed image and writes it as frame 0.
func (s *Session) Screenshot(ctx context.Context) error {
	r, release, err := s.start()
	if err != nil {
		return err
	}
	defer release()

	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	view, steps := r.framer.Frame(s.base(r.bounds), r.bounds)
	img, err := r.render(FrameRequest{Timepoint: s.Options.Timepoint, Level: s.Options.Level, Transform: view})
	if err != nil {
		return fmt.Errorf("screenshot: %w", err)
	}
	if err := s.Sink.Write(0, img); err != nil {
		return fmt.Errorf("screenshot: %w", err)
	}

	r.log.Info("screenshot written",
		zap.Int("fitSteps", steps),
		zap.Int("passes", r.loop.State().Passes),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// Movie renders a full orbit of frames images. Render failures follow
// the failure policy; every other error ends the capture. Cancellation is
// checked between frames, never during one.
func (s *Session) Movie(ctx context.Context, frames int) (Report, error) {
	report := Report{Frames: frames}
	if frames < 1 {
		return report, fmt.Errorf("movie: frame count %d must be at least 1", frames)
	}

	r, release, err := s.start()
	if err != nil {
		return report, err
	}
	defer release()

	orbit := camera.NewOrbit(s.base(r.bounds), r.bounds.Pivot, frames)
	for i := 0; i < frames; i++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		start := time.Now()
		view, steps := r.framer.Frame(orbit.Transform(i), r.bounds)
		req := FrameRequest{Index: i, Timepoint: s.Options.Timepoint, Level: s.Options.Level, Transform: view}

		img, err := r.render(req)
		if err != nil {
			var passErr *render.PassError
			if errors.As(err, &passErr) && s.Options.FailurePolicy == SkipFailedFrames {
				r.log.Warn("skipping failed frame", zap.Int("frame", i), zap.Error(err))
				report.Skipped = append(report.Skipped, i)
				continue
			}
			return report, fmt.Errorf("movie frame %d: %w", i, err)
		}

		if err := s.Sink.Write(i, img); err != nil {
			return report, fmt.Errorf("movie frame %d: %w", i, err)
		}
		report.Written++
		report.Passes += r.loop.State().Passes

		r.log.Info("frame written",
			zap.Int("frame", i),
			zap.Float64("angle", orbit.Angle(i)),
			zap.Int("fitSteps", steps),
			zap.Int("passes", r.loop.State().Passes),
			zap.Duration("elapsed", time.Since(start)))
	}
	return report, nil
}
