// Package render drives a progressive renderer until its image stops
// changing, and provides an offscreen context, a voxel cache and a CPU ray
// marching renderer that plug into that loop.
package render

import (
	"errors"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"

	"volshot/pkg/scene"
)

// RepaintKind is reported by a renderer after each pass.
type RepaintKind int

const (
	// None means the image is final
	None RepaintKind = iota

	// Partial means some regions still need refinement
	Partial

	// Full means the whole image must be redrawn
	Full
)

func (k RepaintKind) String() string {
	switch k {
	case Partial:
		return "partial"
	case Full:
		return "full"
	}
	return "none"
}

// Renderer draws one refinement pass of a frame into fb.
type Renderer interface {
	// Draw renders with the given repaint hint. budget bounds the wall
	// clock time of the pass and maxStep the ray step in source voxels.
	Draw(hint RepaintKind, fb *Framebuffer, frame *scene.Frame, budget time.Duration, maxStep float64) (RepaintKind, error)
}

// State is the position of the convergence loop.
type State int

const (
	NotStarted State = iota
	Refining
	Converged
)

func (s State) String() string {
	switch s {
	case Refining:
		return "refining"
	case Converged:
		return "converged"
	}
	return "not started"
}

// ConvergenceState records the progress of the current frame.
type ConvergenceState struct {
	State       State
	LastRepaint RepaintKind
	LastImage   *image.RGBA
	Passes      int
}

// PassError is a renderer failure during a pass. The frame produced no image.
type PassError struct {
	Pass int
	Err  error
}

func (e *PassError) Error() string {
	return fmt.Sprintf("render pass %d: %v", e.Pass, e.Err)
}

func (e *PassError) Unwrap() error { return e.Err }

// DefaultMaxPasses bounds the passes spent on one frame.
const DefaultMaxPasses = 64

// Loop runs renderer passes against a context until the renderer reports
// that nothing is left to refine, then reads the image back once.
type Loop struct {
	Context  Context
	Renderer Renderer

	// Budget and MaxStep are handed to every pass unchanged
	Budget  time.Duration
	MaxStep float64

	// MaxPasses caps the passes per frame; zero means DefaultMaxPasses
	MaxPasses int

	Logger *zap.Logger

	state ConvergenceState
}

// State returns the state of the last frame run.
func (l *Loop) State() ConvergenceState {
	return l.state
}

// Run renders frame to convergence and returns the flipped readback.
func (l *Loop) Run(frame *scene.Frame) (*image.RGBA, error) {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxPasses := l.MaxPasses
	if maxPasses <= 0 {
		maxPasses = DefaultMaxPasses
	}

	l.state = ConvergenceState{State: NotStarted, LastRepaint: Full}
	hint := Full

	for l.state.State != Converged {
		pass := l.state.Passes + 1

		var kind RepaintKind
		var drawErr error
		err := l.Context.Display(func(fb *Framebuffer) error {
			kind, drawErr = l.Renderer.Draw(hint, fb, frame, l.Budget, l.MaxStep)
			return drawErr
		})
		if err != nil {
			if drawErr != nil && errors.Is(err, drawErr) {
				return nil, &PassError{Pass: pass, Err: drawErr}
			}
			return nil, fmt.Errorf("display pass %d: %w", pass, err)
		}

		l.state.Passes = pass
		l.state.LastRepaint = kind
		l.state.State = Refining
		hint = None

		logger.Debug("render pass",
			zap.Int("pass", pass),
			zap.Stringer("repaint", kind))

		if kind == None {
			l.state.State = Converged
		} else if pass >= maxPasses {
			logger.Warn("frame did not converge, using last pass",
				zap.Int("passes", pass),
				zap.Stringer("repaint", kind))
			l.state.State = Converged
		}
	}

	img, err := l.Context.ReadPixels(true)
	if err != nil {
		return nil, fmt.Errorf("read pixels: %w", err)
	}
	l.state.LastImage = img
	return img, nil
}

// CacheControl is notified once before each outer frame.
type CacheControl interface {
	PrepareNextFrame()
}

// NopCache ignores frame notifications.
type NopCache struct{}

func (NopCache) PrepareNextFrame() {}
