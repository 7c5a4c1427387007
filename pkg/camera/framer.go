package camera

import (
	"volshot/pkg/bounds"
	"volshot/pkg/transform"
)

// DefaultPadding is the fraction of the shorter screen side the scene fills.
const DefaultPadding = 0.9

// framingRounds is how often fit, centre and clamp are repeated. Under
// perspective the depth clamp changes the footprint, which the second
// round corrects.
const framingRounds = 2

// Framer runs the complete framing pipeline for one transform.
type Framer struct {
	Projection Projection
	Padding    float64

	// MaxIterations caps each fit; zero means DefaultFitIterations
	MaxIterations int
}

// Frame returns the framed transform and the total number of fit steps.
// The pivot is centred and the depth clamped first so that the fit starts
// from a box that is in front of the eye.
func (f Framer) Frame(view transform.Affine, b bounds.Bounds) (transform.Affine, int) {
	padding := f.Padding
	if padding <= 0 {
		padding = DefaultPadding
	}
	maxIter := f.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultFitIterations
	}

	view = CenterPivot(view, b.Pivot, f.Projection)
	view = ClampDepth(view, b, f.Projection)

	total := 0
	for round := 0; round < framingRounds; round++ {
		var steps int
		view, steps = FitN(view, b, f.Projection, padding, maxIter)
		view = CenterPivot(view, b.Pivot, f.Projection)
		view = ClampDepth(view, b, f.Projection)
		total += steps
	}
	return view, total
}
