package camera

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"volshot/pkg/bounds"
	"volshot/pkg/transform"
)

const (
	// DefaultFitIterations caps the number of fit steps per call
	DefaultFitIterations = 8

	// FitTolerance is the relative footprint error at which fitting stops
	FitTolerance = 0.02

	minFitScale = 0.5
	maxFitScale = 2.0
)

// ScreenFootprint projects the eight box corners and returns the pixel
// extent of their screen bounding box. Corners behind the eye (w <= 0) are
// skipped; visible is the number of corners that were used.
func ScreenFootprint(view transform.Affine, corners []r3.Vec, proj Projection) (width, height float64, visible int) {
	combined := proj.Combined(view)

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, c := range corners {
		clip := combined.Project(c)
		if clip[3] <= 0 {
			continue
		}
		x, y := proj.ToScreen(clip)
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
		visible++
	}
	if visible == 0 {
		return 0, 0, 0
	}
	return maxX - minX, maxY - minY, visible
}

// Fit scales view about the world origin until the longer side of the
// projected box is padding·min(width, height). It returns the new
// transform and the number of scale steps applied.
func Fit(view transform.Affine, b bounds.Bounds, proj Projection, padding float64) (transform.Affine, int) {
	return FitN(view, b, proj, padding, DefaultFitIterations)
}

// FitN is Fit with an explicit iteration cap.
func FitN(view transform.Affine, b bounds.Bounds, proj Projection, padding float64, maxIter int) (transform.Affine, int) {
	corners := b.Corners()
	target := padding * math.Min(float64(proj.Width), float64(proj.Height))
	if target <= 0 {
		return view, 0
	}

	steps := 0
	for ; steps < maxIter; steps++ {
		w, h, _ := ScreenFootprint(view, corners, proj)
		// Degenerate boxes count as one pixel
		current := math.Max(math.Max(w, 1), math.Max(h, 1))

		if math.Abs(current-target)/target < FitTolerance {
			break
		}

		s := transform.Clamp(target/current, minFitScale, maxFitScale)
		view = transform.ComposeObjectSpace(view, transform.UniformScaling(s))
	}
	return view, steps
}
