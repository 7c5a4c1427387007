// Package bounds computes the world-space bounding box of the visible
// sources of a scene.
package bounds

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"volshot/pkg/source"
)

// ErrNoSources is returned when no visible source contributes to the bounds.
var ErrNoSources = errors.New("bounds: no visible sources")

// Item pairs a source with its visibility flag.
type Item struct {
	Source  source.Source
	Visible bool
}

// Bounds is the axis-aligned bounding box of a scene.
type Bounds struct {
	Min, Max r3.Vec

	// Pivot is the box centre
	Pivot r3.Vec

	// Radius is half the box diagonal
	Radius float64
}

// FromBox derives pivot and radius from the box corners.
func FromBox(min, max r3.Vec) Bounds {
	return Bounds{
		Min:    min,
		Max:    max,
		Pivot:  r3.Scale(0.5, r3.Add(min, max)),
		Radius: 0.5 * r3.Norm(r3.Sub(max, min)),
	}
}

// Box returns the bounds as a gonum box.
func (b Bounds) Box() r3.Box {
	return r3.Box{Min: b.Min, Max: b.Max}
}

// Corners returns the eight corners of the box.
func (b Bounds) Corners() []r3.Vec {
	return b.Box().Vertices()
}

// Estimate folds the voxel-space corners (0,0,0) and (sx-1, sy-1, sz-1) of
// every visible, present source into a world-space box at (t, level).
func Estimate(items []Item, t, level int) (Bounds, error) {
	min := r3.Vec{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	max := r3.Vec{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}

	n := 0
	for _, it := range items {
		if !it.Visible || it.Source == nil || !it.Source.Present(t) {
			continue
		}
		ext := it.Source.Extent(t, level)
		toWorld := it.Source.SourceToWorld(t, level)

		corners := [2]r3.Vec{
			toWorld.Apply(r3.Vec{}),
			toWorld.Apply(r3.Vec{X: float64(ext[0] - 1), Y: float64(ext[1] - 1), Z: float64(ext[2] - 1)}),
		}
		for _, c := range corners {
			min = r3.Vec{X: math.Min(min.X, c.X), Y: math.Min(min.Y, c.Y), Z: math.Min(min.Z, c.Z)}
			max = r3.Vec{X: math.Max(max.X, c.X), Y: math.Max(max.Y, c.Y), Z: math.Max(max.Z, c.Z)}
		}
		n++
	}

	if n == 0 {
		return Bounds{}, ErrNoSources
	}
	return FromBox(min, max), nil
}
