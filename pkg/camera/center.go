package camera

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"volshot/pkg/bounds"
	"volshot/pkg/transform"
)

// depthEpsilon is the smallest depth correction ClampDepth applies.
const depthEpsilon = 1e-6

// CenterPivot moves the projected pivot onto the viewport centre with a
// single viewer-space translation. Under perspective a viewer-space shift
// moves the image by distance/w pixels, so the pixel offset is scaled by
// w/distance to land the pivot exactly.
func CenterPivot(view transform.Affine, pivot r3.Vec, proj Projection) transform.Affine {
	clip := proj.Combined(view).Project(pivot)
	if clip[3] == 0 {
		return view
	}

	sx, sy := proj.ToScreen(clip)
	cx, cy := proj.Center()
	k := 1.0
	if proj.Kind == Perspective && proj.Distance != 0 {
		k = clip[3] / proj.Distance
	}
	delta := r3.Vec{X: k * (cx - sx), Y: k * (cy - sy)}
	return transform.ComposeViewerSpace(view, transform.Translation(delta))
}

// DepthRange returns the min and max viewer-space Z of the box corners.
func DepthRange(view transform.Affine, b bounds.Bounds) (zmin, zmax float64) {
	zmin, zmax = math.Inf(1), math.Inf(-1)
	for _, c := range b.Corners() {
		z := view.Apply(c).Z
		zmin = math.Min(zmin, z)
		zmax = math.Max(zmax, z)
	}
	return zmin, zmax
}

// ClampDepth translates along viewer Z so the box depth range is centred
// between the near and far clip planes.
func ClampDepth(view transform.Affine, b bounds.Bounds, proj Projection) transform.Affine {
	zmin, zmax := DepthRange(view, b)
	dz := (proj.Near+proj.Far)/2 - (zmin+zmax)/2
	if math.Abs(dz) <= depthEpsilon {
		return view
	}
	return transform.ComposeViewerSpace(view, transform.Translation(r3.Vec{Z: dz}))
}
