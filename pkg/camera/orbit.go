package camera

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"volshot/pkg/transform"
)

// DefaultRealign is the axis realignment applied to the base transform,
// as Euler angles in degrees about X, Y and Z.
var DefaultRealign = [3]float64{270, 0, 90}

// Realignment builds Rx·Ry·Rz from Euler degrees, so the Z rotation is
// applied first.
func Realignment(deg [3]float64) transform.Affine {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	r := transform.Rotation(transform.AxisZ, rad(deg[2]))
	r = transform.ComposeViewerSpace(r, transform.Rotation(transform.AxisY, rad(deg[1])))
	r = transform.ComposeViewerSpace(r, transform.Rotation(transform.AxisX, rad(deg[0])))
	return r
}

// BaseTransform moves the pivot to the viewer origin and then realigns
// the axes.
func BaseTransform(pivot r3.Vec, realign transform.Affine) transform.Affine {
	return transform.ComposeViewerSpace(transform.Translation(r3.Scale(-1, pivot)), realign)
}

// Orbit produces the per-frame transforms of a full turn around Pivot.
type Orbit struct {
	Base   transform.Affine
	Pivot  r3.Vec
	Frames int
	Axis   int
}

// NewOrbit returns a turn about the world Y axis through pivot.
func NewOrbit(base transform.Affine, pivot r3.Vec, frames int) Orbit {
	return Orbit{Base: base, Pivot: pivot, Frames: frames, Axis: transform.AxisY}
}

// Angle returns the rotation of frame i. Frame indices wrap, so frame
// Frames has exactly the angle of frame 0.
func (o Orbit) Angle(i int) float64 {
	n := o.Frames
	if n < 1 {
		n = 1
	}
	k := i % n
	if k < 0 {
		k += n
	}
	return 2 * math.Pi * float64(k) / float64(n)
}

// Transform returns the unframed transform of frame i: the base transform
// with the frame rotation applied in object space.
func (o Orbit) Transform(i int) transform.Affine {
	rot := transform.RotationAbout(o.Axis, o.Angle(i), o.Pivot)
	return transform.ComposeObjectSpace(o.Base, rot)
}
