// Package transform provides the 3D affine algebra used to build viewer
// transforms. Composition order is explicit: ComposeObjectSpace applies an
// operation before the existing transform (right-multiply), ComposeViewerSpace
// applies it after (left-multiply).
package transform

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Affine is a 3D affine transform stored as the top three rows of a
// row-major 4×4 matrix. The implicit last row is (0, 0, 0, 1).
// It is a value type: every operation returns a new transform.
type Affine [12]float64

// Axis indices for the rotation constructors.
const (
	AxisX = 0
	AxisY = 1
	AxisZ = 2
)

// Identity returns the identity transform.
func Identity() Affine {
	return Affine{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
	}
}

// Translation returns a transform that moves points by v.
func Translation(v r3.Vec) Affine {
	return Affine{
		1, 0, 0, v.X,
		0, 1, 0, v.Y,
		0, 0, 1, v.Z,
	}
}

// UniformScaling returns a scale by s about the origin.
func UniformScaling(s float64) Affine {
	return Scaling(r3.Vec{X: s, Y: s, Z: s})
}

// Scaling returns a per-axis scale about the origin.
func Scaling(s r3.Vec) Affine {
	return Affine{
		s.X, 0, 0, 0,
		0, s.Y, 0, 0,
		0, 0, s.Z, 0,
	}
}

// Rotation returns a right-handed rotation by angle radians about the given axis.
func Rotation(axis int, angle float64) Affine {
	c, s := math.Cos(angle), math.Sin(angle)
	switch axis {
	case AxisX:
		return Affine{
			1, 0, 0, 0,
			0, c, -s, 0,
			0, s, c, 0,
		}
	case AxisY:
		return Affine{
			c, 0, s, 0,
			0, 1, 0, 0,
			-s, 0, c, 0,
		}
	case AxisZ:
		return Affine{
			c, -s, 0, 0,
			s, c, 0, 0,
			0, 0, 1, 0,
		}
	}
	panic(fmt.Sprintf("transform: invalid rotation axis %d", axis))
}

// RotationAbout rotates about an axis through pivot instead of the origin.
func RotationAbout(axis int, angle float64, pivot r3.Vec) Affine {
	toOrigin := Translation(r3.Scale(-1, pivot))
	back := Translation(pivot)
	return Mul(back, Mul(Rotation(axis, angle), toOrigin))
}

// Mul returns a·b, the transform that applies b first and then a.
func Mul(a, b Affine) Affine {
	var out mat.Dense
	out.Mul(a.dense(), b.dense())
	return fromDense(&out)
}

// ComposeObjectSpace concatenates op after t (t·op). The operation acts in the
// transformed object's own frame, e.g. a scale about the world origin.
func ComposeObjectSpace(t, op Affine) Affine {
	return Mul(t, op)
}

// ComposeViewerSpace pre-concatenates op before t (op·t). The operation acts
// directly in viewer coordinates, e.g. a screen-aligned translation.
func ComposeViewerSpace(t, op Affine) Affine {
	return Mul(op, t)
}

// Apply transforms the point p.
func (a Affine) Apply(p r3.Vec) r3.Vec {
	return r3.Vec{
		X: a[0]*p.X + a[1]*p.Y + a[2]*p.Z + a[3],
		Y: a[4]*p.X + a[5]*p.Y + a[6]*p.Z + a[7],
		Z: a[8]*p.X + a[9]*p.Y + a[10]*p.Z + a[11],
	}
}

// ApplyVector transforms a direction, ignoring translation.
func (a Affine) ApplyVector(v r3.Vec) r3.Vec {
	return r3.Vec{
		X: a[0]*v.X + a[1]*v.Y + a[2]*v.Z,
		Y: a[4]*v.X + a[5]*v.Y + a[6]*v.Z,
		Z: a[8]*v.X + a[9]*v.Y + a[10]*v.Z,
	}
}

// Offset returns the translation part.
func (a Affine) Offset() r3.Vec {
	return r3.Vec{X: a[3], Y: a[7], Z: a[11]}
}

// ErrSingular is returned when a transform cannot be inverted.
var ErrSingular = errors.New("transform: singular matrix")

// Inverse returns the inverse transform.
func (a Affine) Inverse() (Affine, error) {
	inv, err := invert(a.dense())
	if err != nil {
		return Identity(), err
	}
	return fromDense(inv), nil
}

// invert tolerates ill-conditioned input; only exact singularity fails.
func invert(d *mat.Dense) (*mat.Dense, error) {
	var inv mat.Dense
	if err := inv.Inverse(d); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return nil, ErrSingular
		}
	}
	return &inv, nil
}

// Mat4 widens the transform to a full 4×4 matrix.
func (a Affine) Mat4() Mat4 {
	var m Mat4
	copy(m[:12], a[:])
	m[15] = 1
	return m
}

// ApproxEqual reports whether every coefficient differs by at most tol.
func (a Affine) ApproxEqual(b Affine, tol float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}

func (a Affine) String() string {
	return fmt.Sprintf("[%g %g %g %g; %g %g %g %g; %g %g %g %g]",
		a[0], a[1], a[2], a[3], a[4], a[5], a[6], a[7], a[8], a[9], a[10], a[11])
}

func (a Affine) dense() *mat.Dense {
	m := a.Mat4()
	return mat.NewDense(4, 4, m[:])
}

func fromDense(d *mat.Dense) Affine {
	var a Affine
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			a[r*4+c] = d.At(r, c)
		}
	}
	return a
}
