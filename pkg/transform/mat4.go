package transform

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Mat4 is a row-major 4×4 matrix for projective transforms (projection,
// view-projection). Unlike Affine its last row is not fixed.
type Mat4 [16]float64

// Identity4 returns the 4×4 identity.
func Identity4() Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Mul returns m·n.
func (m Mat4) Mul(n Mat4) Mat4 {
	var out mat.Dense
	out.Mul(mat.NewDense(4, 4, m[:]), mat.NewDense(4, 4, n[:]))
	var r Mat4
	copy(r[:], out.RawMatrix().Data)
	return r
}

// Transform multiplies the homogeneous column vector v.
func (m Mat4) Transform(v [4]float64) [4]float64 {
	var out [4]float64
	for r := 0; r < 4; r++ {
		out[r] = m[r*4]*v[0] + m[r*4+1]*v[1] + m[r*4+2]*v[2] + m[r*4+3]*v[3]
	}
	return out
}

// Project maps the point p (w=1) to homogeneous clip coordinates.
func (m Mat4) Project(p r3.Vec) [4]float64 {
	return m.Transform([4]float64{p.X, p.Y, p.Z, 1})
}

// Inverse returns the inverse matrix.
func (m Mat4) Inverse() (Mat4, error) {
	inv, err := invert(mat.NewDense(4, 4, m[:]))
	if err != nil {
		return Identity4(), err
	}
	var r Mat4
	copy(r[:], inv.RawMatrix().Data)
	return r, nil
}
