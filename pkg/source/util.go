package source

import "gonum.org/v1/gonum/spatial/r3"

func voxel(x, y, z int) r3.Vec {
	return r3.Vec{X: float64(x), Y: float64(y), Z: float64(z)}
}
