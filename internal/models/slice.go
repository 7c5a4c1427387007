package models

import (
	"image"
)

// Slice represents a single 2D image plane of a volume with metadata
type Slice struct {
	// Image is the actual slice image data
	Image image.Image

	// Index is the position of this slice in the sequence
	Index int

	// Filename is the original filename of the slice
	Filename string
}

// Volume represents a 3D voxel array
type Volume struct {
	// Data is the 3D volume data as a 1D array with x varying fastest,
	// then y, then z
	Data []float64

	// Width is the width of the volume in voxels
	Width int

	// Height is the height of the volume in voxels
	Height int

	// Depth is the depth of the volume in voxels
	Depth int
}

// NewVolume allocates a zeroed volume of the given dimensions
func NewVolume(width, height, depth int) *Volume {
	return &Volume{
		Data:   make([]float64, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
	}
}

// Dims returns the volume extent as (width, height, depth)
func (v *Volume) Dims() [3]int {
	return [3]int{v.Width, v.Height, v.Depth}
}

// Index returns the offset of voxel (x, y, z) in Data
func (v *Volume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// Contains reports whether (x, y, z) lies inside the volume
func (v *Volume) Contains(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < v.Width && y < v.Height && z < v.Depth
}

// At returns the voxel value at (x, y, z), or 0 outside the volume
func (v *Volume) At(x, y, z int) float64 {
	if !v.Contains(x, y, z) {
		return 0
	}
	return v.Data[v.Index(x, y, z)]
}

// Set stores a voxel value; writes outside the volume are ignored
func (v *Volume) Set(x, y, z int, value float64) {
	if !v.Contains(x, y, z) {
		return
	}
	v.Data[v.Index(x, y, z)] = value
}

// SizeBytes is the in-memory size of the voxel data
func (v *Volume) SizeBytes() int64 {
	return int64(len(v.Data)) * 8
}
