// Package source provides the multiresolution data sources rendered by a
// capture session. A Source exposes voxel arrays and their source-to-world
// transforms per (timepoint, resolution level); decorators such as
// LevelClamp and Masked wrap another Source without copying its data.
package source

import (
	"volshot/internal/models"
	"volshot/pkg/transform"
)

// VoxelType identifies the native sample type of a source.
type VoxelType int

const (
	Float64 VoxelType = iota
	Float32
	UnsignedByte
	UnsignedShort
)

func (v VoxelType) String() string {
	switch v {
	case Float32:
		return "float32"
	case UnsignedByte:
		return "uint8"
	case UnsignedShort:
		return "uint16"
	}
	return "float64"
}

// Source is a multiresolution volume. Level 0 is the finest resolution.
// Implementations clamp out-of-range levels to the nearest valid one.
type Source interface {
	// Name identifies the source in logs and errors
	Name() string

	// Present reports whether data exists at timepoint t
	Present(t int) bool

	// NumLevels is the number of resolution levels
	NumLevels() int

	// Extent returns the voxel dimensions (sx, sy, sz) at (t, level)
	Extent(t, level int) [3]int

	// SourceToWorld maps voxel coordinates at (t, level) to world space
	SourceToWorld(t, level int) transform.Affine

	// Voxels returns the voxel array at (t, level)
	Voxels(t, level int) (*models.Volume, error)

	// VoxelType is the native sample type
	VoxelType() VoxelType
}
