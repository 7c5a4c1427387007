package source

import (
	"fmt"

	"volshot/internal/models"
	"volshot/pkg/transform"
)

// LevelClamp prevents access to resolution levels finer than MinLevel.
// Requests for finer levels are served from MinLevel instead.
type LevelClamp struct {
	Wrapped  Source
	MinLevel int
}

// NewLevelClamp wraps src so that levels below minLevel are never read.
func NewLevelClamp(src Source, minLevel int) *LevelClamp {
	return &LevelClamp{Wrapped: src, MinLevel: minLevel}
}

func (l *LevelClamp) clamp(level int) int {
	return max(level, l.MinLevel)
}

func (l *LevelClamp) Name() string {
	return fmt.Sprintf("%s [minLevel=%d]", l.Wrapped.Name(), l.MinLevel)
}

func (l *LevelClamp) Present(t int) bool { return l.Wrapped.Present(t) }

func (l *LevelClamp) NumLevels() int { return l.Wrapped.NumLevels() }

func (l *LevelClamp) Extent(t, level int) [3]int {
	return l.Wrapped.Extent(t, l.clamp(level))
}

func (l *LevelClamp) SourceToWorld(t, level int) transform.Affine {
	return l.Wrapped.SourceToWorld(t, l.clamp(level))
}

func (l *LevelClamp) Voxels(t, level int) (*models.Volume, error) {
	return l.Wrapped.Voxels(t, l.clamp(level))
}

func (l *LevelClamp) VoxelType() VoxelType { return l.Wrapped.VoxelType() }
