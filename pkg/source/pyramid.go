package source

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"volshot/internal/models"
	"volshot/pkg/transform"
)

// Pyramid is an in-memory multiresolution source built from a full
// resolution volume by repeated 2× mean downsampling.
type Pyramid struct {
	name       string
	levels     []*models.Volume
	transforms []transform.Affine
	timepoints int
	voxelType  VoxelType
}

// PyramidOptions controls pyramid construction.
type PyramidOptions struct {
	// Levels is the maximum number of resolution levels (>= 1)
	Levels int

	// VoxelSize is the physical size of a level-0 voxel
	VoxelSize r3.Vec

	// Origin is the world position of voxel (0, 0, 0)
	Origin r3.Vec

	// Timepoints is the number of timepoints the (static) data is present at
	Timepoints int

	VoxelType VoxelType
}

// NewPyramid builds a pyramid from vol. Downsampling stops early once every
// dimension has shrunk to a single voxel.
func NewPyramid(name string, vol *models.Volume, opts PyramidOptions) (*Pyramid, error) {
	if vol == nil || vol.Width <= 0 || vol.Height <= 0 || vol.Depth <= 0 {
		return nil, fmt.Errorf("source %s: empty volume", name)
	}
	if len(vol.Data) != vol.Width*vol.Height*vol.Depth {
		return nil, fmt.Errorf("source %s: data length %d does not match %dx%dx%d",
			name, len(vol.Data), vol.Width, vol.Height, vol.Depth)
	}
	if opts.Levels < 1 {
		opts.Levels = 1
	}
	if opts.Timepoints < 1 {
		opts.Timepoints = 1
	}
	if opts.VoxelSize == (r3.Vec{}) {
		opts.VoxelSize = r3.Vec{X: 1, Y: 1, Z: 1}
	}

	base := transform.Mul(transform.Translation(opts.Origin), transform.Scaling(opts.VoxelSize))
	p := &Pyramid{
		name:       name,
		levels:     []*models.Volume{vol},
		transforms: []transform.Affine{base},
		timepoints: opts.Timepoints,
		voxelType:  opts.VoxelType,
	}

	current := vol
	for l := 1; l < opts.Levels; l++ {
		if current.Width == 1 && current.Height == 1 && current.Depth == 1 {
			break
		}
		current = Downsample(current)
		p.levels = append(p.levels, current)
		p.transforms = append(p.transforms, levelTransform(base, l))
	}

	return p, nil
}

// levelTransform maps voxel i of level l to level-0 coordinate
// i·2^l + (2^l − 1)/2, so coarse voxel centres sit over the block they average.
func levelTransform(base transform.Affine, level int) transform.Affine {
	f := math.Pow(2, float64(level))
	half := (f - 1) / 2
	toLevel0 := transform.Mul(
		transform.Translation(r3.Vec{X: half, Y: half, Z: half}),
		transform.UniformScaling(f),
	)
	return transform.Mul(base, toLevel0)
}

// Downsample halves each dimension (rounding up) by averaging 2×2×2 blocks.
// Blocks clipped by the volume border average only the voxels they contain.
func Downsample(v *models.Volume) *models.Volume {
	w := (v.Width + 1) / 2
	h := (v.Height + 1) / 2
	d := (v.Depth + 1) / 2
	out := models.NewVolume(w, h, d)

	for z := 0; z < d; z++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				sum, n := 0.0, 0
				for dz := 0; dz < 2; dz++ {
					for dy := 0; dy < 2; dy++ {
						for dx := 0; dx < 2; dx++ {
							sx, sy, sz := 2*x+dx, 2*y+dy, 2*z+dz
							if v.Contains(sx, sy, sz) {
								sum += v.Data[v.Index(sx, sy, sz)]
								n++
							}
						}
					}
				}
				out.Data[out.Index(x, y, z)] = sum / float64(n)
			}
		}
	}

	return out
}

func (p *Pyramid) clamp(level int) int {
	return transform.Clamp(level, 0, len(p.levels)-1)
}

func (p *Pyramid) Name() string { return p.name }

func (p *Pyramid) Present(t int) bool { return t >= 0 && t < p.timepoints }

func (p *Pyramid) NumLevels() int { return len(p.levels) }

func (p *Pyramid) Extent(t, level int) [3]int {
	return p.levels[p.clamp(level)].Dims()
}

func (p *Pyramid) SourceToWorld(t, level int) transform.Affine {
	return p.transforms[p.clamp(level)]
}

func (p *Pyramid) Voxels(t, level int) (*models.Volume, error) {
	if !p.Present(t) {
		return nil, fmt.Errorf("source %s: no data at timepoint %d", p.name, t)
	}
	return p.levels[p.clamp(level)], nil
}

func (p *Pyramid) VoxelType() VoxelType { return p.voxelType }
