package source

import (
	"fmt"
	"math"

	"volshot/internal/models"
	"volshot/pkg/transform"
)

// Masked zeroes the voxels of an intensity source whose label, looked up in
// a companion label source, is not one of the target labels. With no target
// labels every non-zero label is kept.
//
// The masked source lives in the intensity source's space; labels are
// sampled with nearest-neighbour lookup through the label transform.
type Masked struct {
	Intensity Source
	Labels    Source
	targets   map[int64]bool
}

// NewMasked builds a masked view of intensity.
func NewMasked(intensity, labels Source, targetLabels []int64) *Masked {
	m := &Masked{
		Intensity: intensity,
		Labels:    labels,
		targets:   make(map[int64]bool, len(targetLabels)),
	}
	for _, l := range targetLabels {
		m.targets[l] = true
	}
	return m
}

func (m *Masked) keep(label int64) bool {
	if len(m.targets) == 0 {
		return label > 0
	}
	return m.targets[label]
}

func (m *Masked) Name() string { return m.Intensity.Name() + " [mask]" }

// Present requires both the intensity and the label data.
func (m *Masked) Present(t int) bool {
	return m.Intensity.Present(t) && m.Labels.Present(t)
}

// NumLevels exposes only the levels both sources have.
func (m *Masked) NumLevels() int {
	return min(m.Intensity.NumLevels(), m.Labels.NumLevels())
}

func (m *Masked) Extent(t, level int) [3]int {
	return m.Intensity.Extent(t, level)
}

func (m *Masked) SourceToWorld(t, level int) transform.Affine {
	return m.Intensity.SourceToWorld(t, level)
}

func (m *Masked) Voxels(t, level int) (*models.Volume, error) {
	img, err := m.Intensity.Voxels(t, level)
	if err != nil {
		return nil, err
	}
	lab, err := m.Labels.Voxels(t, level)
	if err != nil {
		return nil, fmt.Errorf("mask labels: %w", err)
	}

	// intensity voxel -> world -> label voxel
	worldToLabel, err := m.Labels.SourceToWorld(t, level).Inverse()
	if err != nil {
		return nil, fmt.Errorf("mask labels: %w", err)
	}
	imgToLabel := transform.Mul(worldToLabel, m.Intensity.SourceToWorld(t, level))

	out := models.NewVolume(img.Width, img.Height, img.Depth)
	for z := 0; z < img.Depth; z++ {
		for y := 0; y < img.Height; y++ {
			for x := 0; x < img.Width; x++ {
				p := imgToLabel.Apply(voxel(x, y, z))
				label := int64(math.Round(lab.At(
					int(math.Round(p.X)), int(math.Round(p.Y)), int(math.Round(p.Z)))))
				if m.keep(label) {
					i := img.Index(x, y, z)
					out.Data[i] = img.Data[i]
				}
			}
		}
	}
	return out, nil
}

func (m *Masked) VoxelType() VoxelType { return m.Intensity.VoxelType() }
