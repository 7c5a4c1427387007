// Package visualization writes orthogonal slice previews of a source so the
// loaded data and display range can be checked without a full render.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"volshot/internal/models"
	"volshot/pkg/output"
	"volshot/pkg/source"
	"volshot/pkg/transfer"
)

// Viewer extracts 2D planes from one timepoint and level of a source and
// colours them with a transfer function.
type Viewer struct {
	volume *models.Volume
	tf     *transfer.Function
	name   string
}

// NewViewer reads the voxels of src at (t, level). A nil tf uses the
// default white ramp over [0, 1].
func NewViewer(src source.Source, t, level int, tf *transfer.Function) (*Viewer, error) {
	vol, err := src.Voxels(t, level)
	if err != nil {
		return nil, err
	}
	if tf == nil {
		tf = transfer.Default(src.Name())
	}
	return &Viewer{volume: vol, tf: tf, name: src.Name()}, nil
}

// NewVolumeViewer wraps an in-memory volume directly.
func NewVolumeViewer(vol *models.Volume, tf *transfer.Function) *Viewer {
	if tf == nil {
		tf = transfer.Default("volume")
	}
	return &Viewer{volume: vol, tf: tf, name: tf.Name}
}

// axisExtent returns the number of planes along axis.
func (v *Viewer) axisExtent(axis string) (int, error) {
	switch strings.ToLower(axis) {
	case "x":
		return v.volume.Width, nil
	case "y":
		return v.volume.Height, nil
	case "z":
		return v.volume.Depth, nil
	}
	return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// ExtractSlice returns the plane at position along axis. X planes are
// depth×height, Y planes width×depth and Z planes width×height.
func (v *Viewer) ExtractSlice(axis string, position int) (*image.NRGBA, error) {
	n, err := v.axisExtent(axis)
	if err != nil {
		return nil, err
	}
	if position < 0 || position >= n {
		return nil, fmt.Errorf("position %d outside [0, %d) along %s", position, n, axis)
	}

	vol := v.volume
	var (
		w, h   int
		sample func(i, j int) float64
	)
	switch strings.ToLower(axis) {
	case "x":
		w, h = vol.Depth, vol.Height
		sample = func(i, j int) float64 { return vol.At(position, j, i) }
	case "y":
		w, h = vol.Width, vol.Depth
		sample = func(i, j int) float64 { return vol.At(i, position, j) }
	default:
		w, h = vol.Width, vol.Height
		sample = func(i, j int) float64 { return vol.At(i, j, position) }
	}

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			img.SetNRGBA(i, j, v.colour(sample(i, j)))
		}
	}
	return img, nil
}

// colour maps a voxel to an opaque preview pixel.
func (v *Viewer) colour(value float64) color.NRGBA {
	r, g, b, _ := v.tf.Map(value)
	return color.NRGBA{R: to8(r), G: to8(g), B: to8(b), A: 255}
}

func to8(c float64) uint8 {
	if c <= 0 {
		return 0
	}
	if c >= 1 {
		return 255
	}
	return uint8(c*255 + 0.5)
}

// SaveSlice encodes img to filename in the format implied by its extension.
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := output.Encode(file, img, output.FormatFromPath(filename)); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SaveSliceSequence writes every plane along axis to outputDir.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string, f output.Format) error {
	n, err := v.axisExtent(axis)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < n; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d%s", strings.ToLower(axis), pos, f.Ext()))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}
	return nil
}

// SaveCentral writes the three planes through the volume centre as
// <outputDir>/center_{x,y,z}.<ext> and returns their paths.
func (v *Viewer) SaveCentral(outputDir string, f output.Format) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}
	var paths []string
	for _, axis := range []string{"x", "y", "z"} {
		n, _ := v.axisExtent(axis)
		img, err := v.ExtractSlice(axis, n/2)
		if err != nil {
			return paths, fmt.Errorf("preview %s: %w", v.name, err)
		}
		path := filepath.Join(outputDir, "center_"+axis+f.Ext())
		if err := v.SaveSlice(img, path); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
