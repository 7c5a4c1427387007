package visualization

import (
	"os"
	"path/filepath"
	"testing"

	"volshot/internal/models"
	"volshot/pkg/output"
	"volshot/pkg/source"
	"volshot/pkg/transfer"
)

// zRamp builds a volume whose slices along Z hold z/depth
func zRamp(width, height, depth int) *models.Volume {
	vol := models.NewVolume(width, height, depth)
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				vol.Set(x, y, z, float64(z)/float64(depth))
			}
		}
	}
	return vol
}

// TestExtractSlice verifies slice dimensions and colouring along each axis
func TestExtractSlice(t *testing.T) {
	width, height, depth := 10, 8, 5
	viewer := NewVolumeViewer(zRamp(width, height, depth), nil)

	for z := 0; z < depth; z++ {
		img, err := viewer.ExtractSlice("z", z)
		if err != nil {
			t.Fatalf("Failed to extract Z slice at position %d: %v", z, err)
		}
		if b := img.Bounds(); b.Dx() != width || b.Dy() != height {
			t.Errorf("Expected Z slice dimensions %dx%d, got %dx%d", width, height, b.Dx(), b.Dy())
		}
		want := to8(float64(z) / float64(depth))
		if c := img.NRGBAAt(width/2, height/2); c.R != want || c.A != 255 {
			t.Errorf("Z slice %d: expected grey %d opaque, got %v", z, want, c)
		}
	}

	imgX, err := viewer.ExtractSlice("X", width/2)
	if err != nil {
		t.Fatalf("Failed to extract X slice: %v", err)
	}
	if b := imgX.Bounds(); b.Dx() != depth || b.Dy() != height {
		t.Errorf("Expected X slice dimensions %dx%d, got %dx%d", depth, height, b.Dx(), b.Dy())
	}
	// X planes run along Z horizontally
	if c := imgX.NRGBAAt(depth-1, 0); c.R != to8(float64(depth-1)/float64(depth)) {
		t.Errorf("Unexpected X slice value %v", c)
	}

	imgY, err := viewer.ExtractSlice("y", height/2)
	if err != nil {
		t.Fatalf("Failed to extract Y slice: %v", err)
	}
	if b := imgY.Bounds(); b.Dx() != width || b.Dy() != depth {
		t.Errorf("Expected Y slice dimensions %dx%d, got %dx%d", width, depth, b.Dx(), b.Dy())
	}

	if _, err := viewer.ExtractSlice("invalid", 0); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
	if _, err := viewer.ExtractSlice("z", depth); err == nil {
		t.Error("Expected error for out of bounds position, got nil")
	}
	if _, err := viewer.ExtractSlice("z", -1); err == nil {
		t.Error("Expected error for negative position, got nil")
	}
}

// TestTransferFunctionColour verifies that the display range and tint apply
func TestTransferFunctionColour(t *testing.T) {
	vol := models.NewVolume(2, 1, 1)
	copy(vol.Data, []float64{100, 300})

	tf := transfer.Default("red")
	tf.DisplayMin, tf.DisplayMax = 100, 200
	tf.Color.G, tf.Color.B = 0, 0

	img, err := NewVolumeViewer(vol, tf).ExtractSlice("z", 0)
	if err != nil {
		t.Fatalf("Failed to extract slice: %v", err)
	}
	if c := img.NRGBAAt(0, 0); c.R != 0 || c.G != 0 {
		t.Errorf("Expected black below the display range, got %v", c)
	}
	if c := img.NRGBAAt(1, 0); c.R != 255 || c.G != 0 || c.B != 0 {
		t.Errorf("Expected saturated red above the display range, got %v", c)
	}
}

// TestNewViewerFromSource verifies that absent timepoints are reported
func TestNewViewerFromSource(t *testing.T) {
	p, err := source.NewPyramid("ramp", zRamp(4, 4, 4), source.PyramidOptions{Levels: 2})
	if err != nil {
		t.Fatalf("Failed to build pyramid: %v", err)
	}

	v, err := NewViewer(p, 0, 1, nil)
	if err != nil {
		t.Fatalf("Failed to create viewer: %v", err)
	}
	img, err := v.ExtractSlice("z", 0)
	if err != nil {
		t.Fatalf("Failed to extract slice: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 2 || b.Dy() != 2 {
		t.Errorf("Expected level-1 slice 2x2, got %dx%d", b.Dx(), b.Dy())
	}

	if _, err := NewViewer(p, 3, 0, nil); err == nil {
		t.Error("Expected error for absent timepoint, got nil")
	}
}

// TestSaveSliceSequence verifies that a sequence of slices can be saved
func TestSaveSliceSequence(t *testing.T) {
	viewer := NewVolumeViewer(zRamp(5, 5, 3), nil)
	outputDir := filepath.Join(t.TempDir(), "slices")

	if err := viewer.SaveSliceSequence("z", outputDir, output.PNG); err != nil {
		t.Fatalf("Failed to save slice sequence: %v", err)
	}
	for _, name := range []string{"slice_z_000.png", "slice_z_001.png", "slice_z_002.png"} {
		if _, err := os.Stat(filepath.Join(outputDir, name)); err != nil {
			t.Errorf("Expected slice file %s: %v", name, err)
		}
	}

	if err := viewer.SaveSliceSequence("invalid", outputDir, output.PNG); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
}

// TestSaveCentral verifies the three centre planes are written
func TestSaveCentral(t *testing.T) {
	dir := t.TempDir()
	paths, err := NewVolumeViewer(zRamp(6, 4, 2), nil).SaveCentral(dir, output.WebP)
	if err != nil {
		t.Fatalf("Failed to save centre planes: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("Expected 3 paths, got %d", len(paths))
	}
	for _, p := range paths {
		if filepath.Ext(p) != ".webp" {
			t.Errorf("Expected .webp extension, got %s", p)
		}
		if fi, err := os.Stat(p); err != nil || fi.Size() == 0 {
			t.Errorf("Expected non-empty file %s: %v", p, err)
		}
	}
}
