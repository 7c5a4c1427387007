package source

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"volshot/internal/imageio"
	"volshot/internal/models"
)

// LoadSliceDir reads a directory of 2D slice images (JPEG or PNG) and stacks
// them along Z into a volume. Slices are ordered by the number embedded in
// their filename, so "slice_2.png" comes before "slice_10.png".
//
// Voxel values are the red channel scaled to [0, 1] when normalize is set,
// or the raw channel value at the image's own bit depth otherwise (label images).
func LoadSliceDir(dir string, normalize bool) (*models.Volume, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	// Filter and sort image files
	var imageFiles []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".jpg" || ext == ".jpeg" || ext == ".png" {
			imageFiles = append(imageFiles, e.Name())
		}
	}

	if len(imageFiles) == 0 {
		return nil, fmt.Errorf("no slice images found in %s", dir)
	}

	sort.SliceStable(imageFiles, func(i, j int) bool {
		return extractNumber(imageFiles[i]) < extractNumber(imageFiles[j])
	})

	slices := make([]models.Slice, 0, len(imageFiles))
	for i, filename := range imageFiles {
		img, err := imageio.DecodeFile(filepath.Join(dir, filename))
		if err != nil {
			return nil, fmt.Errorf("failed to load slice %s: %w", filename, err)
		}
		// All slices must match the first one
		if len(slices) > 0 {
			first := slices[0].Image.Bounds()
			if b := img.Bounds(); b.Dx() != first.Dx() || b.Dy() != first.Dy() {
				return nil, fmt.Errorf("slice %s is %dx%d, expected %dx%d",
					filename, b.Dx(), b.Dy(), first.Dx(), first.Dy())
			}
		}
		slices = append(slices, models.Slice{Image: img, Index: i, Filename: filename})
	}

	return StackSlices(slices, normalize), nil
}

// StackSlices copies the slice images into a volume, slice i becoming z = i.
func StackSlices(slices []models.Slice, normalize bool) *models.Volume {
	if len(slices) == 0 {
		return models.NewVolume(0, 0, 0)
	}
	b := slices[0].Image.Bounds()
	vol := models.NewVolume(b.Dx(), b.Dy(), len(slices))

	for z, s := range slices {
		sb := s.Image.Bounds()
		shift := channelShift(s.Image)
		for y := 0; y < vol.Height; y++ {
			for x := 0; x < vol.Width; x++ {
				r, _, _, _ := s.Image.At(sb.Min.X+x, sb.Min.Y+y).RGBA()
				if normalize {
					vol.Data[vol.Index(x, y, z)] = float64(r) / 65535.0
				} else {
					vol.Data[vol.Index(x, y, z)] = float64(r >> shift)
				}
			}
		}
	}
	return vol
}

// channelShift undoes the 8->16 bit expansion of RGBA() for 8-bit images.
func channelShift(img image.Image) uint {
	switch img.(type) {
	case *image.Gray16, *image.RGBA64, *image.NRGBA64:
		return 0
	}
	return 8
}

// extractNumber extracts the numeric part from a filename
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	numStr := ""
	for _, c := range base {
		if c >= '0' && c <= '9' {
			numStr += string(c)
		}
	}

	if numStr != "" {
		num, err := strconv.Atoi(numStr)
		if err == nil {
			return num
		}
	}
	return 0
}
