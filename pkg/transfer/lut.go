package transfer

import (
	"fmt"
	"image"
	"image/color"

	"volshot/internal/imageio"
	"volshot/pkg/transform"
)

// LUT is a 256-entry colour lookup table.
type LUT [256]color.NRGBA

// GrayLUT returns a linear black-to-white ramp.
func GrayLUT() *LUT {
	var l LUT
	for i := range l {
		l[i] = color.NRGBA{R: uint8(i), G: uint8(i), B: uint8(i), A: 255}
	}
	return &l
}

// At returns the entry for a normalized value in [0, 1].
func (l *LUT) At(n float64) color.NRGBA {
	i := int(n*255 + 0.5)
	return l[transform.Clamp(i, 0, 255)]
}

// LUTFromImage samples the first row of img into 256 entries.
func LUTFromImage(img image.Image) (*LUT, error) {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("lut: empty image")
	}
	var l LUT
	for i := range l {
		x := b.Min.X + i*b.Dx()/len(l)
		l[i] = color.NRGBAModel.Convert(img.At(x, b.Min.Y)).(color.NRGBA)
		l[i].A = 255
	}
	return &l, nil
}

// LoadLUT reads a lookup table image (PNG or TGA).
func LoadLUT(path string) (*LUT, error) {
	img, err := imageio.DecodeFile(path)
	if err != nil {
		return nil, fmt.Errorf("lut: decode %s: %w", path, err)
	}
	return LUTFromImage(img)
}
