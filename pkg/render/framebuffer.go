package render

import (
	"image"
	"image/color"
)

// Framebuffer is an offscreen RGBA target with premultiplied colour.
// Rows are stored bottom-up: row 0 is the bottom of the image.
type Framebuffer struct {
	Width, Height int
	Pix           []uint8
}

// NewFramebuffer allocates a cleared framebuffer.
func NewFramebuffer(width, height int) *Framebuffer {
	return &Framebuffer{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, 4*width*height),
	}
}

// Clear resets every pixel to transparent black.
func (fb *Framebuffer) Clear() {
	clear(fb.Pix)
}

func (fb *Framebuffer) offset(x, row int) int {
	return 4 * (row*fb.Width + x)
}

// Set writes the pixel at column x of the given bottom-up row.
func (fb *Framebuffer) Set(x, row int, c color.RGBA) {
	i := fb.offset(x, row)
	fb.Pix[i], fb.Pix[i+1], fb.Pix[i+2], fb.Pix[i+3] = c.R, c.G, c.B, c.A
}

// At reads the pixel at column x of the given bottom-up row.
func (fb *Framebuffer) At(x, row int) color.RGBA {
	i := fb.offset(x, row)
	return color.RGBA{R: fb.Pix[i], G: fb.Pix[i+1], B: fb.Pix[i+2], A: fb.Pix[i+3]}
}

// Image copies the framebuffer into an image. With flip set, the bottom
// row becomes the last image row, giving the usual top-left origin.
func (fb *Framebuffer) Image(flip bool) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, fb.Width, fb.Height))
	stride := 4 * fb.Width
	for row := 0; row < fb.Height; row++ {
		dst := row
		if flip {
			dst = fb.Height - 1 - row
		}
		copy(img.Pix[dst*img.Stride:dst*img.Stride+stride], fb.Pix[row*stride:(row+1)*stride])
	}
	return img
}
