// Package output persists rendered frames as PNG or WebP files.
package output

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/HugoSmits86/nativewebp"
	"golang.org/x/image/draw"
)

// Format is an output image encoding.
type Format int

const (
	PNG Format = iota
	WebP
)

// ParseFormat accepts "png" or "webp".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "", "png":
		return PNG, nil
	case "webp":
		return WebP, nil
	}
	return PNG, fmt.Errorf("unknown image format %q", s)
}

// FormatFromPath picks the format from the file extension, defaulting to PNG.
func FormatFromPath(path string) Format {
	f, err := ParseFormat(filepath.Ext(path))
	if err != nil {
		return PNG
	}
	return f
}

// Ext returns the file extension including the dot.
func (f Format) Ext() string {
	if f == WebP {
		return ".webp"
	}
	return ".png"
}

func (f Format) String() string {
	return strings.TrimPrefix(f.Ext(), ".")
}

// Encode writes img in format f.
func Encode(w io.Writer, img image.Image, f Format) error {
	if f == WebP {
		return nativewebp.Encode(w, img, nil)
	}
	return png.Encode(w, img)
}

// Resize scales img to width×height. Images already at that size are
// returned unchanged.
func Resize(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// FrameName returns the file name of movie frame i.
func FrameName(i int, f Format) string {
	return fmt.Sprintf("frame_%04d%s", i, f.Ext())
}

// Sink receives one finished image per frame.
type Sink interface {
	Write(index int, img image.Image) error
}

// FileSink writes frames to files.
type FileSink struct {
	Format Format

	// Width and Height resize the output when both are positive
	Width, Height int

	dir  string
	path string
}

// NewMovieSink writes frame_%04d files into dir, which must exist.
func NewMovieSink(dir string, f Format) (*FileSink, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("movie output: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("movie output %s is not a directory", dir)
	}
	return &FileSink{Format: f, dir: dir}, nil
}

// NewScreenshotSink writes a single image to path. Its parent directory
// must exist and path itself must not be a directory.
func NewScreenshotSink(path string) (*FileSink, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return nil, fmt.Errorf("screenshot output %s is a directory", path)
	}
	parent := filepath.Dir(path)
	info, err := os.Stat(parent)
	if err != nil {
		return nil, fmt.Errorf("screenshot output: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("screenshot output parent %s is not a directory", parent)
	}
	return &FileSink{Format: FormatFromPath(path), path: path}, nil
}

// Path returns the file written for frame index.
func (s *FileSink) Path(index int) string {
	if s.path != "" {
		return s.path
	}
	return filepath.Join(s.dir, FrameName(index, s.Format))
}

// Write encodes img to a temporary file and renames it into place, so a
// failed write never leaves a truncated image behind.
func (s *FileSink) Write(index int, img image.Image) error {
	if img == nil {
		return errors.New("output: nil image")
	}
	if s.Width > 0 && s.Height > 0 {
		img = Resize(img, s.Width, s.Height)
	}

	path := s.Path(index)
	tmp, err := os.CreateTemp(filepath.Dir(path), ".frame-*")
	if err != nil {
		return fmt.Errorf("output: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, img, s.Format); err != nil {
		tmp.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	return nil
}
