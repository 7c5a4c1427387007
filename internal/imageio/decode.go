// Package imageio decodes image files by extension.
//
// The TGA decoder registers itself with an empty magic string, so once it is
// linked image.Decode hands every stream to it. Decoding here never goes
// through the format registry.
package imageio

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ftrvxmtrx/tga"
)

// Supported reports whether path has a decodable image extension.
func Supported(path string) bool {
	_, err := decoderFor(path)
	return err == nil
}

func decoderFor(path string) (func(io.Reader) (image.Image, error), error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return png.Decode, nil
	case ".jpg", ".jpeg":
		return jpeg.Decode, nil
	case ".tga":
		return tga.Decode, nil
	}
	return nil, fmt.Errorf("unsupported image format %q", filepath.Ext(path))
}

// DecodeFile reads the image at path using the decoder for its extension.
func DecodeFile(path string) (image.Image, error) {
	decode, err := decoderFor(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decode(f)
}
