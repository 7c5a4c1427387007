// Package transfer maps raw voxel intensities to colour and opacity. A
// Function plays the role of a per-source converter setup: display range,
// gamma, colour or lookup table, alpha range and render type.
package transfer

import (
	"fmt"
	"image/color"
	"math"

	"volshot/pkg/transform"
)

// RenderType selects how samples along a ray are combined.
type RenderType int

const (
	// MaxIntensity keeps the brightest sample along the ray
	MaxIntensity RenderType = 0

	// Volumetric composites samples front to back using their opacity
	Volumetric RenderType = 1
)

// ParseRenderType accepts "mip"/"max" or "volumetric"/"volume".
func ParseRenderType(s string) (RenderType, error) {
	switch s {
	case "", "mip", "max":
		return MaxIntensity, nil
	case "volumetric", "volume":
		return Volumetric, nil
	}
	return MaxIntensity, fmt.Errorf("unknown render type %q", s)
}

func (r RenderType) String() string {
	if r == Volumetric {
		return "volumetric"
	}
	return "mip"
}

// Function converts voxel values to RGBA.
type Function struct {
	// Name identifies the setup in logs
	Name string

	// DisplayMin and DisplayMax map onto the [0, 1] colour ramp
	DisplayMin, DisplayMax float64

	// Gamma is applied to the normalized colour intensity
	Gamma float64

	// AlphaMin and AlphaMax define the opacity ramp. When AlphaMax <= AlphaMin
	// the colour ramp is reused for opacity.
	AlphaMin, AlphaMax float64

	// AlphaGamma is applied to the normalized opacity
	AlphaGamma float64

	// Color tints the ramp when no LUT is set
	Color color.NRGBA

	// LUT replaces Color when set
	LUT *LUT

	RenderType RenderType
}

// Default returns a white, linear function over [0, 1].
func Default(name string) *Function {
	return &Function{
		Name:       name,
		DisplayMin: 0,
		DisplayMax: 1,
		Gamma:      1,
		AlphaGamma: 1,
		Color:      color.NRGBA{R: 255, G: 255, B: 255, A: 255},
		RenderType: MaxIntensity,
	}
}

// Normalize maps v onto the display ramp, gamma applied.
func (f *Function) Normalize(v float64) float64 {
	return ramp(v, f.DisplayMin, f.DisplayMax, f.Gamma)
}

// Opacity maps v onto the opacity ramp.
func (f *Function) Opacity(v float64) float64 {
	if f.AlphaMax <= f.AlphaMin {
		return ramp(v, f.DisplayMin, f.DisplayMax, f.AlphaGamma)
	}
	return ramp(v, f.AlphaMin, f.AlphaMax, f.AlphaGamma)
}

// Map returns straight (non-premultiplied) colour and opacity in [0, 1].
func (f *Function) Map(v float64) (r, g, b, a float64) {
	n := f.Normalize(v)
	if f.LUT != nil {
		c := f.LUT.At(n)
		r, g, b = float64(c.R)/255, float64(c.G)/255, float64(c.B)/255
	} else {
		r = n * float64(f.Color.R) / 255
		g = n * float64(f.Color.G) / 255
		b = n * float64(f.Color.B) / 255
	}
	return r, g, b, f.Opacity(v)
}

func ramp(v, lo, hi, gamma float64) float64 {
	if hi <= lo {
		if v >= hi {
			return 1
		}
		return 0
	}
	n := transform.Clamp((v-lo)/(hi-lo), 0, 1)
	if gamma > 0 && gamma != 1 {
		n = math.Pow(n, gamma)
	}
	return n
}
