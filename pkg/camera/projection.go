// Package camera auto-frames a scene: it fits the projected bounding box
// to the viewport, centres the pivot and keeps the box inside the clip
// planes, for a single screenshot or for every frame of an orbit.
//
// Viewer space is measured in pixels: x to the right, y down, z into the
// screen, with the screen plane at z = 0. The perspective eye sits at
// (width/2, height/2, -distance).
package camera

import (
	"fmt"
	"strings"

	"volshot/pkg/transform"
)

// Kind selects the projection model.
type Kind int

const (
	Perspective Kind = iota
	Orthographic
)

func (k Kind) String() string {
	if k == Orthographic {
		return "orthographic"
	}
	return "perspective"
}

// ParseKind parses "perspective" or "orthographic" (case-insensitive).
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "perspective", "persp":
		return Perspective, nil
	case "orthographic", "ortho":
		return Orthographic, nil
	}
	return Perspective, fmt.Errorf("unknown projection %q", s)
}

// Projection describes the camera of a capture session. It is immutable
// for the lifetime of the session.
type Projection struct {
	Kind Kind

	// Distance from the eye to the screen plane (perspective only)
	Distance float64

	// Near and Far are the viewer-space Z of the clip planes
	Near, Far float64

	Width, Height int
}

// Matrix maps viewer space to clip space.
func (p Projection) Matrix() transform.Mat4 {
	w, h := float64(p.Width), float64(p.Height)
	n, f := p.Near, p.Far

	if p.Kind == Orthographic {
		return transform.Mat4{
			2 / w, 0, 0, -1,
			0, -2 / h, 0, 1,
			0, 0, 2 / (f - n), -(f + n) / (f - n),
			0, 0, 0, 1,
		}
	}

	d := p.Distance
	a := (f + n + 2*d) / (f - n)
	b := -(n + d) - a*n
	return transform.Mat4{
		2 * d / w, 0, 0, -d,
		0, -2 * d / h, 0, d,
		0, 0, a, b,
		0, 0, 1, d,
	}
}

// Combined returns proj·view.
func (p Projection) Combined(view transform.Affine) transform.Mat4 {
	return p.Matrix().Mul(view.Mat4())
}

// ToScreen converts a clip-space point to pixel coordinates, row 0 on top.
// The caller must ensure clip[3] != 0.
func (p Projection) ToScreen(clip [4]float64) (x, y float64) {
	ndcX := clip[0] / clip[3]
	ndcY := clip[1] / clip[3]
	x = (ndcX*0.5 + 0.5) * float64(p.Width)
	y = (1 - (ndcY*0.5 + 0.5)) * float64(p.Height)
	return x, y
}

// Center returns the pixel coordinates of the viewport centre.
func (p Projection) Center() (x, y float64) {
	return float64(p.Width) / 2, float64(p.Height) / 2
}

// Validate reports projection parameters that cannot produce an image.
func (p Projection) Validate() error {
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("invalid screen size %dx%d", p.Width, p.Height)
	}
	if p.Far <= p.Near {
		return fmt.Errorf("far clip %g must exceed near clip %g", p.Far, p.Near)
	}
	if p.Kind == Perspective && p.Distance <= -p.Near {
		return fmt.Errorf("near clip %g lies behind the camera at distance %g", p.Near, p.Distance)
	}
	return nil
}
