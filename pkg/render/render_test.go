package render

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/gonum/spatial/r3"

	"volshot/internal/models"
	"volshot/pkg/bounds"
	"volshot/pkg/camera"
	"volshot/pkg/scene"
	"volshot/pkg/source"
	"volshot/pkg/transfer"
)

// stubRenderer converges after k passes and paints each pass in a
// pass-specific colour
type stubRenderer struct {
	k      int
	failAt int
	passes int
	hints  []RepaintKind
}

func passColor(pass int) color.RGBA {
	return color.RGBA{R: uint8(pass), G: uint8(2 * pass), B: 7, A: 255}
}

func (s *stubRenderer) Draw(hint RepaintKind, fb *Framebuffer, frame *scene.Frame, budget time.Duration, maxStep float64) (RepaintKind, error) {
	s.passes++
	s.hints = append(s.hints, hint)
	if s.passes == s.failAt {
		return None, errors.New("shader exploded")
	}
	for row := 0; row < fb.Height; row++ {
		for x := 0; x < fb.Width; x++ {
			fb.Set(x, row, passColor(s.passes))
		}
	}
	// mark the bottom-left pixel to check the flip
	fb.Set(0, 0, color.RGBA{R: 255, A: 255})
	if s.k > 0 && s.passes >= s.k {
		return None, nil
	}
	return Partial, nil
}

// countingContext counts readbacks
type countingContext struct {
	*SoftwareContext
	reads int
}

func (c *countingContext) ReadPixels(flip bool) (*image.RGBA, error) {
	c.reads++
	return c.SoftwareContext.ReadPixels(flip)
}

func TestLoopConverges(t *testing.T) {
	for _, k := range []int{1, 3, 10} {
		stub := &stubRenderer{k: k}
		ctx := &countingContext{SoftwareContext: NewSoftwareContext(4, 3)}
		loop := &Loop{Context: ctx, Renderer: stub}

		img, err := loop.Run(&scene.Frame{})
		if err != nil {
			t.Fatalf("k=%d: Run failed: %v", k, err)
		}
		if stub.passes != k {
			t.Errorf("k=%d: expected %d passes, got %d", k, k, stub.passes)
		}
		if ctx.reads != 1 {
			t.Errorf("k=%d: expected exactly one readback, got %d", k, ctx.reads)
		}
		if got := img.RGBAAt(2, 1); got != passColor(k) {
			t.Errorf("k=%d: expected the k-th pass colour %v, got %v", k, passColor(k), got)
		}
		// framebuffer row 0 is the bottom image row
		if got := img.RGBAAt(0, 2); got.R != 255 || got.G != 0 {
			t.Errorf("k=%d: expected flipped marker in the bottom-left corner, got %v", k, got)
		}

		wantHints := make([]RepaintKind, k)
		wantHints[0] = Full
		if diff := cmp.Diff(wantHints, stub.hints); diff != "" {
			t.Errorf("k=%d: hint mismatch (-want +got):\n%s", k, diff)
		}

		state := loop.State()
		if state.State != Converged || state.Passes != k || state.LastRepaint != None || state.LastImage != img {
			t.Errorf("k=%d: unexpected final state %+v", k, state)
		}
	}
}

func TestLoopPassFailure(t *testing.T) {
	stub := &stubRenderer{k: 5, failAt: 2}
	ctx := &countingContext{SoftwareContext: NewSoftwareContext(2, 2)}
	loop := &Loop{Context: ctx, Renderer: stub}

	img, err := loop.Run(&scene.Frame{})
	if img != nil {
		t.Errorf("Expected no image from a failed frame")
	}
	var passErr *PassError
	if !errors.As(err, &passErr) || passErr.Pass != 2 {
		t.Fatalf("Expected PassError at pass 2, got %v", err)
	}
	if ctx.reads != 0 {
		t.Errorf("Expected no readback after a failure, got %d", ctx.reads)
	}
}

func TestLoopPassCap(t *testing.T) {
	stub := &stubRenderer{}
	loop := &Loop{Context: NewSoftwareContext(2, 2), Renderer: stub, MaxPasses: 5}

	img, err := loop.Run(&scene.Frame{})
	if err != nil {
		t.Fatalf("Expected the cap to fall through without error, got %v", err)
	}
	if stub.passes != 5 || img.RGBAAt(1, 0) != passColor(5) {
		t.Errorf("Expected the 5th pass image, got %d passes", stub.passes)
	}
	if loop.State().LastRepaint != Partial {
		t.Errorf("Expected last repaint to stay partial")
	}
}

func TestContextDestroy(t *testing.T) {
	ctx := NewSoftwareContext(2, 2)
	if err := ctx.Destroy(); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if err := ctx.Destroy(); err != nil {
		t.Errorf("Expected second Destroy to succeed, got %v", err)
	}
	if _, err := ctx.ReadPixels(true); !errors.Is(err, ErrContextDestroyed) {
		t.Errorf("Expected ErrContextDestroyed, got %v", err)
	}

	loop := &Loop{Context: ctx, Renderer: &stubRenderer{k: 1}}
	if _, err := loop.Run(&scene.Frame{}); !errors.Is(err, ErrContextDestroyed) {
		t.Errorf("Expected ErrContextDestroyed from Run, got %v", err)
	}
}

func TestDitherStep(t *testing.T) {
	if step, err := DitherStep(3); err != nil || step != 5 {
		t.Errorf("Expected step 5 for width 3, got %d (%v)", step, err)
	}
	if _, err := DitherStep(9); err == nil {
		t.Errorf("Expected error for width 9")
	}

	// a full set of samples visits every grid cell once
	for w := 2; w <= MaxDitherWidth; w++ {
		seen := map[[2]float64]bool{}
		for _, o := range ditherOffsets(w, w*w) {
			seen[o] = true
		}
		if len(seen) != w*w {
			t.Errorf("Width %d: expected %d distinct offsets, got %d", w, w*w, len(seen))
		}
	}
	if got := ditherOffsets(0, 4); len(got) != 1 {
		t.Errorf("Expected a single centred sample without dithering, got %v", got)
	}
}

func TestBlockCache(t *testing.T) {
	a, _ := source.NewPyramid("a", models.NewVolume(4, 4, 4), source.PyramidOptions{})
	b, _ := source.NewPyramid("b", models.NewVolume(4, 4, 4), source.PyramidOptions{})

	// every array accounts for one 64^3 block (2 MB), over the 1 MB budget
	c := NewBlockCache(1, 64)
	if _, err := c.Fetch(a, 0, 0); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	c.Fetch(b, 0, 0)
	c.Fetch(a, 0, 0)

	if c.Len() != 2 {
		t.Errorf("Expected entries of the current frame to be kept, got %d", c.Len())
	}
	if got := c.Stats(); got.Hits != 1 || got.Misses != 2 {
		t.Errorf("Expected 1 hit and 2 misses, got %+v", got)
	}

	c.PrepareNextFrame()
	if c.Len() != 0 || c.Used() != 0 {
		t.Errorf("Expected the cache to be trimmed, got %d entries (%d bytes)", c.Len(), c.Used())
	}
	if got := c.Stats().Evictions; got != 2 {
		t.Errorf("Expected 2 evictions, got %d", got)
	}

	if _, err := c.Fetch(a, 5, 0); err == nil {
		t.Errorf("Expected error fetching an absent timepoint")
	}

	big := NewBlockCache(64, 4)
	big.Fetch(a, 0, 0)
	big.PrepareNextFrame()
	big.Fetch(a, 0, 0)
	if got := big.Stats(); got.Hits != 1 || got.Evictions != 0 {
		t.Errorf("Expected cached data to survive within budget, got %+v", got)
	}
}

// softwareFrame frames a cube of ones on a 100x100 orthographic screen
func softwareFrame(t *testing.T, levels int, rt transfer.RenderType) *scene.Frame {
	t.Helper()
	vol := models.NewVolume(16, 16, 16)
	for i := range vol.Data {
		vol.Data[i] = 1
	}
	src, err := source.NewPyramid("cube", vol, source.PyramidOptions{Levels: levels})
	if err != nil {
		t.Fatalf("Failed to create source: %v", err)
	}

	sc := scene.New()
	tf := transfer.Default("cube")
	tf.RenderType = rt
	sc.Add(src, nil, tf)

	b, err := bounds.Estimate(sc.Items(0), 0, 0)
	if err != nil {
		t.Fatalf("Failed to estimate bounds: %v", err)
	}
	proj := camera.Projection{Kind: camera.Orthographic, Near: 1, Far: 1000, Width: 100, Height: 100}
	framer := camera.Framer{Projection: proj, Padding: 0.5}
	view, _ := framer.Frame(camera.BaseTransform(b.Pivot, camera.Realignment(camera.DefaultRealign)), b)

	frame, err := sc.Frame(0, 0, proj.Combined(view))
	if err != nil {
		t.Fatalf("Failed to assemble frame: %v", err)
	}
	return frame
}

func TestSoftwareRenderer(t *testing.T) {
	for _, rt := range []transfer.RenderType{transfer.MaxIntensity, transfer.Volumetric} {
		t.Run(rt.String(), func(t *testing.T) {
			frame := softwareFrame(t, 1, rt)
			loop := &Loop{Context: NewSoftwareContext(100, 100), Renderer: NewSoftware(nil), MaxStep: 1}

			img, err := loop.Run(frame)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if got := img.RGBAAt(50, 50); got != (color.RGBA{R: 255, G: 255, B: 255, A: 255}) {
				t.Errorf("Expected opaque white at the centre, got %v", got)
			}
			if got := img.RGBAAt(2, 2); got != (color.RGBA{}) {
				t.Errorf("Expected transparent background, got %v", got)
			}
		})
	}
}

// TestSoftwareProgressive verifies that a tiny time budget spreads the
// frame over several passes and ends with the same image
func TestSoftwareProgressive(t *testing.T) {
	frame := softwareFrame(t, 3, transfer.MaxIntensity)

	full := &Loop{Context: NewSoftwareContext(100, 100), Renderer: NewSoftware(NewBlockCache(64, 32))}
	want, err := full.Run(frame)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if full.State().Passes != 1 {
		t.Errorf("Expected one pass without a budget, got %d", full.State().Passes)
	}

	r := NewSoftware(nil)
	r.NumCores = 2
	slow := &Loop{Context: NewSoftwareContext(100, 100), Renderer: r, Budget: time.Nanosecond, MaxPasses: 1000}
	got, err := slow.Run(frame)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if slow.State().Passes <= 3 {
		t.Errorf("Expected progressive passes, got %d", slow.State().Passes)
	}
	if r.Level() != 0 {
		t.Errorf("Expected refinement to reach level 0, got %d", r.Level())
	}
	if diff := cmp.Diff(want.Pix, got.Pix); diff != "" {
		t.Errorf("Progressive image differs from single-pass image")
	}
}

func TestSoftwareMismatchedFrame(t *testing.T) {
	frame := softwareFrame(t, 1, transfer.MaxIntensity)
	frame.TransferFunctions = nil
	if _, err := NewSoftware(nil).Draw(Full, NewFramebuffer(4, 4), frame, 0, 1); err == nil {
		t.Errorf("Expected error for missing transfer functions")
	}
}

// TestMarchOpacityUsesSampleSpacing verifies that accumulated opacity depends
// on the segment length, not on the requested step
func TestMarchOpacityUsesSampleSpacing(t *testing.T) {
	vol := models.NewVolume(4, 1, 1)
	for i := range vol.Data {
		vol.Data[i] = 1
	}
	tf := transfer.Default("row")
	tf.DisplayMax = 2 // opacity 0.5 per level-0 voxel
	tf.RenderType = transfer.Volumetric

	a, b := r3.Vec{X: -0.5}, r3.Vec{X: 3.5}
	tests := []struct {
		name  string
		scale float64
		step  float64
		want  float64
	}{
		{"one sample", 1, 10, 1 - math.Pow(0.5, 4)},
		{"one sample per voxel", 1, 1, 1 - math.Pow(0.5, 4)},
		{"coarse level voxels", 2, 1, 1 - math.Pow(0.5, 8)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			st := stackRay{vol: vol, tf: tf, voxelScale: tc.scale}
			got := st.march(a, b, tc.step)
			if math.Abs(got[3]-tc.want) > 1e-9 {
				t.Errorf("Expected alpha %f, got %f", tc.want, got[3])
			}
		})
	}
}

func TestLevelScale(t *testing.T) {
	src, err := source.NewPyramid("cube", models.NewVolume(8, 8, 8), source.PyramidOptions{
		Levels:    3,
		VoxelSize: r3.Vec{X: 0.5, Y: 0.5, Z: 2},
	})
	if err != nil {
		t.Fatalf("Failed to create source: %v", err)
	}
	for level, want := range []float64{1, 2, 4} {
		if got := levelScale(src, 0, level); math.Abs(got-want) > 1e-12 {
			t.Errorf("Level %d: expected scale %f, got %f", level, want, got)
		}
	}
}
