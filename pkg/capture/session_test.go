package capture

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"volshot/internal/models"
	"volshot/pkg/bounds"
	"volshot/pkg/camera"
	"volshot/pkg/output"
	"volshot/pkg/render"
	"volshot/pkg/scene"
	"volshot/pkg/source"
	"volshot/pkg/transfer"
)

func cubeScene(t *testing.T, withTF bool) *scene.Scene {
	t.Helper()
	vol := models.NewVolume(12, 12, 12)
	for i := range vol.Data {
		vol.Data[i] = 1
	}
	src, err := source.NewPyramid("cube", vol, source.PyramidOptions{Levels: 2})
	if err != nil {
		t.Fatalf("Failed to create source: %v", err)
	}
	sc := scene.New()
	var tf *transfer.Function
	if withTF {
		tf = transfer.Default("cube")
	}
	sc.Add(src, nil, tf)
	return sc
}

func testOptions() Options {
	return Options{
		Projection: camera.Projection{Kind: camera.Orthographic, Distance: 3000, Near: 1, Far: 10000, Width: 40, Height: 30},
		Padding:    0.5,
		Realign:    camera.Realignment(camera.DefaultRealign),
		MaxStep:    1,
	}
}

// trackedContexts records every context a session creates
type trackedContexts struct {
	created []*render.SoftwareContext
}

func (tc *trackedContexts) New(w, h int) (render.Context, error) {
	c := render.NewSoftwareContext(w, h)
	tc.created = append(tc.created, c)
	return c, nil
}

type countingCache struct{ frames int }

func (c *countingCache) PrepareNextFrame() { c.frames++ }

// failingRenderer fails on the listed calls
type failingRenderer struct {
	calls  int
	failOn map[int]bool
}

func (f *failingRenderer) Draw(hint render.RepaintKind, fb *render.Framebuffer, frame *scene.Frame, budget time.Duration, maxStep float64) (render.RepaintKind, error) {
	f.calls++
	if f.failOn[f.calls] {
		return render.None, errors.New("out of texture memory")
	}
	return render.None, nil
}

func TestScreenshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shot.png")
	sink, err := output.NewScreenshotSink(path)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	contexts := &trackedContexts{}
	s := &Session{
		Scene:      cubeScene(t, true),
		Renderer:   render.NewSoftware(nil),
		Sink:       sink,
		Options:    testOptions(),
		NewContext: contexts.New,
	}

	if err := s.Screenshot(context.Background()); err != nil {
		t.Fatalf("Screenshot failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Expected screenshot file: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("Failed to decode screenshot: %v", err)
	}
	if got := color.RGBAModel.Convert(img.At(20, 15)).(color.RGBA); got != (color.RGBA{R: 255, G: 255, B: 255, A: 255}) {
		t.Errorf("Expected white at the centre, got %v", got)
	}
	if len(contexts.created) != 1 || !contexts.created[0].Destroyed() {
		t.Errorf("Expected exactly one context, destroyed after the capture")
	}
}

// memorySink keeps written images in memory
type memorySink struct {
	indices []int
	images  []image.Image
}

func (m *memorySink) Write(index int, img image.Image) error {
	m.indices = append(m.indices, index)
	m.images = append(m.images, img)
	return nil
}

func TestMovie(t *testing.T) {
	dir := t.TempDir()
	sink, err := output.NewMovieSink(dir, output.PNG)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	cache := &countingCache{}
	contexts := &trackedContexts{}
	s := &Session{
		Scene:      cubeScene(t, true),
		Renderer:   render.NewSoftware(nil),
		Sink:       sink,
		Options:    testOptions(),
		Cache:      cache,
		NewContext: contexts.New,
	}

	report, err := s.Movie(context.Background(), 4)
	if err != nil {
		t.Fatalf("Movie failed: %v", err)
	}
	if report.Written != 4 || len(report.Skipped) != 0 {
		t.Errorf("Expected 4 written frames, got %+v", report)
	}
	for i := 0; i < 4; i++ {
		if _, err := os.Stat(filepath.Join(dir, output.FrameName(i, output.PNG))); err != nil {
			t.Errorf("Expected frame %d on disk: %v", i, err)
		}
	}
	if cache.frames != 4 {
		t.Errorf("Expected the cache to be prepared once per frame, got %d", cache.frames)
	}
	if !contexts.created[0].Destroyed() {
		t.Errorf("Expected the context to be destroyed")
	}
}

func TestMovieEmptyScene(t *testing.T) {
	sc := cubeScene(t, true)
	sc.SetActive(sc.Entries()[0].Source, false)
	contexts := &trackedContexts{}
	s := &Session{Scene: sc, Renderer: render.NewSoftware(nil), Sink: &memorySink{}, Options: testOptions(), NewContext: contexts.New}

	if _, err := s.Movie(context.Background(), 2); !errors.Is(err, bounds.ErrNoSources) {
		t.Errorf("Expected ErrNoSources, got %v", err)
	}
	if len(contexts.created) != 0 {
		t.Errorf("Expected no context for an empty scene")
	}
}

func TestMovieFailurePolicy(t *testing.T) {
	t.Run("skip", func(t *testing.T) {
		sink := &memorySink{}
		s := &Session{
			Scene:    cubeScene(t, true),
			Renderer: &failingRenderer{failOn: map[int]bool{2: true}},
			Sink:     sink,
			Options:  testOptions(),
		}
		s.Options.FailurePolicy = SkipFailedFrames

		report, err := s.Movie(context.Background(), 3)
		if err != nil {
			t.Fatalf("Expected skipped frame to be tolerated, got %v", err)
		}
		if diff := cmp.Diff([]int{1}, report.Skipped); diff != "" {
			t.Errorf("Skipped frames mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]int{0, 2}, sink.indices); diff != "" {
			t.Errorf("Written frames mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("abort", func(t *testing.T) {
		sink := &memorySink{}
		contexts := &trackedContexts{}
		s := &Session{
			Scene:      cubeScene(t, true),
			Renderer:   &failingRenderer{failOn: map[int]bool{2: true}},
			Sink:       sink,
			Options:    testOptions(),
			NewContext: contexts.New,
		}

		report, err := s.Movie(context.Background(), 3)
		var passErr *render.PassError
		if !errors.As(err, &passErr) {
			t.Fatalf("Expected PassError, got %v", err)
		}
		if report.Written != 1 || len(sink.indices) != 1 {
			t.Errorf("Expected only the first frame written, got %+v", report)
		}
		if !contexts.created[0].Destroyed() {
			t.Errorf("Expected the context to be destroyed after a failure")
		}
	})
}

func TestMovieMissingTransferFunction(t *testing.T) {
	s := &Session{Scene: cubeScene(t, false), Renderer: render.NewSoftware(nil), Sink: &memorySink{}, Options: testOptions()}
	s.Options.FailurePolicy = SkipFailedFrames

	_, err := s.Movie(context.Background(), 2)
	var missing *scene.MissingTransferFunctionError
	if !errors.As(err, &missing) || missing.Source != "cube" {
		t.Errorf("Expected missing transfer function for cube, got %v", err)
	}
}

func TestMovieCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &memorySink{}
	s := &Session{Scene: cubeScene(t, true), Renderer: render.NewSoftware(nil), Sink: sink, Options: testOptions()}
	if _, err := s.Movie(ctx, 3); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if len(sink.images) != 0 {
		t.Errorf("Expected no frames after cancellation")
	}
}

func TestParseFailurePolicy(t *testing.T) {
	if p, err := ParseFailurePolicy("skip"); err != nil || p != SkipFailedFrames {
		t.Errorf("Expected skip, got %v (%v)", p, err)
	}
	if _, err := ParseFailurePolicy("retry"); err == nil {
		t.Errorf("Expected error for unknown policy")
	}
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("Failed to encode %s: %v", path, err)
	}
}

// TestLoadPNGSlicesAndLUT loads slices and a lookup table in a binary that
// links the TGA decoder
func TestLoadPNGSlicesAndLUT(t *testing.T) {
	dir := t.TempDir()
	for i, name := range []string{"slice_0.png", "slice_1.png", "slice_2.png"} {
		img := image.NewGray(image.Rect(0, 0, 4, 4))
		for p := range img.Pix {
			img.Pix[p] = uint8(50 * (i + 1))
		}
		writePNG(t, filepath.Join(dir, name), img)
	}

	vol, err := source.LoadSliceDir(dir, false)
	if err != nil {
		t.Fatalf("Failed to load slices: %v", err)
	}
	if vol.Dims() != [3]int{4, 4, 3} || vol.At(2, 2, 2) != 150 {
		t.Errorf("Unexpected volume dims %v or value %f", vol.Dims(), vol.At(2, 2, 2))
	}

	strip := image.NewNRGBA(image.Rect(0, 0, 256, 1))
	for x := 0; x < 256; x++ {
		strip.SetNRGBA(x, 0, color.NRGBA{G: uint8(x), A: 255})
	}
	lutPath := filepath.Join(t.TempDir(), "green.png")
	writePNG(t, lutPath, strip)

	lut, err := transfer.LoadLUT(lutPath)
	if err != nil {
		t.Fatalf("Failed to load LUT: %v", err)
	}
	if got := lut.At(1); got.G != 255 || got.R != 0 {
		t.Errorf("Expected full green at 1, got %v", got)
	}
}
