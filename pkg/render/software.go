package render

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"runtime"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"volshot/internal/models"
	"volshot/pkg/scene"
	"volshot/pkg/source"
	"volshot/pkg/transfer"
	"volshot/pkg/transform"
)

// ditherSteps[w] is the stride through the w×w dither grid. Each stride is
// coprime to w², so the first n samples are spread over the whole grid.
var ditherSteps = []int{0, 1, 3, 5, 9, 11, 19, 23, 29}

// MaxDitherWidth is the largest supported dither width.
const MaxDitherWidth = 8

// DitherStep returns the sample stride for a dither width in [0, 8].
func DitherStep(width int) (int, error) {
	if width < 0 || width >= len(ditherSteps) {
		return 0, fmt.Errorf("dither width %d out of range [0, %d]", width, MaxDitherWidth)
	}
	return ditherSteps[width], nil
}

// maxSamplesPerRay bounds the work of a single ray.
const maxSamplesPerRay = 1 << 14

// VoxelFetcher supplies voxel arrays to the renderer.
type VoxelFetcher interface {
	Fetch(src source.Source, t, level int) (*models.Volume, error)
}

type directFetcher struct{}

func (directFetcher) Fetch(src source.Source, t, level int) (*models.Volume, error) {
	return src.Voxels(t, level)
}

// Software is a CPU ray marching renderer. It refines progressively: each
// frame starts at the coarsest resolution level and works towards the
// frame's level, resuming at the next unfinished row when a pass runs out
// of time. Draw reports None once the target level is complete.
type Software struct {
	// Cache supplies voxels; nil reads the sources directly
	Cache VoxelFetcher

	// NumCores is the number of goroutines rendering rows
	NumCores int

	// DitherWidth and DitherSamples control sub-pixel supersampling.
	// A width of 0 or 1 casts one ray through each pixel centre.
	DitherWidth   int
	DitherSamples int

	buf     []color.RGBA
	width   int
	height  int
	level   int
	target  int
	row     int
	done    bool
	offsets [][2]float64
}

// NewSoftware creates a renderer using all CPUs.
func NewSoftware(cache VoxelFetcher) *Software {
	return &Software{Cache: cache, NumCores: runtime.NumCPU()}
}

// Level returns the resolution level currently being refined.
func (s *Software) Level() int {
	return s.level
}

func (s *Software) reset(fb *Framebuffer, frame *scene.Frame) {
	s.width, s.height = fb.Width, fb.Height
	s.buf = make([]color.RGBA, s.width*s.height)
	s.target = frame.Level
	s.level = frame.Level
	for _, st := range frame.Stacks {
		if coarsest := st.Source.NumLevels() - 1; coarsest > s.level {
			s.level = coarsest
		}
	}
	s.row = 0
	s.done = false
	s.offsets = ditherOffsets(s.DitherWidth, s.DitherSamples)
}

// ditherOffsets returns sub-pixel sample offsets relative to the pixel centre.
func ditherOffsets(width, samples int) [][2]float64 {
	if width <= 1 {
		return [][2]float64{{0, 0}}
	}
	width = transform.Clamp(width, 2, MaxDitherWidth)
	n := width * width
	samples = transform.Clamp(samples, 1, n)
	step := ditherSteps[width]

	offsets := make([][2]float64, samples)
	for k := range offsets {
		idx := (k * step) % n
		ix, iy := idx%width, idx/width
		offsets[k] = [2]float64{
			(float64(ix)+0.5)/float64(width) - 0.5,
			(float64(iy)+0.5)/float64(width) - 0.5,
		}
	}
	return offsets
}

type stackRay struct {
	vol     *models.Volume
	toVoxel transform.Affine
	tf      *transfer.Function

	// voxelScale is the edge of a voxel at the pass level, in level-0 voxels
	voxelScale float64
}

type pass struct {
	invVP  transform.Mat4
	stacks []stackRay
	step   float64
}

func (s *Software) prepare(frame *scene.Frame, maxStep float64) (*pass, error) {
	invVP, err := frame.ViewProjection.Inverse()
	if err != nil {
		return nil, fmt.Errorf("view-projection: %w", err)
	}
	fetch := s.Cache
	if fetch == nil {
		fetch = directFetcher{}
	}

	p := &pass{invVP: invVP, step: maxStep}
	if p.step <= 0 {
		p.step = 1
	}
	for i, st := range frame.Stacks {
		vol, err := fetch.Fetch(st.Source, st.Timepoint, s.level)
		if err != nil {
			return nil, fmt.Errorf("fetch %s level %d: %w", st.Source.Name(), s.level, err)
		}
		toVoxel, err := st.Source.SourceToWorld(st.Timepoint, s.level).Inverse()
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", st.Source.Name(), err)
		}
		p.stacks = append(p.stacks, stackRay{
			vol:        vol,
			toVoxel:    toVoxel,
			tf:         frame.TransferFunctions[i],
			voxelScale: levelScale(st.Source, st.Timepoint, s.level),
		})
	}
	return p, nil
}

func (s *Software) Draw(hint RepaintKind, fb *Framebuffer, frame *scene.Frame, budget time.Duration, maxStep float64) (RepaintKind, error) {
	if frame == nil {
		return None, errors.New("render: nil frame")
	}
	if len(frame.Stacks) != len(frame.TransferFunctions) {
		return None, fmt.Errorf("render: %d stacks but %d transfer functions",
			len(frame.Stacks), len(frame.TransferFunctions))
	}
	if hint == Full || s.buf == nil || fb.Width != s.width || fb.Height != s.height {
		s.reset(fb, frame)
	}

	start := time.Now()
	for !s.done {
		p, err := s.prepare(frame, maxStep)
		if err != nil {
			return None, err
		}

		outOfTime := false
		for s.row < s.height {
			end := min(s.row+s.chunkRows(), s.height)
			s.renderRows(p, s.row, end)
			s.row = end
			if budget > 0 && time.Since(start) >= budget {
				outOfTime = true
				break
			}
		}

		if s.row >= s.height {
			if s.level > s.target {
				s.level--
				s.row = 0
			} else {
				s.done = true
			}
		}
		if outOfTime {
			break
		}
	}

	for row := 0; row < s.height; row++ {
		for x := 0; x < s.width; x++ {
			fb.Set(x, row, s.buf[row*s.width+x])
		}
	}

	if s.done {
		return None, nil
	}
	return Partial, nil
}

func (s *Software) cores() int {
	if s.NumCores < 1 {
		return 1
	}
	return s.NumCores
}

func (s *Software) chunkRows() int {
	return 4 * s.cores()
}

// renderRows renders bottom-up rows [from, to) split across the cores.
func (s *Software) renderRows(p *pass, from, to int) {
	var wg sync.WaitGroup
	numCores := s.cores()
	rowsPerCore := (to - from + numCores - 1) / numCores

	for c := 0; c < numCores; c++ {
		startRow := from + c*rowsPerCore
		endRow := min(startRow+rowsPerCore, to)
		if startRow >= endRow {
			break
		}

		wg.Add(1)
		go func(startRow, endRow int) {
			defer wg.Done()
			for row := startRow; row < endRow; row++ {
				// image y grows downwards
				y := float64(s.height-1-row) + 0.5
				for x := 0; x < s.width; x++ {
					s.buf[row*s.width+x] = s.shade(p, float64(x)+0.5, y)
				}
			}
		}(startRow, endRow)
	}

	wg.Wait()
}

// shade averages the dither samples of one pixel.
func (s *Software) shade(p *pass, px, py float64) color.RGBA {
	var sum [4]float64
	for _, o := range s.offsets {
		c := p.cast(px+o[0], py+o[1], float64(s.width), float64(s.height))
		for i := range sum {
			sum[i] += c[i]
		}
	}
	n := float64(len(s.offsets))
	to8 := func(v float64) uint8 {
		return uint8(transform.Clamp(v/n, 0, 1)*255 + 0.5)
	}
	return color.RGBA{R: to8(sum[0]), G: to8(sum[1]), B: to8(sum[2]), A: to8(sum[3])}
}

func unproject(inv transform.Mat4, x, y, z float64) (r3.Vec, bool) {
	v := inv.Transform([4]float64{x, y, z, 1})
	if v[3] == 0 {
		return r3.Vec{}, false
	}
	return r3.Vec{X: v[0] / v[3], Y: v[1] / v[3], Z: v[2] / v[3]}, true
}

// cast returns the premultiplied RGBA of the ray through pixel (px, py).
func (p *pass) cast(px, py, width, height float64) [4]float64 {
	ndcX := 2*px/width - 1
	ndcY := 1 - 2*py/height
	near, ok1 := unproject(p.invVP, ndcX, ndcY, -1)
	far, ok2 := unproject(p.invVP, ndcX, ndcY, 1)
	if !ok1 || !ok2 {
		return [4]float64{}
	}

	var out [4]float64
	transparency := 1.0
	for _, st := range p.stacks {
		c := st.march(st.toVoxel.Apply(near), st.toVoxel.Apply(far), p.step/st.voxelScale)
		out[0] += c[0]
		out[1] += c[1]
		out[2] += c[2]
		transparency *= 1 - c[3]
	}
	out[3] = 1 - transparency
	for i := 0; i < 3; i++ {
		out[i] = math.Min(out[i], 1)
		out[3] = math.Max(out[3], out[i])
	}
	return out
}

// clipSegment intersects a→b with the voxel box and returns the
// parameter range inside it.
func clipSegment(a, b r3.Vec, dims [3]int) (float64, float64, bool) {
	t0, t1 := 0.0, 1.0
	from := [3]float64{a.X, a.Y, a.Z}
	dir := [3]float64{b.X - a.X, b.Y - a.Y, b.Z - a.Z}
	for i := 0; i < 3; i++ {
		lo, hi := -0.5, float64(dims[i])-0.5
		if dir[i] == 0 {
			if from[i] < lo || from[i] > hi {
				return 0, 0, false
			}
			continue
		}
		u0 := (lo - from[i]) / dir[i]
		u1 := (hi - from[i]) / dir[i]
		if u0 > u1 {
			u0, u1 = u1, u0
		}
		t0 = math.Max(t0, u0)
		t1 = math.Min(t1, u1)
		if t0 >= t1 {
			return 0, 0, false
		}
	}
	return t0, t1, true
}

// levelScale returns how many level-0 voxels one voxel at level spans.
func levelScale(src source.Source, t, level int) float64 {
	unit := r3.Vec{X: 1}
	fine := r3.Norm(src.SourceToWorld(t, 0).ApplyVector(unit))
	coarse := r3.Norm(src.SourceToWorld(t, level).ApplyVector(unit))
	if fine == 0 || coarse == 0 {
		return 1
	}
	return coarse / fine
}

// march samples the voxel-space segment a→b front to back. step is in
// voxels of the marched level.
func (st stackRay) march(a, b r3.Vec, step float64) [4]float64 {
	t0, t1, ok := clipSegment(a, b, st.vol.Dims())
	if !ok {
		return [4]float64{}
	}
	dir := r3.Sub(b, a)
	length := r3.Norm(dir) * (t1 - t0)
	n := int(math.Ceil(length / step))
	n = transform.Clamp(n, 1, maxSamplesPerRay)
	dt := (t1 - t0) / float64(n)
	// opacity is defined per level-0 voxel
	spacing := length / float64(n) * st.voxelScale

	sample := func(k int) float64 {
		q := r3.Add(a, r3.Scale(t0+(float64(k)+0.5)*dt, dir))
		return st.vol.At(int(math.Floor(q.X+0.5)), int(math.Floor(q.Y+0.5)), int(math.Floor(q.Z+0.5)))
	}

	if st.tf.RenderType == transfer.Volumetric {
		var acc [4]float64
		for k := 0; k < n && acc[3] < 0.99; k++ {
			cr, cg, cb, ca := st.tf.Map(sample(k))
			ca = 1 - math.Pow(1-ca, spacing)
			w := (1 - acc[3]) * ca
			acc[0] += w * cr
			acc[1] += w * cg
			acc[2] += w * cb
			acc[3] += w
		}
		return acc
	}

	vmax := math.Inf(-1)
	for k := 0; k < n; k++ {
		vmax = math.Max(vmax, sample(k))
	}
	cr, cg, cb, ca := st.tf.Map(vmax)
	return [4]float64{cr, cg, cb, math.Max(ca, math.Max(cr, math.Max(cg, cb)))}
}
