// Package roi computes where images land on the output canvas: per image
// bounding boxes, the optimal crop, overlaps and exposure stacks.
package roi

import (
	"image"
	"log/slog"
	"math"

	"panokit/internal/geom"
	"panokit/internal/pano"
)

// DefaultMaxSamples bounds the longest side of the coverage grid.
const DefaultMaxSamples = 512

// ImageROI is the canvas region one image contributes to. Rect is empty
// when the image does not reach the canvas.
type ImageROI struct {
	Index int
	Rect  image.Rectangle
}

// Engine samples image coverage on a regular grid over the canvas. It works
// on a snapshot: build a new Engine after the panorama changes.
type Engine struct {
	images  []pano.SrcImage
	opts    pano.Options
	log     *slog.Logger
	stackID []int

	step       int
	cols, rows int
	cover      map[int][]bool
	transforms map[int]*geom.Transform
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxSamples changes the coverage grid resolution.
func WithMaxSamples(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.setGrid(n)
		}
	}
}

// WithLogger sets the logger used for images that cannot be transformed.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEngine snapshots p.
func NewEngine(p *pano.Panorama, opts ...Option) *Engine {
	e := &Engine{
		images:     p.Images(),
		opts:       p.Options(),
		log:        p.Logger(),
		cover:      map[int][]bool{},
		transforms: map[int]*geom.Transform{},
	}
	e.stackID = make([]int, len(e.images))
	for id, class := range p.LinkClasses(pano.VarStack) {
		for _, i := range class {
			e.stackID[i] = id
		}
	}
	e.setGrid(DefaultMaxSamples)
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) setGrid(maxSamples int) {
	longest := max(e.opts.Width, e.opts.Height)
	e.step = 1
	if longest > maxSamples {
		e.step = int(math.Ceil(float64(longest) / float64(maxSamples)))
	}
	e.cols = (e.opts.Width + e.step - 1) / e.step
	e.rows = (e.opts.Height + e.step - 1) / e.step
	e.cover = map[int][]bool{}
}

// Options returns the canvas settings the engine works with.
func (e *Engine) Options() pano.Options { return e.opts }

// Transform returns the cached transform of image i, or nil when it cannot
// be built.
func (e *Engine) Transform(i int) *geom.Transform {
	if t, ok := e.transforms[i]; ok {
		return t
	}
	if i < 0 || i >= len(e.images) {
		return nil
	}
	t, err := geom.New(e.images[i], e.opts)
	if err != nil {
		e.log.Warn("image has no usable geometry", "image", i, "error", err)
		t = nil
	}
	e.transforms[i] = t
	return t
}

// Covers reports whether canvas point (px, py) shows a valid pixel of i.
func (e *Engine) Covers(i int, px, py float64) bool {
	t := e.Transform(i)
	if t == nil {
		return false
	}
	x, y, ok := t.ToImage(px, py)
	if !ok {
		return false
	}
	return Inside(e.images[i], x, y)
}

// Inside reports whether source position (x, y) lies in the valid region
// of img, honouring the crop rectangle or circle.
func Inside(img pano.SrcImage, x, y float64) bool {
	r := img.ValidRect()
	if x < float64(r.Min.X)-0.5 || y < float64(r.Min.Y)-0.5 ||
		x > float64(r.Max.X)-0.5 || y > float64(r.Max.Y)-0.5 {
		return false
	}
	if img.Crop == pano.CropCircle {
		cx := float64(r.Min.X+r.Max.X)/2 - 0.5
		cy := float64(r.Min.Y+r.Max.Y)/2 - 0.5
		rad := float64(min(r.Dx(), r.Dy())) / 2
		return math.Hypot(x-cx, y-cy) <= rad
	}
	return true
}

// coverage returns the sample grid of image i, computing it once.
func (e *Engine) coverage(i int) []bool {
	if c, ok := e.cover[i]; ok {
		return c
	}
	c := make([]bool, e.cols*e.rows)
	if e.Transform(i) != nil {
		for r := 0; r < e.rows; r++ {
			py := e.sampleY(r)
			for col := 0; col < e.cols; col++ {
				c[r*e.cols+col] = e.Covers(i, e.sampleX(col), py)
			}
		}
	}
	e.cover[i] = c
	return c
}

func (e *Engine) sampleX(col int) float64 {
	return math.Min(float64(col*e.step)+float64(e.step-1)/2, float64(e.opts.Width-1))
}

func (e *Engine) sampleY(row int) float64 {
	return math.Min(float64(row*e.step)+float64(e.step-1)/2, float64(e.opts.Height-1))
}

// bounds converts the covered cells of c to a canvas rectangle expanded by
// one sample step and clipped to the canvas.
func (e *Engine) bounds(c []bool) image.Rectangle {
	minC, minR, maxC, maxR := e.cols, e.rows, -1, -1
	for r := 0; r < e.rows; r++ {
		for col := 0; col < e.cols; col++ {
			if c[r*e.cols+col] {
				minC, maxC = min(minC, col), max(maxC, col)
				minR, maxR = min(minR, r), max(maxR, r)
			}
		}
	}
	if maxC < 0 {
		return image.Rectangle{}
	}
	pad := 0
	if e.step > 1 {
		pad = e.step
	}
	rect := image.Rect(minC*e.step-pad, minR*e.step-pad, (maxC+1)*e.step+pad, (maxR+1)*e.step+pad)
	return rect.Intersect(e.opts.Canvas())
}

// ComputeROIs returns the bounding box of every listed image on the canvas.
func (e *Engine) ComputeROIs(images []int) []ImageROI {
	out := make([]ImageROI, 0, len(images))
	for _, i := range images {
		out = append(out, ImageROI{Index: i, Rect: e.bounds(e.coverage(i))})
	}
	return out
}

// ActiveImages lists the active images of the snapshot.
func (e *Engine) ActiveImages() []int {
	var out []int
	for i, img := range e.images {
		if img.Active {
			out = append(out, i)
		}
	}
	return out
}

// CalculateOptimalROI returns the smallest canvas rectangle whose border
// rows and columns each contain coverage. In stacks mode the members of a
// stack are merged into one contributor covering the union of theirs.
func (e *Engine) CalculateOptimalROI(stacks bool) image.Rectangle {
	union := make([]bool, e.cols*e.rows)
	var groups [][]int
	if stacks {
		groups = e.stackGroups()
	} else {
		for _, i := range e.ActiveImages() {
			groups = append(groups, []int{i})
		}
	}
	for _, g := range groups {
		for _, i := range g {
			c := e.coverage(i)
			for k := range union {
				union[k] = union[k] || c[k]
			}
		}
	}
	return e.bounds(union)
}

// stackGroups partitions the active images by their stack link.
func (e *Engine) stackGroups() [][]int {
	active := map[int]bool{}
	for _, i := range e.ActiveImages() {
		active[i] = true
	}
	var groups [][]int
	seen := map[int]bool{}
	for i := range e.images {
		if !active[i] || seen[i] {
			continue
		}
		var g []int
		for j := range e.images {
			if active[j] && !seen[j] && e.sameStack(i, j) {
				g = append(g, j)
				seen[j] = true
			}
		}
		groups = append(groups, g)
	}
	return groups
}

func (e *Engine) sameStack(i, j int) bool {
	return e.stackID[i] == e.stackID[j]
}

// Overlap returns the share of the smaller of the two coverages that both
// images cover, in [0,1].
func (e *Engine) Overlap(i, j int) float64 {
	a, b := e.coverage(i), e.coverage(j)
	var na, nb, both int
	for k := range a {
		if a[k] {
			na++
		}
		if b[k] {
			nb++
		}
		if a[k] && b[k] {
			both++
		}
	}
	smaller := min(na, nb)
	if smaller == 0 {
		return 0
	}
	return float64(both) / float64(smaller)
}

// Overlapping lists the active images other than img sharing coverage
// with it.
func (e *Engine) Overlapping(img int) []int {
	var out []int
	for _, j := range e.ActiveImages() {
		if j != img && e.Overlap(img, j) > 0 {
			out = append(out, j)
		}
	}
	return out
}

// Coverage returns the number of grid cells image i covers.
func (e *Engine) Coverage(i int) int {
	n := 0
	for _, v := range e.coverage(i) {
		if v {
			n++
		}
	}
	return n
}

// CoverageMask returns the sample grid of image i together with its width
// in cells. The slice must not be modified.
func (e *Engine) CoverageMask(i int) ([]bool, int) {
	return e.coverage(i), e.cols
}
