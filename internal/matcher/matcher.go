// Package matcher finds control points inside a canvas region by detecting
// corners in the remapped images and correlating them across image pairs.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sort"
	"sync"

	"panokit/internal/codec"
	"panokit/internal/geom"
	"panokit/internal/pano"
	"panokit/internal/photometric"
	"panokit/internal/remap"
	"panokit/internal/roi"
)

// ErrTooFewImages is returned when fewer than two images cover the region.
var ErrTooFewImages = errors.New("need at least two images in the region")

// Config holds the search parameters.
type Config struct {
	MaxWidth       int
	MinCell        int
	MaxCells       int
	Threshold      float64
	MatchesPerPair int
	PointsPerCell  int
	TemplateRadius int
	SearchRadius   int
	ResidualLimit  float64
	Workers        int

	Detector Detector
	Decoder  codec.Decoder
	Logger   *slog.Logger
}

// DefaultConfig returns the stock search parameters.
func DefaultConfig() Config {
	return Config{
		MaxWidth:       1600,
		MinCell:        20,
		MaxCells:       25,
		Threshold:      0.9,
		MatchesPerPair: 2,
		PointsPerCell:  8,
		TemplateRadius: 7,
		SearchRadius:   10,
		ResidualLimit:  5,
		Workers:        4,
		Detector:       Harris{},
		Decoder:        codec.Files{},
	}
}

// Matcher runs interest point searches.
type Matcher struct {
	cfg Config
	log *slog.Logger
}

// New fills unset fields of cfg from DefaultConfig.
func New(cfg Config) *Matcher {
	def := DefaultConfig()
	if cfg.MaxWidth <= 0 {
		cfg.MaxWidth = def.MaxWidth
	}
	if cfg.MinCell <= 0 {
		cfg.MinCell = def.MinCell
	}
	if cfg.MaxCells <= 0 {
		cfg.MaxCells = def.MaxCells
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.MatchesPerPair <= 0 {
		cfg.MatchesPerPair = def.MatchesPerPair
	}
	if cfg.PointsPerCell <= 0 {
		cfg.PointsPerCell = def.PointsPerCell
	}
	if cfg.TemplateRadius <= 0 {
		cfg.TemplateRadius = def.TemplateRadius
	}
	if cfg.SearchRadius <= 0 {
		cfg.SearchRadius = def.SearchRadius
	}
	if cfg.ResidualLimit <= 0 {
		cfg.ResidualLimit = def.ResidualLimit
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Detector == nil {
		cfg.Detector = def.Detector
	}
	if cfg.Decoder == nil {
		cfg.Decoder = def.Decoder
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Matcher{cfg: cfg, log: log}
}

// candidate is a control point in reduced canvas coordinates.
type candidate struct {
	a, b           int
	ax, ay, bx, by float64
	score          float64
}

// Find searches rect of the output canvas of p and returns the control
// points that survive validation, with their residual in Error.
func (m *Matcher) Find(ctx context.Context, p *pano.Panorama, rect image.Rectangle) ([]pano.ControlPoint, error) {
	opts := p.Options()
	rect = rect.Intersect(opts.Canvas())
	engine := roi.NewEngine(p, roi.WithLogger(m.log))
	var images []int
	for _, r := range engine.ComputeROIs(engine.ActiveImages()) {
		if !r.Rect.Intersect(rect).Empty() {
			images = append(images, r.Index)
		}
	}
	if len(images) < 2 {
		m.log.Warn("not enough images in region", "rect", rect.String(), "images", len(images))
		return nil, fmt.Errorf("%w: found %d", ErrTooFewImages, len(images))
	}

	scale := 1.0
	if opts.Width > m.cfg.MaxWidth {
		scale = float64(m.cfg.MaxWidth) / float64(opts.Width)
	}
	small := opts.Clone()
	small.Width = max(1, int(math.Round(float64(opts.Width)*scale)))
	small.Height = max(1, int(math.Round(float64(opts.Height)*scale)))
	small.ROI = small.Canvas()
	srect := scaleRect(rect, scale).Intersect(small.Canvas())

	planes, err := m.remapCandidates(ctx, p, images, small, srect)
	if err != nil {
		return nil, err
	}
	if len(planes) < 2 {
		return nil, fmt.Errorf("%w: %d visible", ErrTooFewImages, len(planes))
	}

	cands, err := m.searchCells(ctx, planes, srect)
	if err != nil {
		return nil, err
	}
	return m.validate(p, opts, scale, cands)
}

func scaleRect(r image.Rectangle, s float64) image.Rectangle {
	return image.Rect(
		int(math.Floor(float64(r.Min.X)*s)), int(math.Floor(float64(r.Min.Y)*s)),
		int(math.Ceil(float64(r.Max.X)*s)), int(math.Ceil(float64(r.Max.Y)*s)),
	)
}

func (m *Matcher) remapCandidates(ctx context.Context, p *pano.Panorama, images []int, small pano.Options, rect image.Rectangle) ([]*plane, error) {
	rm := remap.New(small, remap.Config{
		Photometric: photometric.Settings{DisableExposure: true},
		Logger:      m.log,
	})
	var planes []*plane
	for _, i := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := p.Image(i)
		if err != nil {
			return nil, err
		}
		src, err := m.cfg.Decoder.Decode(img.Filename)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		l, err := rm.Remap(i, img, src, rect)
		if err != nil {
			m.log.Warn("image left out of point search", "image", i, "error", err)
			continue
		}
		planes = append(planes, newPlane(l))
	}
	return planes, nil
}

// searchCells runs the detector and correlation per grid cell on the
// worker pool. Cells share nothing but the result list.
func (m *Matcher) searchCells(ctx context.Context, planes []*plane, rect image.Rectangle) ([]candidate, error) {
	perAxis := max(1, int(math.Sqrt(float64(m.cfg.MaxCells))))
	nx := max(1, min(perAxis, rect.Dx()/m.cfg.MinCell))
	ny := max(1, min(perAxis, rect.Dy()/m.cfg.MinCell))
	var cells []image.Rectangle
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			cells = append(cells, image.Rect(
				rect.Min.X+i*rect.Dx()/nx, rect.Min.Y+j*rect.Dy()/ny,
				rect.Min.X+(i+1)*rect.Dx()/nx, rect.Min.Y+(j+1)*rect.Dy()/ny,
			))
		}
	}

	var (
		mu      sync.Mutex
		results []candidate
		wg      sync.WaitGroup
	)
	jobs := make(chan image.Rectangle)
	for w := 0; w < min(m.cfg.Workers, len(cells)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cell := range jobs {
				found := m.searchCell(planes, cell)
				mu.Lock()
				results = append(results, found...)
				mu.Unlock()
			}
		}()
	}
	var err error
	for _, c := range cells {
		if err = ctx.Err(); err != nil {
			break
		}
		jobs <- c
	}
	close(jobs)
	wg.Wait()
	if err != nil {
		return nil, err
	}
	return bestPerPair(results, m.cfg.MatchesPerPair), nil
}

// bestPerPair keeps the limit highest-scoring candidates of every image
// pair over the whole rectangle. Ties fall back to coordinates so the kept
// set does not depend on cell scheduling.
func bestPerPair(cands []candidate, limit int) []candidate {
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		switch {
		case a.a != b.a:
			return a.a < b.a
		case a.b != b.b:
			return a.b < b.b
		case a.score != b.score:
			return a.score > b.score
		case a.ay != b.ay:
			return a.ay < b.ay
		case a.ax != b.ax:
			return a.ax < b.ax
		case a.by != b.by:
			return a.by < b.by
		default:
			return a.bx < b.bx
		}
	})
	var out []candidate
	pair, n := [2]int{-1, -1}, 0
	for _, c := range cands {
		if k := [2]int{c.a, c.b}; k != pair {
			pair, n = k, 0
		}
		if n < limit {
			out = append(out, c)
		}
		n++
	}
	return out
}

func (m *Matcher) searchCell(planes []*plane, cell image.Rectangle) []candidate {
	var out []candidate
	for ai, a := range planes {
		pts := m.cfg.Detector.Detect(a.gray, cell, m.cfg.PointsPerCell)
		for _, b := range planes[ai+1:] {
			var pair []candidate
			for _, pt := range pts {
				res, ok := correlate(a, b, pt.X, pt.Y, m.cfg.TemplateRadius, m.cfg.SearchRadius)
				if !ok || res.score < m.cfg.Threshold {
					continue
				}
				pair = append(pair, candidate{
					a: a.index, b: b.index,
					ax: float64(pt.X), ay: float64(pt.Y), bx: res.x, by: res.y,
					score: res.score,
				})
			}
			out = append(out, pair...)
		}
	}
	return out
}

// validate maps candidates to source pixels, builds a sub-panorama with
// only the involved images and keeps points whose canvas residual is within
// the limit.
func (m *Matcher) validate(p *pano.Panorama, opts pano.Options, scale float64, cands []candidate) ([]pano.ControlPoint, error) {
	toFull := func(v float64) float64 { return (v+0.5)/scale - 0.5 }
	transforms := map[int]*geom.Transform{}
	transform := func(pp *pano.Panorama, i int) (*geom.Transform, error) {
		if t, ok := transforms[i]; ok {
			return t, nil
		}
		img, err := pp.Image(i)
		if err != nil {
			return nil, err
		}
		t, err := geom.New(img, opts)
		if err != nil {
			return nil, err
		}
		transforms[i] = t
		return t, nil
	}

	var cps []pano.ControlPoint
	for _, c := range cands {
		ta, err := transform(p, c.a)
		if err != nil {
			return nil, err
		}
		tb, err := transform(p, c.b)
		if err != nil {
			return nil, err
		}
		x1, y1, ok1 := ta.ToImage(toFull(c.ax), toFull(c.ay))
		x2, y2, ok2 := tb.ToImage(toFull(c.bx), toFull(c.by))
		if !ok1 || !ok2 {
			continue
		}
		cps = append(cps, pano.ControlPoint{Image1: c.a, X1: x1, Y1: y1, Image2: c.b, X2: x2, Y2: y2, Mode: pano.CPXY})
	}
	if len(cps) == 0 {
		return nil, nil
	}

	involved := map[int]bool{}
	for _, cp := range cps {
		involved[cp.Image1], involved[cp.Image2] = true, true
	}
	var order []int
	for i := range involved {
		order = append(order, i)
	}
	sort.Ints(order)
	local := map[int]int{}
	for k, i := range order {
		local[i] = k
	}
	sub, err := p.SubPanorama(order)
	if err != nil {
		return nil, err
	}
	localCPs := make([]pano.ControlPoint, len(cps))
	for k, cp := range cps {
		cp.Image1, cp.Image2 = local[cp.Image1], local[cp.Image2]
		localCPs[k] = cp
	}
	if err := sub.SetCtrlPoints(localCPs); err != nil {
		return nil, err
	}

	transforms = map[int]*geom.Transform{}
	var kept []pano.ControlPoint
	for k, lc := range sub.CtrlPoints() {
		ta, err := transform(sub, lc.Image1)
		if err != nil {
			return nil, err
		}
		tb, err := transform(sub, lc.Image2)
		if err != nil {
			return nil, err
		}
		ax, ay, ok1 := ta.ToPano(lc.X1, lc.Y1)
		bx, by, ok2 := tb.ToPano(lc.X2, lc.Y2)
		if !ok1 || !ok2 {
			continue
		}
		res := math.Hypot(ax-bx, ay-by)
		if res > m.cfg.ResidualLimit {
			m.log.Debug("control point rejected", "images", fmt.Sprintf("%d-%d", cps[k].Image1, cps[k].Image2), "residual", res)
			continue
		}
		cp := cps[k]
		cp.Error = res
		kept = append(kept, cp)
	}
	sort.Slice(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.Image1 != b.Image1 {
			return a.Image1 < b.Image1
		}
		if a.Image2 != b.Image2 {
			return a.Image2 < b.Image2
		}
		if a.X1 != b.X1 {
			return a.X1 < b.X1
		}
		return a.Y1 < b.Y1
	})
	m.log.Info("point search finished", "candidates", len(cands), "kept", len(kept))
	return kept, nil
}
