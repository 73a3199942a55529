package pipeline

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"panokit/internal/codec"
	"panokit/internal/config"
	"panokit/internal/matcher"
	"panokit/internal/matcher/cvdetect"
	"panokit/internal/pano"
	"panokit/internal/pto"
	"panokit/internal/roi"
	"panokit/internal/storage"
	"panokit/internal/tasks"
)

// router implements Processor and routes jobs to their concrete handlers.
type router struct {
	log      *slog.Logger
	store    *storage.Store
	cfg      *config.Config
	stitchFn stitchFunc
	// decoder overrides the source decoder of the point search.
	decoder codec.Decoder
}

type stitchFunc func(ctx context.Context, req tasks.StitchRequest) (tasks.StitchResult, error)

func newRouter(logger *slog.Logger, store *storage.Store, cfg *config.Config) *router {
	return &router{
		log:      logger,
		store:    store,
		cfg:      cfg,
		stitchFn: tasks.StitchProject,
	}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	switch job.Type {
	case JobStitch:
		return r.handleStitch(ctx, job)
	case JobFindPoints:
		return r.handleFindPoints(ctx, job)
	case JobOptimalROI:
		return r.handleOptimalROI(ctx, job)
	case JobInfo:
		return r.handleInfo(ctx, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

func (r *router) handleStitch(ctx context.Context, job Job) Result {
	req := tasks.StitchRequest{
		Project:        job.InputPath,
		Prefix:         job.Output,
		JobID:          job.ID,
		Workers:        r.cfg.Processing.RemapWorkers,
		DecoderCache:   r.cfg.Processing.DecoderCache,
		UseImageMagick: r.cfg.Processing.UseImageMagick || getBoolOption(job.Options, "imagemagick"),
		EVTolerance:    r.cfg.Stacks.EVTolerance,
		Logger:         r.log,
	}
	overrides, err := outputOverrides(job.Options)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	req.Overrides = overrides
	res, err := r.stitchFn(ctx, req)
	artifacts := make([]map[string]any, len(res.Artifacts))
	for i, a := range res.Artifacts {
		artifacts[i] = map[string]any{
			"path":   a.Path,
			"rect":   a.Rect.String(),
			"canvas": a.Canvas.String(),
			"images": a.Images,
			"size":   a.Bytes,
		}
	}
	meta := map[string]any{
		"artifacts":  artifacts,
		"usedImages": res.Used,
		"roi":        res.ROI,
		"duration":   res.Duration.String(),
	}
	return Result{Job: job, Error: err, Meta: meta}
}

// outputOverrides turns the blend, format, interpolator, compression and
// jpegQuality job options into a project options edit. It returns nil when
// none is set.
func outputOverrides(opts map[string]any) (func(*pano.Options), error) {
	var edits []func(*pano.Options)
	if s := getStringOption(opts, "blend"); s != "" {
		mode, ok := pano.ParseBlendMode(s)
		if !ok {
			return nil, fmt.Errorf("unknown blend mode %q", s)
		}
		edits = append(edits, func(o *pano.Options) { o.Blend = mode })
	}
	if s := getStringOption(opts, "format"); s != "" {
		f, ok := pano.ParseFileFormat(s)
		if !ok {
			return nil, fmt.Errorf("unknown file format %q", s)
		}
		edits = append(edits, func(o *pano.Options) { o.FileFormat = f })
	}
	if s := getStringOption(opts, "interpolator"); s != "" {
		in, ok := pano.ParseInterpolator(s)
		if !ok {
			return nil, fmt.Errorf("unknown interpolator %q", s)
		}
		edits = append(edits, func(o *pano.Options) { o.Interpolator = in })
	}
	if s := getStringOption(opts, "compression"); s != "" {
		edits = append(edits, func(o *pano.Options) { o.Compression = s })
	}
	if q := getIntOption(opts, "jpegQuality"); q > 0 {
		if q > 100 {
			return nil, fmt.Errorf("jpeg quality %d out of range", q)
		}
		edits = append(edits, func(o *pano.Options) { o.JPEGQuality = q })
	}
	if len(edits) == 0 {
		return nil, nil
	}
	return func(o *pano.Options) {
		for _, e := range edits {
			e(o)
		}
	}, nil
}

func (r *router) matcherConfig() matcher.Config {
	m := r.cfg.Matcher
	mc := matcher.Config{
		MaxWidth:       m.MaxWidth,
		MinCell:        m.MinCell,
		MaxCells:       m.MaxCells,
		Threshold:      m.Threshold,
		MatchesPerPair: m.MatchesPerPair,
		TemplateRadius: m.TemplateRadius,
		SearchRadius:   m.SearchRadius,
		ResidualLimit:  m.ResidualLimit,
		Workers:        r.cfg.Processing.RemapWorkers,
		Decoder:        r.decoder,
		Logger:         r.log,
	}
	if m.Detector == "opencv" {
		mc.Detector = cvdetect.Detector{}
	}
	if mc.Decoder == nil {
		mc.Decoder, _ = tasks.Codecs(r.cfg.Processing.UseImageMagick, r.cfg.Processing.DecoderCache)
	}
	return mc
}

func (r *router) handleFindPoints(ctx context.Context, job Job) Result {
	p, err := tasks.LoadProject(job.InputPath, r.log)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	rect, ok := getRectOption(job.Options, "rect")
	if !ok {
		rect = p.Options().EffectiveROI()
	}
	cps, err := matcher.New(r.matcherConfig()).Find(ctx, p, rect)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	points := make([]map[string]any, len(cps))
	for i, cp := range cps {
		points[i] = map[string]any{
			"image1": cp.Image1, "x1": cp.X1, "y1": cp.Y1,
			"image2": cp.Image2, "x2": cp.X2, "y2": cp.Y2,
			"error": cp.Error,
		}
	}
	meta := map[string]any{"points": points, "rect": rect.String()}
	if job.Output != "" {
		if err := p.SetCtrlPoints(append(p.CtrlPoints(), cps...)); err != nil {
			return Result{Job: job, Error: err, Meta: meta}
		}
		meta["duplicates"] = p.RemoveDuplicateCtrlPoints()
		if err := pto.WriteFile(job.Output, p); err != nil {
			return Result{Job: job, Error: err, Meta: meta}
		}
		meta["output"] = job.Output
	}
	return Result{Job: job, Meta: meta}
}

func (r *router) handleOptimalROI(ctx context.Context, job Job) Result {
	p, err := tasks.LoadProject(job.InputPath, r.log)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	stacks := getBoolOption(job.Options, "stacks")
	rect := roi.NewEngine(p, roi.WithLogger(r.log)).CalculateOptimalROI(stacks)
	meta := map[string]any{"roi": rect.String(), "stacks": stacks, "empty": rect.Empty()}
	if job.Output != "" && !rect.Empty() {
		o := p.Options()
		o.ROI = rect
		p.SetOptions(o)
		if err := pto.WriteFile(job.Output, p); err != nil {
			return Result{Job: job, Error: err, Meta: meta}
		}
		meta["output"] = job.Output
	}
	return Result{Job: job, Meta: meta}
}

func (r *router) handleInfo(ctx context.Context, job Job) Result {
	p, err := tasks.LoadProject(job.InputPath, r.log)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	return Result{Job: job, Meta: ProjectInfo(p, r.cfg.Stacks.EVTolerance)}
}

// ProjectInfo summarises a project for the info job and the API.
func ProjectInfo(p *pano.Panorama, tol float64) map[string]any {
	o := p.Options()
	engine := roi.NewEngine(p)
	images := make([]map[string]any, 0, p.NumImages())
	rois := map[int]string{}
	for _, r := range engine.ComputeROIs(engine.ActiveImages()) {
		rois[r.Index] = r.Rect.String()
	}
	for i, img := range p.Images() {
		images = append(images, map[string]any{
			"index":      i,
			"file":       img.Filename,
			"size":       fmt.Sprintf("%dx%d", img.Width, img.Height),
			"projection": img.Projection.String(),
			"active":     img.Active,
			"hfov":       img.Var(pano.VarHFOV),
			"ev":         img.Var(pano.VarExposure),
			"lens":       img.LensModel,
			"roi":        rois[i],
		})
	}
	return map[string]any{
		"canvas":         fmt.Sprintf("%dx%d", o.Width, o.Height),
		"projection":     o.Projection.String(),
		"roi":            o.EffectiveROI().String(),
		"format":         o.FileFormat.String(),
		"blend":          o.Blend.String(),
		"images":         images,
		"controlPoints":  len(p.CtrlPoints()),
		"exposureLayers": roi.ExposureLayers(p, tol),
		"stacks":         roi.HDRStacks(p, tol),
		"possibleStacks": roi.HasPossibleStacks(p, tol),
	}
}

// Helper functions to safely extract typed options from job.Options map
func getBoolOption(options map[string]any, key string) bool {
	if val, ok := options[key].(bool); ok {
		return val
	}
	return false
}

func getStringOption(options map[string]any, key string) string {
	if val, ok := options[key].(string); ok {
		return val
	}
	return ""
}

// getIntOption accepts ints and decoded JSON numbers.
func getIntOption(options map[string]any, key string) int {
	switch v := options[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// getRectOption reads a rectangle given as [minX, minY, maxX, maxY], either
// as ints (CLI) or as decoded JSON numbers.
func getRectOption(options map[string]any, key string) (image.Rectangle, bool) {
	var v []int
	switch raw := options[key].(type) {
	case []int:
		v = raw
	case []any:
		for _, x := range raw {
			f, ok := x.(float64)
			if !ok {
				return image.Rectangle{}, false
			}
			v = append(v, int(f))
		}
	case image.Rectangle:
		return raw, !raw.Empty()
	}
	if len(v) != 4 {
		return image.Rectangle{}, false
	}
	r := image.Rect(v[0], v[1], v[2], v[3])
	return r, !r.Empty()
}
