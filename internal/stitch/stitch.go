// Package stitch composes remapped images into output artifacts: blended
// panoramas, reduced HDR or difference images and per-image layers.
package stitch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/dustin/go-humanize"

	"panokit/internal/codec"
	"panokit/internal/logging"
	"panokit/internal/pano"
	"panokit/internal/photometric"
	"panokit/internal/progress"
	"panokit/internal/remap"
	"panokit/internal/roi"
)

var (
	// ErrUnimplementedFormat is returned for the TIFF mask output formats.
	ErrUnimplementedFormat = errors.New("output format not implemented")
	// ErrNoPageWriter is returned when multi-layer TIFF output has no writer.
	ErrNoPageWriter = errors.New("multi-layer TIFF output needs a page writer")
	// ErrNoImages is returned when no selected image reaches the canvas.
	ErrNoImages = errors.New("no image contributes to the output")
)

// Kind selects the strategy of a request.
type Kind int

const (
	KindBlend Kind = iota
	KindReduce
	KindLayers
)

func (k Kind) String() string {
	switch k {
	case KindReduce:
		return "reduce"
	case KindLayers:
		return "layers"
	default:
		return "blend"
	}
}

// Reduce selects the per-pixel reduction of KindReduce.
type Reduce int

const (
	ReduceHDR Reduce = iota
	ReduceDifference
)

// Request describes one output artifact set.
type Request struct {
	Kind   Kind
	Blend  pano.BlendMode
	Reduce Reduce
	// Images restricts the request; nil means every used image.
	Images []int
	// Base is the output path without extension.
	Base   string
	Format pano.FileFormat
	// LDR normalises a ReduceHDR result to display values.
	LDR bool
}

// PageWriter stores layers as pages of one file. img bounds give the
// placement inside canvas.
type PageWriter interface {
	AddPage(img image.Image, canvas image.Rectangle) error
	Close() error
}

// PageWriterFactory opens a PageWriter for path.
type PageWriterFactory func(path string, o pano.Options) (PageWriter, error)

// Config carries the collaborators of a Stitcher.
type Config struct {
	Decoder     codec.Decoder
	Encoder     codec.Encoder
	Pages       PageWriterFactory
	Workers     int
	Photometric photometric.Settings
	Progress    progress.Reporter
	Logger      *slog.Logger
	JobID       string
}

// Artifact is one written file.
type Artifact struct {
	Path   string
	Rect   image.Rectangle
	Canvas image.Rectangle
	Images []int
	Bytes  int64
}

// Stitcher renders one panorama. CalcOutputROIs must run once before
// Stitch.
type Stitcher struct {
	p      *pano.Panorama
	opts   pano.Options
	images []pano.SrcImage
	cfg    Config
	log    *slog.Logger

	engine *roi.Engine
	rois   map[int]image.Rectangle
	used   []int
}

// New prepares a stitcher on a copy of p with synthesized masks applied.
func New(p *pano.Panorama, cfg Config) *Stitcher {
	work := p.Clone()
	work.UpdateMasks(roi.Projector{})
	log := cfg.Logger
	if log == nil {
		log = p.Logger()
	}
	if cfg.Decoder == nil {
		cfg.Decoder = codec.Files{}
	}
	if cfg.Encoder == nil {
		cfg.Encoder = codec.Files{}
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Stitcher{p: work, opts: work.Options(), images: work.Images(), cfg: cfg, log: log}
}

// CalcOutputROIs computes the canvas region of every active image inside
// the output ROI. Images without one are left out of the used set.
func (s *Stitcher) CalcOutputROIs() {
	s.engine = roi.NewEngine(s.p, roi.WithLogger(s.log))
	s.rois = map[int]image.Rectangle{}
	s.used = nil
	out := s.opts.EffectiveROI()
	for _, r := range s.engine.ComputeROIs(s.engine.ActiveImages()) {
		rect := r.Rect.Intersect(out)
		if rect.Empty() {
			s.log.Info("image does not reach the output region", "image", r.Index)
			continue
		}
		s.rois[r.Index] = rect
		s.used = append(s.used, r.Index)
	}
}

// UsedImages lists the images with a non-empty output region.
func (s *Stitcher) UsedImages() []int { return append([]int(nil), s.used...) }

// ROI returns the output region of image i.
func (s *Stitcher) ROI(i int) image.Rectangle { return s.rois[i] }

// Stitch executes one request.
func (s *Stitcher) Stitch(ctx context.Context, req Request) ([]Artifact, error) {
	if s.rois == nil {
		s.CalcOutputROIs()
	}
	switch req.Format {
	case pano.FormatTIFFMask, pano.FormatTIFFMultilayerMask:
		return nil, fmt.Errorf("%w: %s", ErrUnimplementedFormat, req.Format)
	}
	if req.Kind == KindLayers && req.Format == pano.FormatTIFFMultilayer && s.cfg.Pages == nil {
		return nil, ErrNoPageWriter
	}
	images := s.selectImages(req.Images)
	if len(images) == 0 {
		return nil, ErrNoImages
	}
	logging.LogProcessingStep(s.log, s.cfg.JobID, "stitch "+req.Kind.String(), "started",
		map[string]any{"images": len(images), "base": req.Base, "format": req.Format.String()})

	rep := progress.FromContext(ctx, s.cfg.Progress)
	if req.Kind == KindLayers {
		return s.writeLayers(rep, req, images)
	}
	layers, err := s.remapAll(rep, images)
	if err != nil {
		return nil, err
	}
	if len(layers) == 0 {
		return nil, ErrNoImages
	}
	out := s.opts.EffectiveROI()
	var result *remap.Layer
	hdrOut := req.Format == pano.FormatHDR || req.Format == pano.FormatHDRm
	switch req.Kind {
	case KindReduce:
		if req.Reduce == ReduceDifference {
			result = reduceDifference(out, layers)
		} else {
			result = reduceHDR(out, layers, s.gains(), req.LDR && !hdrOut)
		}
	default:
		order := s.blendOrder(req.Blend, layers)
		result = blend(out, order, req.Blend == pano.BlendWeighted)
	}
	a, err := s.writeImage(req.Base, req.Format, result, !(req.Kind == KindReduce && req.LDR))
	if err != nil {
		return nil, err
	}
	a.Images = layerIndices(layers)
	return []Artifact{a}, nil
}

func (s *Stitcher) selectImages(want []int) []int {
	if want == nil {
		return s.UsedImages()
	}
	var out []int
	for _, i := range want {
		if _, ok := s.rois[i]; ok {
			out = append(out, i)
		}
	}
	sort.Ints(out)
	return out
}

// gains maps each image to the exposure factor its radiance carries.
func (s *Stitcher) gains() map[int]float64 {
	g := map[int]float64{}
	for i, img := range s.images {
		g[i] = gain(img, s.opts)
	}
	return g
}

// remapAll renders images on the worker pool. The result keeps image order;
// images that fail geometrically or come out empty are skipped.
func (s *Stitcher) remapAll(rep progress.Reporter, images []int) ([]*remap.Layer, error) {
	rm := remap.New(s.opts, remap.Config{Photometric: s.cfg.Photometric, Progress: rep, Logger: s.log})
	layers := make([]*remap.Layer, len(images))
	errs := make([]error, len(images))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < min(s.cfg.Workers, len(images)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := range jobs {
				layers[k], errs[k] = s.remapOne(rm, images[k])
			}
		}()
	}
	for k := range images {
		jobs <- k
	}
	close(jobs)
	wg.Wait()

	var out []*remap.Layer
	for k, err := range errs {
		if err != nil {
			return nil, err
		}
		if layers[k] != nil {
			out = append(out, layers[k])
		}
	}
	return out, nil
}

// remapOne returns a nil layer for images that are skipped.
func (s *Stitcher) remapOne(rm *remap.Remapper, i int) (*remap.Layer, error) {
	img := s.images[i]
	src, err := s.cfg.Decoder.Decode(img.Filename)
	if err != nil {
		return nil, fmt.Errorf("image %d: %w", i, err)
	}
	l, err := rm.Remap(i, img, src, s.rois[i])
	switch {
	case err == nil:
		return l, nil
	case errors.Is(err, progress.ErrCancelled):
		return nil, err
	case errors.Is(err, remap.ErrEmptyROI):
		s.log.Info("image dropped, nothing visible", "image", i)
		return nil, nil
	default:
		s.log.Warn("image skipped", "image", i, "file", img.Filename, "error", err)
		return nil, nil
	}
}

// encoder returns the transfer applied to LDR output.
func (s *Stitcher) encoder() func(float64) float64 {
	ref := s.opts.ColorReference
	if ref < 0 || ref >= len(s.images) {
		ref = 0
	}
	if len(s.images) == 0 {
		return func(v float64) float64 { return v }
	}
	return photometric.NewEncoder(s.images[ref], s.opts, s.cfg.Photometric.Basis).Encode
}

// writeImage encodes l as base.ext. LDR formats apply the colour reference
// response when respond is set.
func (s *Stitcher) writeImage(base string, f pano.FileFormat, l *remap.Layer, respond bool) (Artifact, error) {
	path := base + "." + f.Extension()
	var img image.Image
	switch f {
	case pano.FormatHDR, pano.FormatHDRm:
		img = l.AtOrigin()
	default:
		enc := func(v float64) float64 { return v }
		if respond {
			enc = s.encoder()
		}
		img = l.AtOrigin().Encode(enc)
	}
	if err := s.cfg.Encoder.Encode(path, img, codec.Options{Quality: s.opts.JPEGQuality, Compression: s.opts.Compression}); err != nil {
		return Artifact{}, err
	}
	a := Artifact{Path: path, Rect: l.Rect, Canvas: l.Canvas}
	if fi, err := os.Stat(path); err == nil {
		a.Bytes = fi.Size()
	}
	s.log.Info("wrote artifact", "path", path, "rect", l.Rect.String(), "size", humanize.Bytes(uint64(a.Bytes)))
	return a, nil
}

func layerIndices(layers []*remap.Layer) []int {
	out := make([]int, len(layers))
	for k, l := range layers {
		out[k] = l.Index
	}
	return out
}
