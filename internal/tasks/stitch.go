package tasks

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"panokit/internal/codec"
	"panokit/internal/codec/magick"
	"panokit/internal/fsutil"
	"panokit/internal/logging"
	"panokit/internal/pano"
	"panokit/internal/photometric"
	"panokit/internal/progress"
	"panokit/internal/pto"
	"panokit/internal/remap"
	"panokit/internal/roi"
	"panokit/internal/stitch"
)

// StitchRequest describes one project render.
type StitchRequest struct {
	Project string
	// Prefix is the output path without extension; empty means next to
	// the project.
	Prefix string
	// Overrides are applied to the loaded options before rendering.
	Overrides func(*pano.Options)
	JobID     string

	Workers        int
	DecoderCache   int
	UseImageMagick bool
	EVTolerance    float64
	Progress       progress.Reporter
	Logger         *slog.Logger
}

// StitchResult reports what was written.
type StitchResult struct {
	Artifacts []stitch.Artifact
	Used      []int
	ROI       string
	Duration  time.Duration
}

// Codecs picks the decoder and page writer for a render. Camera raw files
// always go through ImageMagick.
func Codecs(useMagick bool, cache int) (codec.Decoder, stitch.PageWriterFactory) {
	var dec codec.Decoder = rawAware{codec.Files{}}
	if useMagick {
		dec = magick.Decoder{}
	}
	if cache > 0 {
		dec = codec.NewCache(dec, cache)
	}
	return dec, MagickPages
}

type rawAware struct {
	codec.Decoder
}

func (d rawAware) Decode(path string) (image.Image, error) {
	if fsutil.IsRAWFile(path) {
		return magick.Decoder{}.Decode(path)
	}
	return d.Decoder.Decode(path)
}

// MagickPages writes multi-page TIFF layers through ImageMagick.
func MagickPages(path string, o pano.Options) (stitch.PageWriter, error) {
	return magick.NewTIFFWriter(path, o.LayersCompression, o.ICCProfile)
}

// LoadProject reads a PTO file and resolves relative image paths against
// its directory. Masks of the returned project follow later geometry edits.
func LoadProject(path string, log *slog.Logger) (*pano.Panorama, error) {
	p, err := pto.ReadFile(path, pto.ReadOptions{Logger: log})
	if err != nil {
		return nil, err
	}
	for i := 0; i < p.NumImages(); i++ {
		img, _ := p.Image(i)
		resolved := fsutil.ResolveRelative(path, img.Filename)
		ff := fsutil.ResolveRelative(path, img.FlatfieldFile)
		if resolved == img.Filename && ff == img.FlatfieldFile {
			continue
		}
		img.Filename, img.FlatfieldFile = resolved, ff
		if err := p.SetImage(i, img); err != nil {
			return nil, err
		}
	}
	p.UpdateOptimizeVector()
	p.AttachProjector(roi.Projector{})
	p.ClearDirty()
	if log != nil {
		p.SetLogger(log)
	}
	return p, nil
}

// StitchProject renders every output the project enables.
func StitchProject(ctx context.Context, req StitchRequest) (StitchResult, error) {
	start := time.Now()
	log := req.Logger
	if log == nil {
		log = slog.Default()
	}
	p, err := LoadProject(req.Project, log)
	if err != nil {
		return StitchResult{}, err
	}
	if req.Overrides != nil {
		o := p.Options()
		req.Overrides(&o)
		p.SetOptions(o)
	}
	dec, pages := Codecs(req.UseImageMagick, req.DecoderCache)
	settings, err := flatfield(p, dec)
	if err != nil {
		return StitchResult{}, err
	}

	s := stitch.New(p, stitch.Config{
		Decoder:     dec,
		Pages:       pages,
		Workers:     req.Workers,
		Photometric: settings,
		Progress:    req.Progress,
		Logger:      log,
		JobID:       req.JobID,
	})
	s.CalcOutputROIs()
	res := StitchResult{Used: s.UsedImages(), ROI: p.Options().EffectiveROI().String()}
	logging.LogProcessingStep(log, req.JobID, "output regions", "completed",
		map[string]any{"used": len(res.Used), "roi": res.ROI})

	tol := req.EVTolerance
	if tol <= 0 {
		tol = 0.3
	}
	reqs := stitch.RequestsFromOptions(p, fsutil.OutputBase(req.Project, req.Prefix), tol)
	if len(reqs) == 0 {
		return res, fmt.Errorf("project %s enables no outputs", req.Project)
	}
	for _, r := range reqs {
		arts, err := s.Stitch(ctx, r)
		if err != nil {
			return res, fmt.Errorf("%s %s: %w", r.Kind, r.Base, err)
		}
		res.Artifacts = append(res.Artifacts, arts...)
	}
	res.Duration = time.Since(start)
	return res, nil
}

// flatfield loads every flatfield reference the project names, each file
// once.
func flatfield(p *pano.Panorama, dec codec.Decoder) (photometric.Settings, error) {
	var s photometric.Settings
	for _, img := range p.Images() {
		if img.VigMode&pano.VigFlatfield == 0 || img.FlatfieldFile == "" {
			continue
		}
		if _, ok := s.Flatfields[img.FlatfieldFile]; ok {
			continue
		}
		ref, err := dec.Decode(img.FlatfieldFile)
		if err != nil {
			return s, fmt.Errorf("flatfield: %w", err)
		}
		if s.Flatfields == nil {
			s.Flatfields = map[string]photometric.Flatfield{}
		}
		s.Flatfields[img.FlatfieldFile] = remap.NewFlatfield(ref)
	}
	return s, nil
}
