// Package remap renders one source image onto the output canvas: inverse
// response and vignetting, geometric transform, resampling and alpha.
package remap

import (
	"errors"
	"fmt"
	"image"
	"log/slog"

	"golang.org/x/image/draw"

	"panokit/internal/geom"
	"panokit/internal/pano"
	"panokit/internal/photometric"
	"panokit/internal/progress"
	"panokit/internal/roi"
)

var (
	// ErrEmptyROI means the image contributes no pixel to the output region.
	ErrEmptyROI = errors.New("image does not reach the output region")
	// ErrSizeMismatch means the decoded pixels disagree with the project.
	ErrSizeMismatch = errors.New("decoded image size differs from project")
)

// progressRows is how many output rows are rendered between progress calls.
const progressRows = 32

// Config tunes a Remapper.
type Config struct {
	Photometric photometric.Settings
	Progress    progress.Reporter
	Logger      *slog.Logger
}

// Remapper renders images for one set of output options.
type Remapper struct {
	opts   pano.Options
	cfg    Config
	kernel *draw.Kernel
	log    *slog.Logger
}

// New returns a remapper for the canvas described by opts, resampling with
// the interpolator opts selects.
func New(opts pano.Options, cfg Config) *Remapper {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Remapper{opts: opts, cfg: cfg, kernel: KernelFor(opts.Interpolator), log: log}
}

// Options returns the output settings the remapper renders for.
func (r *Remapper) Options() pano.Options { return r.opts }

// Remap renders image index of the project, whose pixels are src, into the
// canvas rectangle rect. rect is clipped to the output ROI; an image that
// leaves no covered pixel returns ErrEmptyROI.
func (r *Remapper) Remap(index int, img pano.SrcImage, src image.Image, rect image.Rectangle) (*Layer, error) {
	if b := src.Bounds(); b.Dx() != img.Width || b.Dy() != img.Height {
		return nil, fmt.Errorf("%w: %s is %dx%d, project says %dx%d",
			ErrSizeMismatch, img.Filename, b.Dx(), b.Dy(), img.Width, img.Height)
	}
	rect = rect.Intersect(r.opts.EffectiveROI())
	if rect.Empty() {
		return nil, ErrEmptyROI
	}
	var ts [3]*geom.Transform
	tca := img.HasTCA()
	if tca {
		for c, ch := range []geom.Channel{geom.Red, geom.Green, geom.Blue} {
			t, err := geom.NewForChannel(img, r.opts, ch)
			if err != nil {
				return nil, err
			}
			ts[c] = t
		}
	} else {
		t, err := geom.New(img, r.opts)
		if err != nil {
			return nil, err
		}
		ts = [3]*geom.Transform{t, t, t}
	}

	s := newSource(src)
	masks := rasterMasks(img)
	corr := photometric.NewCorrector(img, r.opts, r.cfg.Photometric)
	valid := func(x, y float64) bool {
		return roi.Inside(img, x, y) && s.opaque(x, y) && !masks.hidden(x, y)
	}

	layer := NewLayer(index, rect, r.opts.Canvas())
	rows := rect.Dy()
	for py := rect.Min.Y; py < rect.Max.Y; py++ {
		if done := py - rect.Min.Y; done%progressRows == 0 {
			if err := progress.Check(r.cfg.Progress, "remap "+img.Filename, done, rows); err != nil {
				return nil, err
			}
		}
		for px := rect.Min.X; px < rect.Max.X; px++ {
			var pos [3][2]float64
			ok := true
			for c := 0; c < 3 && ok; c++ {
				if c > 0 && !tca {
					pos[c] = pos[0]
					continue
				}
				x, y, in := ts[c].ToImage(float64(px), float64(py))
				ok = in && valid(x, y)
				pos[c] = [2]float64{x, y}
			}
			if !ok {
				continue
			}
			var v [3]float64
			for c := range v {
				v[c] = s.sample(r.kernel, c, pos[c][0], pos[c][1])
			}
			layer.SetRGB(px, py, corr.Correct(pos[1][0], pos[1][1], v))
			layer.SetAlpha(px, py, 0xff)
		}
	}
	if layer.Covered() == 0 {
		return nil, ErrEmptyROI
	}
	return layer, nil
}
