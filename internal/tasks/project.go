package tasks

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"

	"panokit/internal/config"
	"panokit/internal/pano"
	"panokit/internal/roi"
	"panokit/internal/storage"
)

// lensVars are shared by every image taken with one lens at one focal
// length.
var lensVars = []pano.VarKind{
	pano.VarHFOV, pano.VarDistA, pano.VarDistB, pano.VarDistC,
	pano.VarShiftD, pano.VarShiftE, pano.VarShearG, pano.VarShearT,
	pano.VarVigA, pano.VarVigB, pano.VarVigC, pano.VarVigD, pano.VarVigX, pano.VarVigY,
	pano.VarEMoRA, pano.VarEMoRB, pano.VarEMoRC, pano.VarEMoRD, pano.VarEMoRE,
}

// NewProjectRequest configures project creation.
type NewProjectRequest struct {
	Images []string
	// Info overrides metadata reading; nil uses ReadImageInfo.
	Info func(path string) (ImageInfo, error)
	// Lenses, when set, supplies calibrations by lens name.
	Lenses      pano.LensDatabase
	Base        pano.Options
	EVTolerance float64
	// DefaultHFOV is used when the focal length is unknown.
	DefaultHFOV float64
	Logger      *slog.Logger
}

// NewProjectFromImages builds a project with one image per file. Images
// sharing lens and focal length get their lens variables linked; a
// bracketed series is linked into stacks.
func NewProjectFromImages(req NewProjectRequest) (*pano.Panorama, error) {
	if len(req.Images) == 0 {
		return nil, errors.New("no images given")
	}
	log := req.Logger
	if log == nil {
		log = slog.Default()
	}
	read := req.Info
	if read == nil {
		read = ReadImageInfo
	}
	hfov := req.DefaultHFOV
	if hfov <= 0 {
		hfov = 50
	}
	p := pano.New()
	p.SetLogger(log)

	type lensKey struct {
		lens  string
		focal float64
		size  image.Point
	}
	first := map[lensKey]int{}
	for _, path := range req.Images {
		info, err := read(path)
		if err != nil {
			return nil, err
		}
		img := pano.NewSrcImage(path, info.Width, info.Height)
		img.LensModel = info.Lens
		img.FocalLength = info.FocalLength
		img.CropFactor = info.CropFactor
		img.SetVar(pano.VarExposure, info.ExposureValue())
		img.SetVar(pano.VarHFOV, hfov)
		if info.FocalLength > 0 {
			img.SetVar(pano.VarHFOV, FocalToHFOV(info.FocalLength, info.CropFactor, info.Width, info.Height))
		}
		if req.Lenses != nil && info.Lens != "" {
			cal, err := req.Lenses.Lookup(info.Lens, info.FocalLength)
			switch {
			case err == nil:
				cal.Apply(&img)
				img.Projection = cal.Projection
			case errors.Is(err, storage.ErrLensNotFound):
				log.Debug("no calibration for lens", "lens", info.Lens)
			default:
				return nil, fmt.Errorf("lens lookup: %w", err)
			}
		}
		i := p.AddImage(img)

		key := lensKey{info.Lens, info.FocalLength, image.Pt(info.Width, info.Height)}
		if f, ok := first[key]; ok {
			for _, k := range lensVars {
				if err := p.LinkVariable(k, f, i); err != nil {
					return nil, err
				}
			}
		} else {
			first[key] = i
		}
	}

	o := req.Base
	if o.Width == 0 {
		o = pano.DefaultOptions()
	}
	o.Width, o.Height = canvasSize(p, o)
	o.ROI = o.Canvas()
	p.SetOptions(o)

	tol := req.EVTolerance
	if tol <= 0 {
		tol = roi.DefaultEVTolerance
	}
	if roi.HasPossibleStacks(p, tol) {
		linkStacks(p, tol)
	}
	p.ClearDirty()
	log.Info("project created", "images", p.NumImages(), "lenses", len(first), "width", o.Width, "height", o.Height)
	return p, nil
}

// linkStacks links every run of k consecutive images, k being the number
// of exposure levels.
func linkStacks(p *pano.Panorama, tol float64) {
	k := len(roi.ExposureLayers(p, tol))
	for start := 0; start+k <= p.NumImages(); start += k {
		for i := start + 1; i < start+k; i++ {
			_ = p.LinkVariable(pano.VarStack, start, i)
		}
	}
}

// FocalToHFOV converts a focal length in mm to the horizontal field of view
// of a rectilinear image with the given crop factor.
func FocalToHFOV(focal, crop float64, width, height int) float64 {
	if crop <= 0 {
		crop = 1
	}
	sensor := 36.0 / crop
	if height > width {
		// portrait: the long sensor side is vertical
		sensor = 24.0 / crop
	}
	return 2 * math.Atan(sensor/(2*focal)) * 180 / math.Pi
}

// canvasSize picks an equirectangular canvas that keeps the resolution of
// the sharpest image.
func canvasSize(p *pano.Panorama, o pano.Options) (int, int) {
	best := 0.0
	for _, img := range p.Images() {
		if hfov := img.Var(pano.VarHFOV); hfov > 0 {
			best = math.Max(best, float64(img.Width)/hfov)
		}
	}
	if best == 0 {
		return o.Width, o.Height
	}
	w := int(math.Round(best * o.HFOV))
	if o.Projection == pano.PanoEquirectangular {
		return w, int(math.Round(best * 180))
	}
	return w, int(math.Round(float64(w) * float64(o.Height) / float64(o.Width)))
}

// BaseOptions returns the default output options of a new project with the
// configured stitch settings applied. Empty settings keep the built-in
// default.
func BaseOptions(st config.Stitch) (pano.Options, error) {
	o := pano.DefaultOptions()
	if st.Interpolator != "" {
		in, ok := pano.ParseInterpolator(st.Interpolator)
		if !ok {
			return o, fmt.Errorf("unknown interpolator %q", st.Interpolator)
		}
		o.Interpolator = in
	}
	if st.FileType != "" {
		f, ok := pano.ParseFileFormat(st.FileType)
		if !ok {
			return o, fmt.Errorf("unknown file type %q", st.FileType)
		}
		o.FileFormat = f
	}
	if st.Blend != "" {
		b, ok := pano.ParseBlendMode(st.Blend)
		if !ok {
			return o, fmt.Errorf("unknown blend mode %q", st.Blend)
		}
		o.Blend = b
	}
	if st.JPEGQuality > 0 {
		o.JPEGQuality = st.JPEGQuality
	}
	if st.Compression != "" {
		o.Compression = st.Compression
	}
	o.ICCProfile = st.ICCProfile
	return o, nil
}
