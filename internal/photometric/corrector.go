package photometric

import (
	"math"

	"panokit/internal/pano"
)

// Flatfield returns the relative sensitivity of the sensor at a source
// pixel, normalised so that its brightest region is 1.
type Flatfield interface {
	At(x, y float64) float64
}

// Settings tune a Corrector beyond what the image itself specifies.
type Settings struct {
	// DisableExposure skips exposure, white balance and vignetting, leaving
	// only the response inversion.
	DisableExposure bool
	Basis           Basis
	// Flatfields holds the loaded references keyed by the Vf file name an
	// image carries. Flatfield serves images whose file is not in the map.
	Flatfields map[string]Flatfield
	Flatfield  Flatfield
}

// FlatfieldFor returns the reference img is corrected with.
func (s Settings) FlatfieldFor(img pano.SrcImage) Flatfield {
	if f, ok := s.Flatfields[img.FlatfieldFile]; ok && img.FlatfieldFile != "" {
		return f
	}
	return s.Flatfield
}

// Corrector turns a stored RGB sample at a source position into linear
// radiance scaled to the output exposure.
type Corrector struct {
	resp        Response
	gain        float64
	wb          [3]float64
	vigMode     pano.VignettingMode
	vig         [4]float64
	cx, cy      float64
	radiusScale float64
	flat        Flatfield
	disabled    bool
}

// ResponseFor returns the response curve an image was recorded with.
func ResponseFor(img pano.SrcImage, opts pano.Options, basis Basis) Response {
	switch img.Response {
	case pano.ResponseLinear:
		return Linear{}
	case pano.ResponseGamma:
		return Gamma{G: opts.Gamma}
	default:
		coeffs := [5]float64{
			img.Var(pano.VarEMoRA), img.Var(pano.VarEMoRB), img.Var(pano.VarEMoRC),
			img.Var(pano.VarEMoRD), img.Var(pano.VarEMoRE),
		}
		return NewEMoR(basis, coeffs)
	}
}

// NewCorrector builds the correction for img rendered with opts.
func NewCorrector(img pano.SrcImage, opts pano.Options, s Settings) *Corrector {
	c := &Corrector{
		resp:     ResponseFor(img, opts, s.Basis),
		gain:     math.Exp2(img.Var(pano.VarExposure) - opts.OutputExposure),
		wb:       [3]float64{img.Var(pano.VarWBRed), 1, img.Var(pano.VarWBBlue)},
		vigMode:  img.VigMode,
		vig:      [4]float64{img.Var(pano.VarVigA), img.Var(pano.VarVigB), img.Var(pano.VarVigC), img.Var(pano.VarVigD)},
		cx:       float64(img.Width)/2 - 0.5 + img.Var(pano.VarVigX),
		cy:       float64(img.Height)/2 - 0.5 + img.Var(pano.VarVigY),
		flat:     s.FlatfieldFor(img),
		disabled: s.DisableExposure,
	}
	half := math.Hypot(float64(img.Width)/2, float64(img.Height)/2)
	if half > 0 {
		c.radiusScale = 1 / half
	}
	for i, v := range c.wb {
		if v <= 0 {
			c.wb[i] = 1
		}
	}
	return c
}

// Vignetting returns the light falloff factor at source position (x, y);
// 1 means no falloff.
func (c *Corrector) Vignetting(x, y float64) float64 {
	v := 1.0
	if c.vigMode&pano.VigFlatfield != 0 && c.flat != nil {
		v = c.flat.At(x, y)
	} else if c.vigMode&pano.VigRadial != 0 {
		dx, dy := (x-c.cx)*c.radiusScale, (y-c.cy)*c.radiusScale
		r2 := dx*dx + dy*dy
		v = c.vig[0] + r2*(c.vig[1]+r2*(c.vig[2]+r2*c.vig[3]))
	}
	if v <= 1e-6 {
		return 1e-6
	}
	return v
}

// Correct converts one encoded sample in [0,1] to linear radiance.
func (c *Corrector) Correct(x, y float64, rgb [3]float64) [3]float64 {
	var out [3]float64
	for i := range rgb {
		out[i] = c.resp.Inverse(rgb[i])
	}
	if c.disabled {
		return out
	}
	scale := c.gain / c.Vignetting(x, y)
	for i := range out {
		out[i] *= scale / c.wb[i]
	}
	return out
}

// Encoder maps linear output radiance back to display values for LDR
// output using a reference response.
type Encoder struct {
	resp Response
}

// NewEncoder encodes with the response of the colour reference image.
func NewEncoder(ref pano.SrcImage, opts pano.Options, basis Basis) *Encoder {
	return &Encoder{resp: ResponseFor(ref, opts, basis)}
}

// Encode clips l to [0,1] and applies the reference response.
func (e *Encoder) Encode(l float64) float64 {
	return e.resp.Forward(clamp01(l))
}
