package pano

import "image"

// Projection is the lens projection of a source image.
type Projection int

const (
	ProjRectilinear      Projection = 0
	ProjPanoramic        Projection = 1
	ProjCircularFisheye  Projection = 2
	ProjFullFrameFisheye Projection = 3
	ProjEquirectangular  Projection = 4
	ProjOrthographic     Projection = 8
	ProjStereographic    Projection = 10
	ProjEquisolid        Projection = 21
)

func (p Projection) String() string {
	switch p {
	case ProjRectilinear:
		return "rectilinear"
	case ProjPanoramic:
		return "panoramic"
	case ProjCircularFisheye:
		return "circular-fisheye"
	case ProjFullFrameFisheye:
		return "fullframe-fisheye"
	case ProjEquirectangular:
		return "equirectangular"
	case ProjOrthographic:
		return "orthographic"
	case ProjStereographic:
		return "stereographic"
	case ProjEquisolid:
		return "equisolid"
	default:
		return "unknown"
	}
}

// ResponseType selects the camera response curve model.
type ResponseType int

const (
	ResponseEMoR   ResponseType = 0
	ResponseLinear ResponseType = 1
	ResponseGamma  ResponseType = 2
)

// VignettingMode is a bit set of vignetting correction options.
type VignettingMode int

const (
	VigNone      VignettingMode = 0
	VigRadial    VignettingMode = 1
	VigFlatfield VignettingMode = 2
)

// CropMode describes the valid region of a source image.
type CropMode int

const (
	CropNone CropMode = iota
	CropRect
	CropCircle
)

// SrcImage holds everything known about one source photograph. Variables
// live in Vars; a SrcImage obtained from Panorama.Image is a snapshot and
// writing it back goes through Panorama.SetImage.
type SrcImage struct {
	Filename      string
	Width         int
	Height        int
	Projection    Projection
	Response      ResponseType
	VigMode       VignettingMode
	FlatfieldFile string
	Crop          CropMode
	CropRect      image.Rectangle
	Active        bool
	Masks         []Mask
	ActiveMasks   []Mask
	CropFactor    float64
	LensModel     string
	FocalLength   float64
	Vars          Vars
}

// NewSrcImage returns an active image with neutral variables.
func NewSrcImage(filename string, width, height int) SrcImage {
	return SrcImage{
		Filename:   filename,
		Width:      width,
		Height:     height,
		Projection: ProjRectilinear,
		Active:     true,
		CropFactor: 1,
		Vars:       DefaultVars(),
	}
}

// Var returns the value of one variable.
func (s *SrcImage) Var(k VarKind) float64 {
	if !k.Valid() {
		return 0
	}
	return s.Vars[k]
}

// SetVar changes the value of one variable on the snapshot.
func (s *SrcImage) SetVar(k VarKind, v float64) {
	if k.Valid() {
		s.Vars[k] = v
	}
}

// Size returns the pixel dimensions.
func (s *SrcImage) Size() image.Point { return image.Pt(s.Width, s.Height) }

// ValidRect returns the region of the image that carries usable pixels:
// the crop rectangle when cropping is enabled, otherwise the full frame.
func (s *SrcImage) ValidRect() image.Rectangle {
	full := image.Rect(0, 0, s.Width, s.Height)
	if s.Crop == CropNone || s.CropRect.Empty() {
		return full
	}
	return s.CropRect.Intersect(full)
}

// HasTCA reports whether red or blue use a different radial polynomial than
// green.
func (s *SrcImage) HasTCA() bool {
	v := s.Vars
	return v[VarRedA] != 0 || v[VarRedB] != 0 || v[VarRedC] != 0 || v[VarRedD] != 1 ||
		v[VarBlueA] != 0 || v[VarBlueB] != 0 || v[VarBlueC] != 0 || v[VarBlueD] != 1
}

// HasTranslation reports whether the image was taken off the panorama's
// single viewpoint.
func (s *SrcImage) HasTranslation() bool {
	v := s.Vars
	return v[VarTrX] != 0 || v[VarTrY] != 0 || v[VarTrZ] != 0
}

// Clone returns a copy whose mask slices are independent of s.
func (s SrcImage) Clone() SrcImage {
	c := s
	c.Masks = cloneMasks(s.Masks)
	c.ActiveMasks = cloneMasks(s.ActiveMasks)
	return c
}

func cloneMasks(in []Mask) []Mask {
	if in == nil {
		return nil
	}
	out := make([]Mask, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}
