package pano

// LensCalibration holds the coefficients measured for one lens at one focal
// length. Vignetting and TCA are optional.
type LensCalibration struct {
	Lens        string
	FocalLength float64
	CropFactor  float64
	Projection  Projection
	HFOV        float64

	DistA, DistB, DistC float64

	HasVignetting          bool
	VigA, VigB, VigC, VigD float64

	HasTCA                     bool
	RedA, RedB, RedC, RedD     float64
	BlueA, BlueB, BlueC, BlueD float64
}

// LensDatabase supplies calibrations by lens name and focal length.
type LensDatabase interface {
	Lookup(lens string, focal float64) (LensCalibration, error)
}

// Apply writes the calibration into the snapshot's variables.
func (c LensCalibration) Apply(img *SrcImage) {
	img.SetVar(VarDistA, c.DistA)
	img.SetVar(VarDistB, c.DistB)
	img.SetVar(VarDistC, c.DistC)
	if c.HFOV > 0 {
		img.SetVar(VarHFOV, c.HFOV)
	}
	if c.HasVignetting {
		img.VigMode = VigRadial
		img.SetVar(VarVigA, c.VigA)
		img.SetVar(VarVigB, c.VigB)
		img.SetVar(VarVigC, c.VigC)
		img.SetVar(VarVigD, c.VigD)
	}
	if c.HasTCA {
		img.SetVar(VarRedA, c.RedA)
		img.SetVar(VarRedB, c.RedB)
		img.SetVar(VarRedC, c.RedC)
		img.SetVar(VarRedD, c.RedD)
		img.SetVar(VarBlueA, c.BlueA)
		img.SetVar(VarBlueB, c.BlueB)
		img.SetVar(VarBlueC, c.BlueC)
		img.SetVar(VarBlueD, c.BlueD)
	}
}
