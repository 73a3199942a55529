package pano

import "fmt"

// Geometric optimizer master switch bits.
const (
	OptPosition    = 1
	OptView        = 2
	OptBarrel      = 4
	OptDistortion  = 8
	OptTranslation = 16
)

// Photometric optimizer master switch bits.
const (
	OptExposure         = 1
	OptWhiteBalance     = 2
	OptVignetting       = 4
	OptVignettingCenter = 8
	OptResponse         = 16
)

// VarSet is a set of variable kinds.
type VarSet uint64

// NewVarSet returns a set holding kinds.
func NewVarSet(kinds ...VarKind) VarSet {
	var s VarSet
	for _, k := range kinds {
		s = s.With(k)
	}
	return s
}

// Has reports membership.
func (s VarSet) Has(k VarKind) bool { return k.Valid() && s&(1<<uint(k)) != 0 }

// With returns s plus k.
func (s VarSet) With(k VarKind) VarSet {
	if !k.Valid() {
		return s
	}
	return s | 1<<uint(k)
}

// Without returns s minus k.
func (s VarSet) Without(k VarKind) VarSet {
	if !k.Valid() {
		return s
	}
	return s &^ (1 << uint(k))
}

// Kinds lists the members in declaration order.
func (s VarSet) Kinds() []VarKind {
	var out []VarKind
	for _, k := range AllVars() {
		if s.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

// OptimizeVector holds, per image, the variables flagged for optimization.
type OptimizeVector []VarSet

// OptimizeVector returns a copy of the per-image optimize selection.
func (p *Panorama) OptimizeVector() OptimizeVector {
	return append(OptimizeVector(nil), p.optimize...)
}

// SetOptimizeVector replaces the selection. Its length must match the
// number of images.
func (p *Panorama) SetOptimizeVector(v OptimizeVector) error {
	if len(v) != len(p.images) {
		return fmt.Errorf("optimize vector has %d entries, panorama has %d images", len(v), len(p.images))
	}
	p.optimize = append(OptimizeVector(nil), v...)
	p.dirty = true
	return nil
}

// OptimizerSwitches returns the geometric and photometric master switches.
func (p *Panorama) OptimizerSwitches() (geometric, photometric int) {
	return p.optSwitch, p.photoSwitch
}

// SetOptimizerSwitches stores the master switches and rebuilds the optimize
// vector from them.
func (p *Panorama) SetOptimizerSwitches(geometric, photometric int) {
	p.optSwitch, p.photoSwitch = geometric, photometric
	p.dirty = true
	p.updateOptimizeVector()
}

// UpdateOptimizeVector rebuilds the selection from the master switches. With
// both switches off the current selection is kept as it is.
func (p *Panorama) UpdateOptimizeVector() { p.updateOptimizeVector() }

func (p *Panorama) updateOptimizeVector() {
	if p.optSwitch == 0 && p.photoSwitch == 0 {
		return
	}
	var geo, photo []VarKind
	if p.optSwitch&OptPosition != 0 {
		geo = append(geo, VarYaw, VarPitch, VarRoll)
	}
	if p.optSwitch&OptView != 0 {
		geo = append(geo, VarHFOV)
	}
	if p.optSwitch&OptBarrel != 0 && p.optSwitch&OptDistortion == 0 {
		geo = append(geo, VarDistB)
	}
	if p.optSwitch&OptDistortion != 0 {
		geo = append(geo, VarDistA, VarDistB, VarDistC)
	}
	if p.optSwitch&OptTranslation != 0 {
		geo = append(geo, VarTrX, VarTrY, VarTrZ)
	}
	if p.photoSwitch&OptExposure != 0 {
		photo = append(photo, VarExposure)
	}
	if p.photoSwitch&OptWhiteBalance != 0 {
		photo = append(photo, VarWBRed, VarWBBlue)
	}
	if p.photoSwitch&OptVignetting != 0 {
		photo = append(photo, VarVigB, VarVigC, VarVigD)
	}
	if p.photoSwitch&OptVignettingCenter != 0 {
		photo = append(photo, VarVigX, VarVigY)
	}
	if p.photoSwitch&OptResponse != 0 {
		photo = append(photo, VarEMoRA, VarEMoRB, VarEMoRC, VarEMoRD, VarEMoRE)
	}

	vec := make(OptimizeVector, len(p.images))
	for i, img := range p.images {
		if !img.Active {
			continue
		}
		for _, k := range geo {
			if i == p.opts.OptimizeReference && (k == VarYaw || k == VarPitch || k == VarRoll) {
				continue
			}
			if p.firstActiveInClass(k, i) {
				vec[i] = vec[i].With(k)
			}
		}
		for _, k := range photo {
			if i == p.opts.ColorReference && (k == VarExposure || k == VarWBRed || k == VarWBBlue) {
				continue
			}
			if p.firstActiveInClass(k, i) {
				vec[i] = vec[i].With(k)
			}
		}
	}
	p.optimize = vec
}

// firstActiveInClass reports whether i is the lowest active member of its
// link class for k, so that each shared value is optimized once.
func (p *Panorama) firstActiveInClass(k VarKind, i int) bool {
	for _, j := range p.vars.Linked(k, i) {
		if p.images[j].Active {
			return j == i
		}
	}
	return true
}
