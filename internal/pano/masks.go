package pano

const (
	// maskDensifyStep is the longest polygon edge, in source pixels, kept
	// before a positive mask is reprojected.
	maskDensifyStep = 10
	// maskTargetBorder widens the target frame a propagated mask is clipped
	// to.
	maskTargetBorder = 10
)

// MaskProjector supplies the geometry mask propagation needs. Points that
// cannot be projected are dropped from the returned slice.
type MaskProjector interface {
	// ToPano maps source pixel coordinates of img to panorama coordinates.
	ToPano(p *Panorama, img int, pts []Point) []Point
	// FromPano maps panorama coordinates into img's source pixels.
	FromPano(p *Panorama, img int, pts []Point) []Point
	// Overlapping lists the active images whose output overlaps img's.
	Overlapping(p *Panorama, img int) []int
}

// MaskPassBinder is implemented by projectors that prepare shared state
// once per UpdateMasks pass. The returned projector serves that pass only.
type MaskPassBinder interface {
	BindMasks(p *Panorama) MaskProjector
}

// UpdateMasks rebuilds every image's ActiveMasks from the authored masks.
// Running it twice yields the same result.
func (p *Panorama) UpdateMasks(proj MaskProjector) {
	if b, ok := proj.(MaskPassBinder); ok {
		proj = b.BindMasks(p)
	}
	for i := range p.images {
		p.images[i].ActiveMasks = nil
	}
	for owner := range p.images {
		for _, m := range p.images[owner].Masks {
			if !m.Valid() {
				continue
			}
			switch m.Type {
			case MaskNegative:
				p.addActiveMask(owner, m)
			case MaskLensNegative:
				for _, j := range p.vars.Linked(VarHFOV, owner) {
					p.addActiveMask(j, m)
				}
			case MaskStackNegative:
				for _, j := range p.vars.Linked(VarStack, owner) {
					p.addActiveMask(j, m)
				}
			case MaskPositive:
				p.addActiveMask(owner, m)
				p.propagatePositive(proj, owner, m, nil)
			case MaskStackPositive:
				stack := p.vars.Linked(VarStack, owner)
				exclude := make(map[int]bool, len(stack))
				for _, j := range stack {
					p.addActiveMask(j, m)
					exclude[j] = true
				}
				p.propagatePositive(proj, owner, m, exclude)
			}
		}
	}
}

func (p *Panorama) addActiveMask(img int, m Mask) {
	p.images[img].ActiveMasks = append(p.images[img].ActiveMasks, m.Clone())
}

// propagatePositive turns a positive mask of owner into negative masks on
// every overlapping image outside exclude.
func (p *Panorama) propagatePositive(proj MaskProjector, owner int, m Mask, exclude map[int]bool) {
	if proj == nil {
		return
	}
	src := p.images[owner]
	var clipped []Point
	switch src.Crop {
	case CropCircle:
		r := src.ValidRect()
		cx := float64(r.Min.X+r.Max.X) / 2
		cy := float64(r.Min.Y+r.Max.Y) / 2
		radius := float64(min(r.Dx(), r.Dy())) / 2
		clipped = ClipToCircle(m.Points, cx, cy, radius)
	default:
		r := src.ValidRect()
		clipped = ClipToRect(m.Points, float64(r.Min.X), float64(r.Min.Y), float64(r.Max.X), float64(r.Max.Y))
	}
	if len(clipped) < 3 {
		return
	}
	dense := Densify(clipped, maskDensifyStep)
	panoPts := proj.ToPano(p, owner, dense)
	if len(panoPts) < 3 {
		return
	}

	targets := map[int]bool{}
	for _, j := range proj.Overlapping(p, owner) {
		targets[j] = true
	}
	for _, j := range p.vars.Linked(VarYaw, owner) {
		targets[j] = true
	}
	for j := 0; j < len(p.images); j++ {
		if j == owner || exclude[j] || !targets[j] {
			continue
		}
		if p.vars.IsLinkedWith(VarYaw, owner, j) {
			p.addActiveMask(j, Mask{Type: MaskNegative, Points: m.Points})
			continue
		}
		back := proj.FromPano(p, j, panoPts)
		if len(back) < 3 {
			continue
		}
		t := p.images[j]
		out := ClipToRect(back,
			-maskTargetBorder, -maskTargetBorder,
			float64(t.Width+maskTargetBorder), float64(t.Height+maskTargetBorder))
		if len(out) < 3 {
			continue
		}
		p.addActiveMask(j, Mask{Type: MaskNegative, Points: out})
	}
}
