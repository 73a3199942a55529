package pano

import "fmt"

// CtrlPoints returns a copy of the control point list.
func (p *Panorama) CtrlPoints() []ControlPoint {
	return append([]ControlPoint(nil), p.points...)
}

// CtrlPointsBetween returns the indices of the points joining a and b in
// either orientation.
func (p *Panorama) CtrlPointsBetween(a, b int) []int {
	var out []int
	for i, cp := range p.points {
		if (cp.Image1 == a && cp.Image2 == b) || (cp.Image1 == b && cp.Image2 == a) {
			out = append(out, i)
		}
	}
	return out
}

// AddCtrlPoint appends cp and returns its index.
func (p *Panorama) AddCtrlPoint(cp ControlPoint) (int, error) {
	if err := p.checkPoint(cp); err != nil {
		return 0, err
	}
	p.points = append(p.points, cp)
	p.markPoint(cp)
	p.UpdateLineCtrlPoints()
	return len(p.points) - 1, nil
}

// RemoveCtrlPoint deletes the point at index i.
func (p *Panorama) RemoveCtrlPoint(i int) error {
	if i < 0 || i >= len(p.points) {
		return fmt.Errorf("control point %d out of range (have %d)", i, len(p.points))
	}
	p.markPoint(p.points[i])
	p.points = append(p.points[:i], p.points[i+1:]...)
	p.UpdateLineCtrlPoints()
	return nil
}

// SetCtrlPoints replaces the whole list. Nothing changes if any point
// references a missing image.
func (p *Panorama) SetCtrlPoints(cps []ControlPoint) error {
	for i, cp := range cps {
		if err := p.checkPoint(cp); err != nil {
			return fmt.Errorf("control point %d: %w", i, err)
		}
	}
	for _, cp := range p.points {
		p.markPoint(cp)
	}
	p.points = append([]ControlPoint(nil), cps...)
	for _, cp := range p.points {
		p.markPoint(cp)
	}
	p.UpdateLineCtrlPoints()
	return nil
}

// ChangeControlPoint replaces the point at index i.
func (p *Panorama) ChangeControlPoint(i int, cp ControlPoint) error {
	if i < 0 || i >= len(p.points) {
		return fmt.Errorf("control point %d out of range (have %d)", i, len(p.points))
	}
	if err := p.checkPoint(cp); err != nil {
		return err
	}
	p.markPoint(p.points[i])
	p.points[i] = cp
	p.markPoint(cp)
	p.UpdateLineCtrlPoints()
	return nil
}

// RemoveDuplicateCtrlPoints drops every point that repeats an earlier one
// and returns how many were removed. Both images of a dropped point are
// marked changed.
func (p *Panorama) RemoveDuplicateCtrlPoints() int {
	kept := make([]ControlPoint, 0, len(p.points))
	removed := 0
	for _, cp := range p.points {
		dup := false
		for _, k := range kept {
			if k.SameAs(cp) {
				dup = true
				break
			}
		}
		if dup {
			removed++
			p.markPoint(cp)
			continue
		}
		kept = append(kept, cp)
	}
	if removed > 0 {
		p.points = kept
		p.UpdateLineCtrlPoints()
	}
	return removed
}

// UpdateLineCtrlPoints renumbers line groups to 3, 4, ... in order of first
// appearance so that the ids stay contiguous.
func (p *Panorama) UpdateLineCtrlPoints() {
	mapping := map[CPMode]CPMode{}
	next := CPLineFirst
	for i := range p.points {
		m := p.points[i].Mode
		if m < CPLineFirst {
			continue
		}
		nm, ok := mapping[m]
		if !ok {
			nm = next
			mapping[m] = nm
			next++
		}
		if nm != m {
			p.points[i].Mode = nm
			p.markPoint(p.points[i])
		}
	}
}

func (p *Panorama) checkPoint(cp ControlPoint) error {
	if err := p.checkImage(cp.Image1); err != nil {
		return err
	}
	if err := p.checkImage(cp.Image2); err != nil {
		return err
	}
	if cp.Mode < 0 {
		return fmt.Errorf("invalid control point mode %d", cp.Mode)
	}
	return nil
}

func (p *Panorama) markPoint(cp ControlPoint) {
	if cp.Image1 >= 0 && cp.Image1 < len(p.images) {
		p.markImage(cp.Image1)
	}
	if cp.Image2 >= 0 && cp.Image2 < len(p.images) {
		p.markImage(cp.Image2)
	}
	p.pending.ControlPoints = true
}
