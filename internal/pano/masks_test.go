package pano

import (
	"math"
	"testing"
)

// shiftProjector places image i at x offset 60*i on the canvas.
type shiftProjector struct{}

func (shiftProjector) ToPano(p *Panorama, img int, pts []Point) []Point {
	out := make([]Point, len(pts))
	for i, pt := range pts {
		out[i] = Point{pt.X + 60*float64(img), pt.Y}
	}
	return out
}

func (shiftProjector) FromPano(p *Panorama, img int, pts []Point) []Point {
	out := make([]Point, len(pts))
	for i, pt := range pts {
		out[i] = Point{pt.X - 60*float64(img), pt.Y}
	}
	return out
}

func (shiftProjector) Overlapping(p *Panorama, img int) []int {
	var out []int
	for _, j := range p.ActiveImages() {
		if j != img && math.Abs(float64(j-img)) == 1 {
			out = append(out, j)
		}
	}
	return out
}

func square(x0, y0, x1, y1 float64) []Point {
	return []Point{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}}
}

func TestUpdateMasksPositivePropagates(t *testing.T) {
	p := newPano(t, 3)
	// image 0 spans canvas x 0..100; the square sits at canvas x 70..90,
	// which is image 1's x 10..30.
	if err := p.AddMask(0, Mask{Type: MaskPositive, Points: square(70, 10, 90, 30)}); err != nil {
		t.Fatalf("add mask: %v", err)
	}
	p.UpdateMasks(shiftProjector{})
	imgs := p.Images()
	if len(imgs[0].ActiveMasks) != 1 || imgs[0].ActiveMasks[0].Type != MaskPositive {
		t.Fatalf("owner masks = %+v", imgs[0].ActiveMasks)
	}
	if len(imgs[1].ActiveMasks) != 1 {
		t.Fatalf("image 1 masks = %+v", imgs[1].ActiveMasks)
	}
	m := imgs[1].ActiveMasks[0]
	if m.Type != MaskNegative {
		t.Fatalf("propagated mask type = %v", m.Type)
	}
	minX, _, maxX, _ := m.Bounds()
	if math.Abs(minX-10) > 1e-9 || math.Abs(maxX-30) > 1e-9 {
		t.Fatalf("propagated bounds x %v..%v, want 10..30", minX, maxX)
	}
	if len(imgs[2].ActiveMasks) != 0 {
		t.Fatalf("non-overlapping image got masks: %+v", imgs[2].ActiveMasks)
	}
}

func TestUpdateMasksIdempotent(t *testing.T) {
	p := newPano(t, 2)
	_ = p.AddMask(0, Mask{Type: MaskPositive, Points: square(70, 10, 90, 30)})
	_ = p.AddMask(1, Mask{Type: MaskNegative, Points: square(1, 1, 5, 5)})
	p.UpdateMasks(shiftProjector{})
	first := p.Images()
	p.UpdateMasks(shiftProjector{})
	second := p.Images()
	for i := range first {
		if len(first[i].ActiveMasks) != len(second[i].ActiveMasks) {
			t.Fatalf("image %d: %d masks then %d", i, len(first[i].ActiveMasks), len(second[i].ActiveMasks))
		}
	}
	if len(second[1].ActiveMasks) != 2 {
		t.Fatalf("image 1 should hold its own and the propagated mask, got %d", len(second[1].ActiveMasks))
	}
}

func TestUpdateMasksLensAndStack(t *testing.T) {
	p := newPano(t, 3)
	_ = p.LinkVariable(VarHFOV, 0, 2)
	_ = p.LinkVariable(VarStack, 0, 1)
	_ = p.AddMask(0, Mask{Type: MaskLensNegative, Points: square(0, 0, 4, 4)})
	_ = p.AddMask(1, Mask{Type: MaskStackNegative, Points: square(0, 0, 4, 4)})
	p.UpdateMasks(nil)
	imgs := p.Images()
	want := []int{2, 1, 1}
	for i, n := range want {
		if len(imgs[i].ActiveMasks) != n {
			t.Fatalf("image %d has %d masks, want %d", i, len(imgs[i].ActiveMasks), n)
		}
	}
}

func TestUpdateMasksYawLinkedCopiesUnchanged(t *testing.T) {
	p := newPano(t, 2)
	_ = p.LinkVariable(VarYaw, 0, 1)
	pts := square(70, 10, 90, 30)
	_ = p.AddMask(0, Mask{Type: MaskPositive, Points: pts})
	p.UpdateMasks(shiftProjector{})
	m := p.Images()[1].ActiveMasks
	if len(m) != 1 {
		t.Fatalf("masks = %+v", m)
	}
	for i, pt := range m[0].Points {
		if pt != pts[i] {
			t.Fatalf("mask was reprojected: %+v", m[0].Points)
		}
	}
}

// passCounter hands out shiftProjector once per UpdateMasks pass.
type passCounter struct {
	shiftProjector
	binds int
}

func (c *passCounter) BindMasks(p *Panorama) MaskProjector {
	c.binds++
	return shiftProjector{}
}

func TestUpdateMasksBindsOncePerPass(t *testing.T) {
	p := newPano(t, 3)
	_ = p.AddMask(0, Mask{Type: MaskPositive, Points: square(70, 10, 90, 30)})
	_ = p.AddMask(1, Mask{Type: MaskPositive, Points: square(10, 10, 30, 30)})
	proj := &passCounter{}
	p.UpdateMasks(proj)
	if proj.binds != 1 {
		t.Fatalf("binds = %d, want 1", proj.binds)
	}
	if n := len(p.Images()[1].ActiveMasks); n != 2 {
		t.Fatalf("image 1 masks = %d, want own positive plus propagated", n)
	}
	p.UpdateMasks(proj)
	if proj.binds != 2 {
		t.Fatalf("binds after second pass = %d", proj.binds)
	}
}

func TestChangeFinishedRunsProjector(t *testing.T) {
	p := newPano(t, 2)
	p.AttachProjector(shiftProjector{})
	_ = p.AddMask(0, Mask{Type: MaskPositive, Points: square(70, 10, 90, 30)})
	p.ChangeFinished()
	if len(p.Images()[1].ActiveMasks) != 1 {
		t.Fatalf("projector not run on change")
	}
}

func TestClipToRect(t *testing.T) {
	got := ClipToRect(square(-10, -10, 10, 10), 0, 0, 100, 100)
	if len(got) != 4 {
		t.Fatalf("clipped = %+v", got)
	}
	minX, minY, maxX, maxY := Mask{Points: got}.Bounds()
	if minX != 0 || minY != 0 || maxX != 10 || maxY != 10 {
		t.Fatalf("bounds = %v %v %v %v", minX, minY, maxX, maxY)
	}
	if ClipToRect(square(200, 200, 210, 210), 0, 0, 100, 100) != nil {
		t.Fatalf("outside polygon should vanish")
	}
}

func TestDensify(t *testing.T) {
	got := Densify(square(0, 0, 40, 40), 10)
	if len(got) != 16 {
		t.Fatalf("densified to %d points, want 16", len(got))
	}
	for i := range got {
		a, b := got[i], got[(i+1)%len(got)]
		if math.Hypot(b.X-a.X, b.Y-a.Y) > 10+1e-9 {
			t.Fatalf("edge %d too long", i)
		}
	}
}
