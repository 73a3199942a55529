// Package geom maps points between source image pixels and output canvas
// pixels. Coordinates follow the image convention: X right, Y down,
// cameras look along +Z, and pixel centres sit on integers so the centre
// of a W wide image is at W/2-0.5.
package geom

import (
	"errors"
	"fmt"
	"math"

	"panokit/internal/pano"
)

var (
	// ErrOutside is returned when a point has no image under the transform.
	ErrOutside = errors.New("point outside projection")
	// ErrBadParams is returned for geometry that cannot be set up.
	ErrBadParams = errors.New("invalid projection parameters")
)

// Channel selects which radial polynomial a transform uses.
type Channel int

const (
	Green Channel = iota
	Red
	Blue
)

type poly struct{ a, b, c, d float64 }

func (p poly) identity() bool { return p.a == 0 && p.b == 0 && p.c == 0 && p.d == 1 }

// scale returns the radius factor at normalised radius r.
func (p poly) scale(r float64) float64 { return ((p.a*r+p.b)*r+p.c)*r + p.d }

// invert finds ru with ru*scale(ru) == rd by Newton iteration.
func (p poly) invert(rd float64) (float64, bool) {
	r := rd
	for i := 0; i < 30; i++ {
		g := r*p.scale(r) - rd
		dg := ((4*p.a*r+3*p.b)*r+2*p.c)*r + p.d
		if math.Abs(dg) < 1e-12 {
			return 0, false
		}
		step := g / dg
		r -= step
		if math.Abs(step) < 1e-12 {
			return r, r >= 0
		}
	}
	return r, math.Abs(r*p.scale(r)-rd) < 1e-6
}

// Transform maps between one image and the output canvas.
type Transform struct {
	proj     pano.Projection
	focal    float64
	cx, cy   float64
	normR    float64
	base     poly
	channel  poly
	shiftX   float64
	shiftY   float64
	shearG   float64
	shearT   float64
	rot      Mat3
	rotInv   Mat3
	trans    Vec3
	normal   Vec3
	hasTrans bool

	panoProj pano.PanoProjection
	panoS    float64
	pcx, pcy float64
}

// New builds the green channel transform of img for the canvas opts.
func New(img pano.SrcImage, opts pano.Options) (*Transform, error) {
	return NewForChannel(img, opts, Green)
}

// NewForChannel builds the transform for one colour channel. Red and blue
// apply their own polynomial after the base distortion.
func NewForChannel(img pano.SrcImage, opts pano.Options, ch Channel) (*Transform, error) {
	if img.Width <= 0 || img.Height <= 0 {
		return nil, fmt.Errorf("%w: image size %dx%d", ErrBadParams, img.Width, img.Height)
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("%w: canvas size %dx%d", ErrBadParams, opts.Width, opts.Height)
	}
	f, err := ImageScale(img.Projection, img.Width, img.Var(pano.VarHFOV))
	if err != nil {
		return nil, fmt.Errorf("image %s: %w", img.Filename, err)
	}
	s, err := PanoScale(opts.Projection, opts.Width, opts.HFOV)
	if err != nil {
		return nil, err
	}
	a, b, c := img.Var(pano.VarDistA), img.Var(pano.VarDistB), img.Var(pano.VarDistC)
	t := &Transform{
		proj:    img.Projection,
		focal:   f,
		cx:      float64(img.Width)/2 - 0.5,
		cy:      float64(img.Height)/2 - 0.5,
		normR:   float64(min(img.Width, img.Height)) / 2,
		base:    poly{a, b, c, 1 - a - b - c},
		channel: poly{0, 0, 0, 1},
		shiftX:  img.Var(pano.VarShiftD),
		shiftY:  img.Var(pano.VarShiftE),
		shearG:  img.Var(pano.VarShearG),
		shearT:  img.Var(pano.VarShearT),
		rot:     Rotation(img.Var(pano.VarYaw), img.Var(pano.VarPitch), img.Var(pano.VarRoll)),

		panoProj: opts.Projection,
		panoS:    s,
		pcx:      float64(opts.Width)/2 - 0.5,
		pcy:      float64(opts.Height)/2 - 0.5,
	}
	t.rotInv = t.rot.Transpose()
	switch ch {
	case Red:
		t.channel = poly{img.Var(pano.VarRedA), img.Var(pano.VarRedB), img.Var(pano.VarRedC), img.Var(pano.VarRedD)}
	case Blue:
		t.channel = poly{img.Var(pano.VarBlueA), img.Var(pano.VarBlueB), img.Var(pano.VarBlueC), img.Var(pano.VarBlueD)}
	}
	if img.HasTranslation() {
		t.hasTrans = true
		t.trans = Vec3{img.Var(pano.VarTrX), img.Var(pano.VarTrY), img.Var(pano.VarTrZ)}
		t.normal = yawMatrix(img.Var(pano.VarTpy)).Mult(pitchMatrix(img.Var(pano.VarTpp))).Apply(Vec3{0, 0, 1})
	}
	return t, nil
}

// ToImage maps canvas pixel (px, py) to source pixel coordinates.
func (t *Transform) ToImage(px, py float64) (float64, float64, bool) {
	dir, ok := panoToVec(t.panoProj, t.panoS, px-t.pcx, py-t.pcy)
	if !ok {
		return 0, 0, false
	}
	if t.hasTrans {
		nd := t.normal.Dot(dir)
		if nd <= 0 {
			return 0, 0, false
		}
		dir = dir.Scale(1 / nd).Sub(t.trans)
	}
	cam := t.rotInv.Apply(dir)
	x, y, ok := vecToImage(t.proj, t.focal, cam)
	if !ok {
		return 0, 0, false
	}
	x, y = t.distort(x, y)
	x, y = x+t.shearG*y, y+t.shearT*x
	return x + t.shiftX + t.cx, y + t.shiftY + t.cy, true
}

// ToPano maps source pixel (x, y) to canvas pixel coordinates.
func (t *Transform) ToPano(x, y float64) (float64, float64, bool) {
	x -= t.cx + t.shiftX
	y -= t.cy + t.shiftY
	if t.shearG != 0 || t.shearT != 0 {
		det := 1 - t.shearG*t.shearT
		if math.Abs(det) < 1e-12 {
			return 0, 0, false
		}
		x, y = (x-t.shearG*y)/det, (y-t.shearT*x)/det
	}
	x, y, ok := t.undistort(x, y)
	if !ok {
		return 0, 0, false
	}
	cam, ok := imageToVec(t.proj, t.focal, x, y)
	if !ok {
		return 0, 0, false
	}
	dir := t.rot.Apply(cam)
	if t.hasTrans {
		nd := t.normal.Dot(dir)
		if nd == 0 {
			return 0, 0, false
		}
		lambda := (1 - t.normal.Dot(t.trans)) / nd
		if lambda <= 0 {
			return 0, 0, false
		}
		dir = t.trans.Add(dir.Scale(lambda))
	}
	px, py, ok := vecToPano(t.panoProj, t.panoS, dir)
	if !ok {
		return 0, 0, false
	}
	return px + t.pcx, py + t.pcy, true
}

// ToPanoPoint is ToPano returning ErrOutside for unmappable points.
func (t *Transform) ToPanoPoint(p pano.Point) (pano.Point, error) {
	x, y, ok := t.ToPano(p.X, p.Y)
	if !ok {
		return pano.Point{}, fmt.Errorf("%w: image (%.1f,%.1f)", ErrOutside, p.X, p.Y)
	}
	return pano.Point{X: x, Y: y}, nil
}

// ToImagePoint is ToImage returning ErrOutside for unmappable points.
func (t *Transform) ToImagePoint(p pano.Point) (pano.Point, error) {
	x, y, ok := t.ToImage(p.X, p.Y)
	if !ok {
		return pano.Point{}, fmt.Errorf("%w: canvas (%.1f,%.1f)", ErrOutside, p.X, p.Y)
	}
	return pano.Point{X: x, Y: y}, nil
}

func (t *Transform) distort(x, y float64) (float64, float64) {
	if t.base.identity() && t.channel.identity() {
		return x, y
	}
	r := math.Hypot(x, y) / t.normR
	k := t.base.scale(r)
	r1 := r * k
	k *= t.channel.scale(r1)
	return x * k, y * k
}

func (t *Transform) undistort(x, y float64) (float64, float64, bool) {
	if t.base.identity() && t.channel.identity() {
		return x, y, true
	}
	rd := math.Hypot(x, y) / t.normR
	if rd == 0 {
		return x, y, true
	}
	r1, ok := t.channel.invert(rd)
	if !ok {
		return 0, 0, false
	}
	r, ok := t.base.invert(r1)
	if !ok || r == 0 {
		return 0, 0, false
	}
	k := r / rd
	return x * k, y * k, true
}
