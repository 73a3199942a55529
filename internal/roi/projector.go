package roi

import "panokit/internal/pano"

// projectorSamples keeps overlap tests for mask propagation cheap.
const projectorSamples = 128

// Projector implements pano.MaskProjector on top of the geometric
// transforms and a coarse coverage engine. Passed to UpdateMasks it builds
// one engine for the whole pass.
type Projector struct{}

var (
	_ pano.MaskProjector  = Projector{}
	_ pano.MaskPassBinder = Projector{}
	_ pano.MaskProjector  = (*PassProjector)(nil)
)

// BindMasks snapshots p once for a propagation pass.
func (Projector) BindMasks(p *pano.Panorama) pano.MaskProjector {
	return &PassProjector{engine: NewEngine(p, WithMaxSamples(projectorSamples))}
}

func (pr Projector) ToPano(p *pano.Panorama, img int, pts []pano.Point) []pano.Point {
	return pr.BindMasks(p).ToPano(p, img, pts)
}

func (pr Projector) FromPano(p *pano.Panorama, img int, pts []pano.Point) []pano.Point {
	return pr.BindMasks(p).FromPano(p, img, pts)
}

func (pr Projector) Overlapping(p *pano.Panorama, img int) []int {
	return pr.BindMasks(p).Overlapping(p, img)
}

// PassProjector answers from the engine built by BindMasks; the panorama
// argument is ignored, so it must not outlive geometry changes.
type PassProjector struct {
	engine *Engine
}

func (pp *PassProjector) ToPano(_ *pano.Panorama, img int, pts []pano.Point) []pano.Point {
	t := pp.engine.Transform(img)
	if t == nil {
		return nil
	}
	out := make([]pano.Point, 0, len(pts))
	for _, pt := range pts {
		if q, err := t.ToPanoPoint(pt); err == nil {
			out = append(out, q)
		}
	}
	return out
}

func (pp *PassProjector) FromPano(_ *pano.Panorama, img int, pts []pano.Point) []pano.Point {
	t := pp.engine.Transform(img)
	if t == nil {
		return nil
	}
	out := make([]pano.Point, 0, len(pts))
	for _, pt := range pts {
		if q, err := t.ToImagePoint(pt); err == nil {
			out = append(out, q)
		}
	}
	return out
}

func (pp *PassProjector) Overlapping(_ *pano.Panorama, img int) []int {
	return pp.engine.Overlapping(img)
}
