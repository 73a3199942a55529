package stitch

import (
	"fmt"

	"panokit/internal/pano"
	"panokit/internal/roi"
)

// RequestsFromOptions turns the output toggles of p into stitch requests
// writing next to base.
func RequestsFromOptions(p *pano.Panorama, base string, tol float64) []Request {
	o := p.Options()
	t := o.Outputs
	ldrFormat := o.FileFormat
	if ldrFormat == pano.FormatHDR || ldrFormat == pano.FormatHDRm {
		ldrFormat = pano.FormatTIFFm
	}
	hdrFormat := pano.FormatHDR
	var reqs []Request
	if t.LDRBlended {
		reqs = append(reqs, Request{Kind: KindBlend, Blend: o.Blend, Base: base, Format: ldrFormat})
	}
	if t.LDRLayers {
		reqs = append(reqs, Request{Kind: KindLayers, Base: base, Format: ldrFormat})
	}
	if t.LDRExposureLayers {
		for k, layer := range roi.ExposureLayers(p, tol) {
			reqs = append(reqs, Request{
				Kind: KindBlend, Blend: o.Blend, Images: layer,
				Base: fmt.Sprintf("%s_exposure_%04d", base, k), Format: ldrFormat,
			})
		}
	}
	if t.LDRExposureLayersFused {
		reqs = append(reqs, Request{Kind: KindReduce, Reduce: ReduceHDR, LDR: true, Base: base + "_fused", Format: ldrFormat})
	}
	stacks := roi.HDRStacks(p, tol)
	if t.LDRStacks {
		for k, st := range stacks {
			reqs = append(reqs, Request{
				Kind: KindReduce, Reduce: ReduceHDR, LDR: true, Images: st,
				Base: fmt.Sprintf("%s_stack_ldr_%04d", base, k), Format: ldrFormat,
			})
		}
	}
	if t.HDRBlended {
		reqs = append(reqs, Request{Kind: KindReduce, Reduce: ReduceHDR, Base: base + "_hdr", Format: hdrFormat})
	}
	if t.HDRLayers {
		reqs = append(reqs, Request{Kind: KindLayers, Base: base + "_hdr_", Format: hdrFormat})
	}
	if t.HDRStacks {
		for k, st := range stacks {
			reqs = append(reqs, Request{
				Kind: KindReduce, Reduce: ReduceHDR, Images: st,
				Base: fmt.Sprintf("%s_stack_hdr_%04d", base, k), Format: hdrFormat,
			})
		}
	}
	return reqs
}
