package stitch

import (
	"image"
	"math"

	"panokit/internal/pano"
	"panokit/internal/remap"
)

// blendOrder returns layers in compositing order.
func (s *Stitcher) blendOrder(mode pano.BlendMode, layers []*remap.Layer) []*remap.Layer {
	if mode != pano.BlendSeamOrder {
		return layers
	}
	byIndex := map[int]*remap.Layer{}
	for _, l := range layers {
		byIndex[l.Index] = l
	}
	order := SeamOrder(s.coverage, layerIndices(layers))
	out := make([]*remap.Layer, 0, len(layers))
	for _, i := range order {
		out = append(out, byIndex[i])
	}
	return out
}

func (s *Stitcher) coverage(i int) ([]bool, int) { return s.engine.CoverageMask(i) }

// SeamOrder estimates a compositing order that keeps seams few: the image
// covering most of the canvas goes first, then repeatedly the image sharing
// most cells with everything placed so far. Ties go to the lower index.
func SeamOrder(coverage func(int) ([]bool, int), images []int) []int {
	if len(images) == 0 {
		return nil
	}
	masks := map[int][]bool{}
	for _, i := range images {
		masks[i], _ = coverage(i)
	}
	count := func(m []bool, with []bool) int {
		n := 0
		for k, v := range m {
			if v && (with == nil || with[k]) {
				n++
			}
		}
		return n
	}
	remaining := append([]int(nil), images...)
	pick := func(score func(int) int) int {
		best, bestScore := 0, -1
		for k, i := range remaining {
			if sc := score(i); sc > bestScore || (sc == bestScore && i < remaining[best]) {
				best, bestScore = k, sc
			}
		}
		i := remaining[best]
		remaining = append(remaining[:best], remaining[best+1:]...)
		return i
	}

	first := pick(func(i int) int { return count(masks[i], nil) })
	order := []int{first}
	union := append([]bool(nil), masks[first]...)
	for len(remaining) > 0 {
		next := pick(func(i int) int { return count(masks[i], union) })
		order = append(order, next)
		for k, v := range masks[next] {
			union[k] = union[k] || v
		}
	}
	return order
}

// blend composites layers onto the output region. Without weighting a
// later layer replaces earlier ones wherever it is visible; with weighting
// overlapping pixels are averaged by alpha.
func blend(out image.Rectangle, layers []*remap.Layer, weighted bool) *remap.Layer {
	canvas := remap.NewLayer(-1, out, image.Rectangle{})
	if len(layers) > 0 {
		canvas.Canvas = layers[0].Canvas
	}
	if !weighted {
		for _, l := range layers {
			r := l.Rect.Intersect(out)
			for y := r.Min.Y; y < r.Max.Y; y++ {
				for x := r.Min.X; x < r.Max.X; x++ {
					if l.AlphaAt(x, y) > 0 {
						canvas.SetRGB(x, y, l.RGB(x, y))
						canvas.SetAlpha(x, y, 0xff)
					}
				}
			}
		}
		return canvas
	}
	for y := out.Min.Y; y < out.Max.Y; y++ {
		for x := out.Min.X; x < out.Max.X; x++ {
			var sum [3]float64
			wsum := 0.0
			for _, l := range layers {
				a := float64(l.AlphaAt(x, y)) / 0xff
				if a == 0 {
					continue
				}
				rgb := l.RGB(x, y)
				for c := range sum {
					sum[c] += a * rgb[c]
				}
				wsum += a
			}
			if wsum == 0 {
				continue
			}
			for c := range sum {
				sum[c] /= wsum
			}
			canvas.SetRGB(x, y, sum)
			canvas.SetAlpha(x, y, 0xff)
		}
	}
	return canvas
}

// gain is the factor exposure correction applied to an image's samples.
func gain(img pano.SrcImage, o pano.Options) float64 {
	return math.Exp2(img.Var(pano.VarExposure) - o.OutputExposure)
}
