package stitch

import (
	"image"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"panokit/internal/remap"
)

// hatWeight favours well exposed samples: 1 at mid grey, 0 at black and
// white.
func hatWeight(v float64) float64 {
	t := 2*v - 1
	return math.Max(0, 1-math.Pow(t, 12))
}

// reduceHDR merges every layer covering a pixel into one radiance value,
// weighting each sample by how well its own exposure recorded it. gains
// undo the exposure scaling to recover the recorded level. With ldr the
// result is normalised by its global minimum and maximum.
func reduceHDR(out image.Rectangle, layers []*remap.Layer, gains map[int]float64, ldr bool) *remap.Layer {
	canvas := remap.NewLayer(-1, out, layers[0].Canvas)
	for y := out.Min.Y; y < out.Max.Y; y++ {
		for x := out.Min.X; x < out.Max.X; x++ {
			var sum, plain [3]float64
			wsum := 0.0
			n := 0
			for _, l := range layers {
				if l.AlphaAt(x, y) == 0 {
					continue
				}
				rgb := l.RGB(x, y)
				g := gains[l.Index]
				if g <= 0 {
					g = 1
				}
				level := (rgb[0] + rgb[1] + rgb[2]) / (3 * g)
				w := hatWeight(level)
				for c := range sum {
					sum[c] += w * rgb[c]
					plain[c] += rgb[c]
				}
				wsum += w
				n++
			}
			if n == 0 {
				continue
			}
			if wsum > 0 {
				for c := range sum {
					sum[c] /= wsum
				}
			} else {
				for c := range sum {
					sum[c] = plain[c] / float64(n)
				}
			}
			canvas.SetRGB(x, y, sum)
			canvas.SetAlpha(x, y, 0xff)
		}
	}
	if ldr {
		normalise(canvas)
	}
	return canvas
}

// normalise maps the covered radiance range onto [0,1].
func normalise(l *remap.Layer) {
	var vals []float64
	r := l.Rect
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if l.AlphaAt(x, y) > 0 {
				rgb := l.RGB(x, y)
				vals = append(vals, rgb[:]...)
			}
		}
	}
	if len(vals) == 0 {
		return
	}
	lo, hi := floats.Min(vals), floats.Max(vals)
	span := hi - lo
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if l.AlphaAt(x, y) == 0 {
				continue
			}
			rgb := l.RGB(x, y)
			for c := range rgb {
				if span > 0 {
					rgb[c] = (rgb[c] - lo) / span
				} else {
					rgb[c] = 0
				}
			}
			l.SetRGB(x, y, rgb)
		}
	}
}

// reduceDifference writes, per channel, the mean absolute deviation of the
// contributing layers. Pixels seen by a single image are black.
func reduceDifference(out image.Rectangle, layers []*remap.Layer) *remap.Layer {
	canvas := remap.NewLayer(-1, out, layers[0].Canvas)
	samples := make([][]float64, 3)
	for y := out.Min.Y; y < out.Max.Y; y++ {
		for x := out.Min.X; x < out.Max.X; x++ {
			for c := range samples {
				samples[c] = samples[c][:0]
			}
			for _, l := range layers {
				if l.AlphaAt(x, y) == 0 {
					continue
				}
				rgb := l.RGB(x, y)
				for c := range samples {
					samples[c] = append(samples[c], rgb[c])
				}
			}
			if len(samples[0]) == 0 {
				continue
			}
			var dev [3]float64
			for c, vs := range samples {
				mean := stat.Mean(vs, nil)
				for _, v := range vs {
					dev[c] += math.Abs(v - mean)
				}
				dev[c] /= float64(len(vs))
			}
			canvas.SetRGB(x, y, dev)
			canvas.SetAlpha(x, y, 0xff)
		}
	}
	return canvas
}
