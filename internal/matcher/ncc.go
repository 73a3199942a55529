package matcher

import (
	"image"
	"math"

	"gonum.org/v1/gonum/stat"

	"panokit/internal/remap"
)

// plane is the luminance of a remapped layer with its validity.
type plane struct {
	index int
	rect  image.Rectangle
	v     []float64
	ok    []bool
	gray  *image.Gray
}

func newPlane(l *remap.Layer) *plane {
	r := l.Rect
	p := &plane{index: l.Index, rect: r, v: make([]float64, r.Dx()*r.Dy()), ok: make([]bool, r.Dx()*r.Dy()), gray: image.NewGray(r)}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			k := (y-r.Min.Y)*r.Dx() + (x - r.Min.X)
			if l.AlphaAt(x, y) == 0 {
				continue
			}
			rgb := l.RGB(x, y)
			lum := 0.299*rgb[0] + 0.587*rgb[1] + 0.114*rgb[2]
			p.v[k] = lum
			p.ok[k] = true
			p.gray.Pix[p.gray.PixOffset(x, y)] = uint8(math.Round(math.Max(0, math.Min(1, lum)) * 255))
		}
	}
	return p
}

// window copies the samples of the square of radius r around (cx, cy)
// into dst. It fails when part of the square has no valid pixel.
func (p *plane) window(dst []float64, cx, cy, r int) bool {
	if cx-r < p.rect.Min.X || cy-r < p.rect.Min.Y || cx+r >= p.rect.Max.X || cy+r >= p.rect.Max.Y {
		return false
	}
	n := 0
	for y := cy - r; y <= cy+r; y++ {
		for x := cx - r; x <= cx+r; x++ {
			k := (y-p.rect.Min.Y)*p.rect.Dx() + (x - p.rect.Min.X)
			if !p.ok[k] {
				return false
			}
			dst[n] = p.v[k]
			n++
		}
	}
	return true
}

// ncc is the normalised cross correlation of two equally sized patches.
// Flat patches correlate with nothing.
func ncc(a, b []float64) float64 {
	if stat.Variance(a, nil) < 1e-12 || stat.Variance(b, nil) < 1e-12 {
		return math.Inf(-1)
	}
	return stat.Correlation(a, b, nil)
}

// parabola returns the sub-sample offset of the peak of three samples.
func parabola(l, c, r float64) float64 {
	if math.IsInf(l, 0) || math.IsInf(r, 0) {
		return 0
	}
	den := l - 2*c + r
	if den >= 0 {
		return 0
	}
	return math.Max(-0.5, math.Min(0.5, (l-r)/(2*den)))
}

type matchResult struct {
	x, y  float64
	score float64
}

// correlate searches b within radius search of (cx, cy) for the template
// of a at (cx, cy).
func correlate(a, b *plane, cx, cy, tpl, search int) (matchResult, bool) {
	size := (2*tpl + 1) * (2*tpl + 1)
	t := make([]float64, size)
	if !a.window(t, cx, cy, tpl) || stat.Variance(t, nil) < 1e-12 {
		return matchResult{}, false
	}
	side := 2*search + 1
	scores := make([]float64, side*side)
	w := make([]float64, size)
	best, bestK := math.Inf(-1), -1
	for dy := -search; dy <= search; dy++ {
		for dx := -search; dx <= search; dx++ {
			k := (dy+search)*side + (dx + search)
			scores[k] = math.Inf(-1)
			if !b.window(w, cx+dx, cy+dy, tpl) {
				continue
			}
			s := ncc(t, w)
			if math.IsNaN(s) {
				continue
			}
			scores[k] = s
			if s > best {
				best, bestK = s, k
			}
		}
	}
	if bestK < 0 {
		return matchResult{}, false
	}
	bx, by := bestK%side, bestK/side
	at := func(x, y int) float64 {
		if x < 0 || y < 0 || x >= side || y >= side {
			return math.Inf(-1)
		}
		return scores[y*side+x]
	}
	ox := parabola(at(bx-1, by), best, at(bx+1, by))
	oy := parabola(at(bx, by-1), best, at(bx, by+1))
	return matchResult{
		x:     float64(cx+bx-search) + ox,
		y:     float64(cy+by-search) + oy,
		score: best,
	}, true
}
