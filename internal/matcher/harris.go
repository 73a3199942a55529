package matcher

import (
	"image"
	"sort"
)

// Detector finds up to n interest points of img inside rect.
type Detector interface {
	Detect(img *image.Gray, rect image.Rectangle, n int) []image.Point
}

// Harris is the built-in corner detector.
type Harris struct {
	K           float64 // sensitivity, 0.04 when zero
	Window      int     // half size of the structure tensor window, 2 when zero
	Quality     float64 // minimum response relative to the strongest, 0.01 when zero
	MinDistance int     // minimum spacing between returned corners, 3 when zero
}

var _ Detector = Harris{}

type corner struct {
	p image.Point
	r float64
}

func (h Harris) Detect(img *image.Gray, rect image.Rectangle, n int) []image.Point {
	k, win, quality, minDist := h.K, h.Window, h.Quality, h.MinDistance
	if k == 0 {
		k = 0.04
	}
	if win == 0 {
		win = 2
	}
	if quality == 0 {
		quality = 0.01
	}
	if minDist == 0 {
		minDist = 3
	}
	b := img.Bounds()
	r := rect.Intersect(b.Inset(win + 1))
	if r.Empty() || n <= 0 {
		return nil
	}
	at := func(x, y int) float64 { return float64(img.Pix[img.PixOffset(x, y)]) }
	// gradients over r grown by the window
	g := r.Inset(-win)
	w := g.Dx()
	ix := make([]float64, g.Dx()*g.Dy())
	iy := make([]float64, len(ix))
	for y := g.Min.Y; y < g.Max.Y; y++ {
		for x := g.Min.X; x < g.Max.X; x++ {
			o := (y-g.Min.Y)*w + (x - g.Min.X)
			ix[o] = (at(x+1, y) - at(x-1, y)) / 2
			iy[o] = (at(x, y+1) - at(x, y-1)) / 2
		}
	}
	resp := make([]float64, r.Dx()*r.Dy())
	maxR := 0.0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			var sxx, syy, sxy float64
			for dy := -win; dy <= win; dy++ {
				for dx := -win; dx <= win; dx++ {
					o := (y+dy-g.Min.Y)*w + (x + dx - g.Min.X)
					sxx += ix[o] * ix[o]
					syy += iy[o] * iy[o]
					sxy += ix[o] * iy[o]
				}
			}
			tr := sxx + syy
			v := sxx*syy - sxy*sxy - k*tr*tr
			resp[(y-r.Min.Y)*r.Dx()+(x-r.Min.X)] = v
			if v > maxR {
				maxR = v
			}
		}
	}
	if maxR <= 0 {
		return nil
	}
	respAt := func(x, y int) float64 {
		if !(image.Point{x, y}).In(r) {
			return 0
		}
		return resp[(y-r.Min.Y)*r.Dx()+(x-r.Min.X)]
	}
	var cands []corner
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			v := respAt(x, y)
			if v < quality*maxR {
				continue
			}
			peak := true
			for dy := -1; dy <= 1 && peak; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if (dx != 0 || dy != 0) && respAt(x+dx, y+dy) > v {
						peak = false
						break
					}
				}
			}
			if peak {
				cands = append(cands, corner{image.Pt(x, y), v})
			}
		}
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].r > cands[j].r })
	var out []image.Point
	for _, c := range cands {
		near := false
		for _, o := range out {
			dx, dy := c.p.X-o.X, c.p.Y-o.Y
			if dx*dx+dy*dy < minDist*minDist {
				near = true
				break
			}
		}
		if near {
			continue
		}
		out = append(out, c.p)
		if len(out) == n {
			break
		}
	}
	return out
}
