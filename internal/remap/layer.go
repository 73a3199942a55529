package remap

import (
	"image"
	"image/color"
	"math"

	"github.com/mdouchement/hdr/hdrcolor"
)

// Layer is one remapped image: linear RGB radiance and an alpha channel
// over its placement on the output canvas. It implements hdr.Image so a
// layer can be written straight to an RGBE file.
type Layer struct {
	Index  int
	Rect   image.Rectangle
	Canvas image.Rectangle

	pix   []float32
	alpha []uint8
}

// NewLayer allocates a transparent layer covering rect.
func NewLayer(index int, rect, canvas image.Rectangle) *Layer {
	n := rect.Dx() * rect.Dy()
	return &Layer{
		Index:  index,
		Rect:   rect,
		Canvas: canvas,
		pix:    make([]float32, 3*n),
		alpha:  make([]uint8, n),
	}
}

func (l *Layer) offset(x, y int) int {
	return (y-l.Rect.Min.Y)*l.Rect.Dx() + (x - l.Rect.Min.X)
}

func (l *Layer) ColorModel() color.Model { return hdrcolor.RGBModel }
func (l *Layer) Bounds() image.Rectangle { return l.Rect }
func (l *Layer) At(x, y int) color.Color { return l.HDRAt(x, y) }
func (l *Layer) Size() int               { return l.Rect.Dx() * l.Rect.Dy() }

func (l *Layer) HDRAt(x, y int) hdrcolor.Color {
	rgb := l.RGB(x, y)
	return hdrcolor.RGB{rgb[0], rgb[1], rgb[2]}
}

// RGB returns the radiance at canvas pixel (x, y); zero outside the layer.
func (l *Layer) RGB(x, y int) [3]float64 {
	if !(image.Point{x, y}).In(l.Rect) {
		return [3]float64{}
	}
	i := 3 * l.offset(x, y)
	return [3]float64{float64(l.pix[i]), float64(l.pix[i+1]), float64(l.pix[i+2])}
}

// SetRGB stores radiance at canvas pixel (x, y).
func (l *Layer) SetRGB(x, y int, rgb [3]float64) {
	if !(image.Point{x, y}).In(l.Rect) {
		return
	}
	i := 3 * l.offset(x, y)
	l.pix[i], l.pix[i+1], l.pix[i+2] = float32(rgb[0]), float32(rgb[1]), float32(rgb[2])
}

// AlphaAt returns the coverage at canvas pixel (x, y).
func (l *Layer) AlphaAt(x, y int) uint8 {
	if !(image.Point{x, y}).In(l.Rect) {
		return 0
	}
	return l.alpha[l.offset(x, y)]
}

func (l *Layer) SetAlpha(x, y int, a uint8) {
	if (image.Point{x, y}).In(l.Rect) {
		l.alpha[l.offset(x, y)] = a
	}
}

// Covered counts the pixels with non-zero alpha.
func (l *Layer) Covered() int {
	n := 0
	for _, a := range l.alpha {
		if a > 0 {
			n++
		}
	}
	return n
}

// AlphaBounds is the smallest rectangle holding every covered pixel.
func (l *Layer) AlphaBounds() image.Rectangle {
	var r image.Rectangle
	for y := l.Rect.Min.Y; y < l.Rect.Max.Y; y++ {
		row := l.alpha[l.offset(l.Rect.Min.X, y):][:l.Rect.Dx()]
		for i, a := range row {
			if a == 0 {
				continue
			}
			x := l.Rect.Min.X + i
			r = r.Union(image.Rect(x, y, x+1, y+1))
		}
	}
	return r
}

// Reframe returns a copy of l over r. Pixels of r outside l are
// transparent.
func (l *Layer) Reframe(r image.Rectangle) *Layer {
	out := NewLayer(l.Index, r, l.Canvas)
	in := r.Intersect(l.Rect)
	for y := in.Min.Y; y < in.Max.Y; y++ {
		for x := in.Min.X; x < in.Max.X; x++ {
			out.SetRGB(x, y, l.RGB(x, y))
			out.SetAlpha(x, y, l.AlphaAt(x, y))
		}
	}
	return out
}

// AtOrigin returns a view of l whose bounds start at (0,0), sharing the
// pixels. File encoders expect that placement.
func (l *Layer) AtOrigin() *Layer {
	v := *l
	v.Rect = l.Rect.Sub(l.Rect.Min)
	return &v
}

// Mask returns the alpha channel as an image positioned on the canvas.
func (l *Layer) Mask() *image.Alpha {
	m := image.NewAlpha(l.Rect)
	copy(m.Pix, l.alpha)
	return m
}

// Encode converts the layer to 8-bit display values with enc applied to
// every channel; alpha is carried over.
func (l *Layer) Encode(enc func(float64) float64) *image.NRGBA {
	out := image.NewNRGBA(l.Rect)
	for y := l.Rect.Min.Y; y < l.Rect.Max.Y; y++ {
		for x := l.Rect.Min.X; x < l.Rect.Max.X; x++ {
			a := l.AlphaAt(x, y)
			if a == 0 {
				continue
			}
			rgb := l.RGB(x, y)
			out.SetNRGBA(x, y, color.NRGBA{R: to8(enc(rgb[0])), G: to8(enc(rgb[1])), B: to8(enc(rgb[2])), A: a})
		}
	}
	return out
}

func to8(v float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
}
