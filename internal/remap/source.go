package remap

import (
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg"
	"github.com/mdouchement/hdr"
	"golang.org/x/image/draw"

	"panokit/internal/pano"
)

// source is a decoded image as normalised float samples.
type source struct {
	w, h  int
	pix   []float32
	alpha []uint8
}

func newSource(img image.Image) *source {
	b := img.Bounds()
	s := &source{w: b.Dx(), h: b.Dy(), pix: make([]float32, 3*b.Dx()*b.Dy())}
	hdrImg, isHDR := img.(hdr.Image)
	for y := 0; y < s.h; y++ {
		for x := 0; x < s.w; x++ {
			i := y*s.w + x
			if isHDR {
				r, g, bl, _ := hdrImg.HDRAt(b.Min.X+x, b.Min.Y+y).HDRRGBA()
				s.pix[3*i], s.pix[3*i+1], s.pix[3*i+2] = float32(r), float32(g), float32(bl)
				continue
			}
			r, g, bl, a := straightRGBA(img, b.Min.X+x, b.Min.Y+y)
			s.pix[3*i], s.pix[3*i+1], s.pix[3*i+2] = r, g, bl
			if a != 0xffff {
				if s.alpha == nil {
					s.alpha = make([]uint8, s.w*s.h)
					for k := range s.alpha[:i] {
						s.alpha[k] = 0xff
					}
				}
				s.alpha[i] = uint8(a >> 8)
			} else if s.alpha != nil {
				s.alpha[i] = 0xff
			}
		}
	}
	return s
}

// straightRGBA returns the non-premultiplied colour at (x, y) in [0,1] and
// its 16-bit alpha. NRGBA buffers are read directly; other images go
// through the colour model, which loses precision on translucent pixels.
func straightRGBA(img image.Image, x, y int) (r, g, b float32, a uint16) {
	switch m := img.(type) {
	case *image.NRGBA:
		p := m.Pix[m.PixOffset(x, y):]
		return float32(p[0]) / 0xff, float32(p[1]) / 0xff, float32(p[2]) / 0xff, uint16(p[3]) * 0x101
	case *image.NRGBA64:
		p := m.Pix[m.PixOffset(x, y):]
		ch := func(k int) uint16 { return uint16(p[k])<<8 | uint16(p[k+1]) }
		return float32(ch(0)) / 0xffff, float32(ch(2)) / 0xffff, float32(ch(4)) / 0xffff, ch(6)
	}
	c := color.NRGBA64Model.Convert(img.At(x, y)).(color.NRGBA64)
	return float32(c.R) / 0xffff, float32(c.G) / 0xffff, float32(c.B) / 0xffff, c.A
}

// opaque reports whether the nearest pixel to (x, y) carries data.
func (s *source) opaque(x, y float64) bool {
	if s.alpha == nil {
		return true
	}
	ix, iy := s.clampX(int(math.Round(x))), s.clampY(int(math.Round(y)))
	return s.alpha[iy*s.w+ix] > 0
}

func (s *source) clampX(x int) int { return max(0, min(s.w-1, x)) }
func (s *source) clampY(y int) int { return max(0, min(s.h-1, y)) }

// sample interpolates channel c at (x, y) with k; nil k picks the nearest
// pixel. Edge pixels are repeated outside the frame.
func (s *source) sample(k *draw.Kernel, c int, x, y float64) float64 {
	if k == nil {
		ix, iy := s.clampX(int(math.Round(x))), s.clampY(int(math.Round(y)))
		return float64(s.pix[3*(iy*s.w+ix)+c])
	}
	x0, x1 := int(math.Ceil(x-k.Support)), int(math.Floor(x+k.Support))
	y0, y1 := int(math.Ceil(y-k.Support)), int(math.Floor(y+k.Support))
	var sum, wsum float64
	for iy := y0; iy <= y1; iy++ {
		dy := math.Abs(float64(iy) - y)
		if dy >= k.Support {
			continue
		}
		wy := k.At(dy)
		row := s.clampY(iy) * s.w
		for ix := x0; ix <= x1; ix++ {
			dx := math.Abs(float64(ix) - x)
			if dx >= k.Support {
				continue
			}
			w := wy * k.At(dx)
			sum += w * float64(s.pix[3*(row+s.clampX(ix))+c])
			wsum += w
		}
	}
	if wsum == 0 {
		return 0
	}
	return sum / wsum
}

// maskRaster marks source pixels hidden by exclusion masks.
type maskRaster struct {
	w, h int
	pix  []uint8
}

// rasterMasks fills every excluding mask of img. It returns nil when the
// image has none.
func rasterMasks(img pano.SrcImage) *maskRaster {
	masks := img.ActiveMasks
	if masks == nil {
		masks = img.Masks
	}
	dc := gg.NewContext(img.Width, img.Height)
	dc.SetRGBA(1, 1, 1, 1)
	n := 0
	for _, m := range masks {
		if !m.Type.Excludes() || !m.Valid() {
			continue
		}
		dc.NewSubPath()
		// gg puts pixel centres on half integers
		dc.MoveTo(m.Points[0].X+0.5, m.Points[0].Y+0.5)
		for _, p := range m.Points[1:] {
			dc.LineTo(p.X+0.5, p.Y+0.5)
		}
		dc.ClosePath()
		n++
	}
	if n == 0 {
		return nil
	}
	dc.Fill()
	out := &maskRaster{w: img.Width, h: img.Height, pix: make([]uint8, img.Width*img.Height)}
	im := dc.Image()
	for y := 0; y < out.h; y++ {
		for x := 0; x < out.w; x++ {
			_, _, _, a := im.At(x, y).RGBA()
			out.pix[y*out.w+x] = uint8(a >> 8)
		}
	}
	return out
}

func (m *maskRaster) hidden(x, y float64) bool {
	if m == nil {
		return false
	}
	ix, iy := int(math.Round(x)), int(math.Round(y))
	if ix < 0 || iy < 0 || ix >= m.w || iy >= m.h {
		return false
	}
	return m.pix[iy*m.w+ix] >= 0x80
}

// ImageFlatfield is a flatfield taken from a reference exposure.
type ImageFlatfield struct {
	src   *source
	scale float64
}

// NewFlatfield normalises a flat reference exposure so its brightest pixel
// is 1. Sensitivity is read from the mean of the three channels.
func NewFlatfield(img image.Image) *ImageFlatfield {
	s := newSource(img)
	peak := 0.0
	for i := 0; i < s.w*s.h; i++ {
		peak = math.Max(peak, float64(s.pix[3*i]+s.pix[3*i+1]+s.pix[3*i+2])/3)
	}
	f := &ImageFlatfield{src: s, scale: 1}
	if peak > 0 {
		f.scale = 1 / peak
	}
	return f
}

func (f *ImageFlatfield) At(x, y float64) float64 {
	v := 0.0
	for c := 0; c < 3; c++ {
		v += f.src.sample(draw.BiLinear, c, x, y)
	}
	return v / 3 * f.scale
}
