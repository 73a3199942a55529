package remap

import (
	"math"

	"golang.org/x/image/draw"

	"panokit/internal/pano"
)

// Lanczos3 is a windowed sinc kernel with a support of three pixels.
var Lanczos3 = &draw.Kernel{Support: 3, At: lanczos3}

func lanczos3(t float64) float64 {
	if t == 0 {
		return 1
	}
	if t >= 3 {
		return 0
	}
	pt := math.Pi * t
	return 3 * math.Sin(pt) * math.Sin(pt/3) / (pt * pt)
}

// KernelFor maps a project interpolator to a resampling kernel. Nil means
// nearest neighbour.
func KernelFor(i pano.Interpolator) *draw.Kernel {
	switch i {
	case pano.InterpNearest:
		return nil
	case pano.InterpBilinear:
		return draw.BiLinear
	case pano.InterpSpline64, pano.InterpSinc256, pano.InterpSinc1024:
		return Lanczos3
	default:
		return draw.CatmullRom
	}
}
