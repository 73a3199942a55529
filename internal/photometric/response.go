// Package photometric converts stored pixel values to linear radiance and
// back: camera response curves, vignetting, exposure and white balance.
package photometric

import (
	"math"
	"sort"
)

// Response maps between normalised irradiance and normalised pixel values,
// both in [0,1].
type Response interface {
	Forward(e float64) float64
	Inverse(v float64) float64
}

// Linear is the identity response.
type Linear struct{}

func (Linear) Forward(e float64) float64 { return clamp01(e) }
func (Linear) Inverse(v float64) float64 { return clamp01(v) }

// Gamma is a power law response: v = e^(1/G).
type Gamma struct{ G float64 }

func (g Gamma) Forward(e float64) float64 {
	if g.G <= 0 || g.G == 1 {
		return clamp01(e)
	}
	return math.Pow(clamp01(e), 1/g.G)
}

func (g Gamma) Inverse(v float64) float64 {
	if g.G <= 0 || g.G == 1 {
		return clamp01(v)
	}
	return math.Pow(clamp01(v), g.G)
}

// lutSize matches the sampling of the published EMoR tables.
const lutSize = 1024

// Curve is a response sampled on lutSize points, forced monotonic so that
// it can be inverted by search.
type Curve struct {
	lut []float64
}

// NewCurve samples f on [0,1].
func NewCurve(f func(e float64) float64) *Curve {
	c := &Curve{lut: make([]float64, lutSize)}
	prev := 0.0
	for i := range c.lut {
		v := clamp01(f(float64(i) / (lutSize - 1)))
		if v < prev {
			v = prev
		}
		c.lut[i] = v
		prev = v
	}
	return c
}

func (c *Curve) Forward(e float64) float64 {
	e = clamp01(e) * (lutSize - 1)
	i := int(e)
	if i >= lutSize-1 {
		return c.lut[lutSize-1]
	}
	frac := e - float64(i)
	return c.lut[i]*(1-frac) + c.lut[i+1]*frac
}

func (c *Curve) Inverse(v float64) float64 {
	v = clamp01(v)
	i := sort.SearchFloat64s(c.lut, v)
	switch {
	case i <= 0:
		return 0
	case i >= lutSize:
		return 1
	}
	lo, hi := c.lut[i-1], c.lut[i]
	frac := 0.0
	if hi > lo {
		frac = (v - lo) / (hi - lo)
	}
	return (float64(i-1) + frac) / (lutSize - 1)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	case math.IsNaN(v):
		return 0
	}
	return v
}
