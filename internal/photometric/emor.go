package photometric

import "math"

// Basis is an EMoR model: a mean response f0 and five principal
// components, each a function of normalised irradiance.
type Basis struct {
	Mean       func(e float64) float64
	Components [5]func(e float64) float64
}

// DefaultBasis is an analytic stand-in for the published EMoR tables: a
// gamma 2.2 mean curve and polynomial components that vanish at both ends,
// so every coefficient set keeps f(0)=0 and f(1)=1.
func DefaultBasis() Basis {
	var b Basis
	b.Mean = func(e float64) float64 { return math.Pow(e, 1/2.2) }
	for k := range b.Components {
		order := k
		b.Components[k] = func(e float64) float64 {
			return e * (1 - e) * math.Pow(2*e-1, float64(order))
		}
	}
	return b
}

// NewEMoR builds the response curve f0 + sum(c[k]*h[k]).
func NewEMoR(basis Basis, coeffs [5]float64) *Curve {
	if basis.Mean == nil {
		basis = DefaultBasis()
	}
	return NewCurve(func(e float64) float64 {
		v := basis.Mean(e)
		for k, h := range basis.Components {
			if h != nil {
				v += coeffs[k] * h(e)
			}
		}
		return v
	})
}
