package photometric

import (
	"math"
	"testing"

	"panokit/internal/pano"
)

func TestCurveInverse(t *testing.T) {
	curves := map[string]Response{
		"gamma":  NewCurve(func(e float64) float64 { return math.Pow(e, 1/2.2) }),
		"emor":   NewEMoR(DefaultBasis(), [5]float64{0.1, -0.05, 0.02, 0, 0}),
		"power":  Gamma{G: 1.8},
		"linear": Linear{},
	}
	for name, c := range curves {
		for _, e := range []float64{0, 0.05, 0.3, 0.5, 0.9, 1} {
			got := c.Inverse(c.Forward(e))
			if math.Abs(got-e) > 2e-3 {
				t.Fatalf("%s: inverse(forward(%v)) = %v", name, e, got)
			}
		}
	}
}

func TestEMoREndpoints(t *testing.T) {
	c := NewEMoR(DefaultBasis(), [5]float64{0.5, 0.5, -0.5, 0.2, 0.1})
	if c.Forward(0) != 0 || math.Abs(c.Forward(1)-1) > 1e-9 {
		t.Fatalf("endpoints moved: %v %v", c.Forward(0), c.Forward(1))
	}
}

func TestCorrectorExposureAndWhiteBalance(t *testing.T) {
	img := pano.NewSrcImage("a.tif", 100, 100)
	img.Response = pano.ResponseLinear
	img.Vars[pano.VarExposure] = 1
	img.Vars[pano.VarWBRed] = 2
	opts := pano.DefaultOptions()
	opts.OutputExposure = 0
	c := NewCorrector(img, opts, Settings{})
	got := c.Correct(49.5, 49.5, [3]float64{0.2, 0.2, 0.2})
	want := [3]float64{0.2, 0.4, 0.4}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Fatalf("channel %d = %v, want %v", i, got[i], want[i])
		}
	}
	off := NewCorrector(img, opts, Settings{DisableExposure: true})
	if v := off.Correct(0, 0, [3]float64{0.2, 0.2, 0.2}); v[1] != 0.2 {
		t.Fatalf("disabled correction changed value: %v", v)
	}
}

func TestRadialVignetting(t *testing.T) {
	img := pano.NewSrcImage("a.tif", 200, 100)
	img.Response = pano.ResponseLinear
	img.VigMode = pano.VigRadial
	img.Vars[pano.VarVigB] = -0.5
	c := NewCorrector(img, pano.DefaultOptions(), Settings{})
	if v := c.Vignetting(99.5, 49.5); math.Abs(v-1) > 1e-12 {
		t.Fatalf("centre falloff = %v", v)
	}
	corner := c.Vignetting(-0.5, -0.5)
	if math.Abs(corner-0.5) > 1e-9 {
		t.Fatalf("corner falloff = %v, want 0.5", corner)
	}
	got := c.Correct(-0.5, -0.5, [3]float64{0.25, 0.25, 0.25})
	if math.Abs(got[1]-0.5) > 1e-9 {
		t.Fatalf("corrected corner = %v, want 0.5", got[1])
	}
}

type constFlat float64

func (f constFlat) At(x, y float64) float64 { return float64(f) }

func TestFlatfield(t *testing.T) {
	img := pano.NewSrcImage("a.tif", 10, 10)
	img.Response = pano.ResponseLinear
	img.VigMode = pano.VigFlatfield
	c := NewCorrector(img, pano.DefaultOptions(), Settings{Flatfield: constFlat(0.8)})
	if v := c.Vignetting(3, 3); v != 0.8 {
		t.Fatalf("flatfield = %v", v)
	}
}

func TestFlatfieldPerFile(t *testing.T) {
	s := Settings{
		Flatfields: map[string]Flatfield{"left.tif": constFlat(0.5), "right.tif": constFlat(0.9)},
		Flatfield:  constFlat(0.7),
	}
	tests := []struct {
		file string
		want float64
	}{
		{"left.tif", 0.5},
		{"right.tif", 0.9},
		{"other.tif", 0.7},
		{"", 0.7},
	}
	for _, tt := range tests {
		img := pano.NewSrcImage("a.tif", 10, 10)
		img.Response = pano.ResponseLinear
		img.VigMode = pano.VigFlatfield
		img.FlatfieldFile = tt.file
		if v := NewCorrector(img, pano.DefaultOptions(), s).Vignetting(3, 3); v != tt.want {
			t.Fatalf("%q: flatfield = %v, want %v", tt.file, v, tt.want)
		}
	}
}
