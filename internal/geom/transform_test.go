package geom

import (
	"errors"
	"math"
	"testing"

	"panokit/internal/pano"
)

func equirectCanvas() pano.Options {
	o := pano.DefaultOptions()
	o.Width, o.Height = 360, 180
	o.HFOV = 360
	o.Projection = pano.PanoEquirectangular
	return o
}

func TestEquirectYawOffset(t *testing.T) {
	img := pano.NewSrcImage("a.tif", 180, 180)
	img.Projection = pano.ProjEquirectangular
	img.Vars[pano.VarHFOV] = 180
	img.Vars[pano.VarYaw] = -45
	tr, err := New(img, equirectCanvas())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	x, y, ok := tr.ToImage(100, 60)
	if !ok {
		t.Fatalf("point should map")
	}
	if math.Abs(x-55) > 1e-9 || math.Abs(y-60) > 1e-9 {
		t.Fatalf("ToImage = (%v,%v), want (55,60)", x, y)
	}
}

func TestYawMovesRight(t *testing.T) {
	img := pano.NewSrcImage("a.tif", 100, 100)
	img.Vars[pano.VarHFOV] = 60
	img.Vars[pano.VarYaw] = 90
	tr, err := New(img, equirectCanvas())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	px, py, ok := tr.ToPano(49.5, 49.5)
	if !ok {
		t.Fatalf("centre should map")
	}
	if math.Abs(px-269.5) > 1e-6 || math.Abs(py-89.5) > 1e-6 {
		t.Fatalf("centre at (%v,%v), want (269.5,89.5)", px, py)
	}
}

func TestPitchMovesUp(t *testing.T) {
	img := pano.NewSrcImage("a.tif", 100, 100)
	img.Vars[pano.VarHFOV] = 60
	img.Vars[pano.VarPitch] = 30
	tr, _ := New(img, equirectCanvas())
	_, py, ok := tr.ToPano(49.5, 49.5)
	if !ok || math.Abs(py-59.5) > 1e-6 {
		t.Fatalf("centre y = %v, want 59.5", py)
	}
}

func TestRoundTrip(t *testing.T) {
	projections := []pano.Projection{
		pano.ProjRectilinear, pano.ProjPanoramic, pano.ProjEquirectangular,
		pano.ProjFullFrameFisheye, pano.ProjOrthographic, pano.ProjStereographic, pano.ProjEquisolid,
	}
	canvases := []pano.PanoProjection{
		pano.PanoEquirectangular, pano.PanoCylindrical, pano.PanoMercator,
		pano.PanoSinusoidal, pano.PanoStereographic, pano.PanoFisheye, pano.PanoEquisolid,
	}
	for _, ip := range projections {
		for _, cp := range canvases {
			img := pano.NewSrcImage("a.tif", 400, 300)
			img.Projection = ip
			img.Vars[pano.VarHFOV] = 70
			img.Vars[pano.VarYaw] = 20
			img.Vars[pano.VarPitch] = -10
			img.Vars[pano.VarRoll] = 5
			img.Vars[pano.VarDistA] = 0.01
			img.Vars[pano.VarDistB] = -0.03
			img.Vars[pano.VarDistC] = 0.02
			img.Vars[pano.VarShiftD] = 3
			img.Vars[pano.VarShiftE] = -2
			o := equirectCanvas()
			o.Projection = cp
			o.HFOV = 200
			o.Width, o.Height = 800, 600
			tr, err := New(img, o)
			if err != nil {
				t.Fatalf("%v/%v: %v", ip, cp, err)
			}
			for _, pt := range [][2]float64{{10, 20}, {200, 150}, {390, 280}, {120, 250}} {
				px, py, ok := tr.ToPano(pt[0], pt[1])
				if !ok {
					t.Fatalf("%v/%v: %v does not map", ip, cp, pt)
				}
				x, y, ok := tr.ToImage(px, py)
				if !ok {
					t.Fatalf("%v/%v: back mapping failed for %v", ip, cp, pt)
				}
				if math.Abs(x-pt[0]) > 1e-6 || math.Abs(y-pt[1]) > 1e-6 {
					t.Fatalf("%v/%v: %v came back as (%v,%v)", ip, cp, pt, x, y)
				}
			}
		}
	}
}

func TestRoundTripTranslationAndTCA(t *testing.T) {
	img := pano.NewSrcImage("a.tif", 300, 200)
	img.Vars[pano.VarHFOV] = 50
	img.Vars[pano.VarTrX] = 0.1
	img.Vars[pano.VarTrZ] = -0.05
	img.Vars[pano.VarTpy] = 10
	img.Vars[pano.VarRedB] = 0.002
	img.Vars[pano.VarRedD] = 0.998
	tr, err := NewForChannel(img, equirectCanvas(), Red)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	px, py, ok := tr.ToPano(30, 170)
	if !ok {
		t.Fatalf("forward failed")
	}
	x, y, ok := tr.ToImage(px, py)
	if !ok || math.Abs(x-30) > 1e-6 || math.Abs(y-170) > 1e-6 {
		t.Fatalf("came back as (%v,%v,%v)", x, y, ok)
	}
}

func TestRectilinearBehindCamera(t *testing.T) {
	img := pano.NewSrcImage("a.tif", 100, 100)
	tr, _ := New(img, equirectCanvas())
	if _, err := tr.ToImagePoint(pano.Point{X: 359, Y: 90}); !errors.Is(err, ErrOutside) {
		t.Fatalf("expected ErrOutside, got %v", err)
	}
}

func TestBadParams(t *testing.T) {
	img := pano.NewSrcImage("a.tif", 100, 100)
	img.Vars[pano.VarHFOV] = 200
	if _, err := New(img, equirectCanvas()); !errors.Is(err, ErrBadParams) {
		t.Fatalf("expected ErrBadParams, got %v", err)
	}
}

func TestHFOVFromFocal(t *testing.T) {
	h, err := HFOVFromFocal(pano.ProjRectilinear, 18, 1, 1.5)
	if err != nil {
		t.Fatalf("hfov: %v", err)
	}
	if math.Abs(h-90) > 1e-9 {
		t.Fatalf("hfov = %v, want 90", h)
	}
	f, _ := FocalFromHFOV(pano.ProjRectilinear, h, 1, 1.5)
	if math.Abs(f-18) > 1e-9 {
		t.Fatalf("focal = %v, want 18", f)
	}
}
