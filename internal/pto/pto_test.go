package pto

import (
	"bytes"
	"errors"
	"image"
	"path/filepath"
	"strings"
	"testing"

	"panokit/internal/pano"
)

func samplePanorama(t *testing.T) *pano.Panorama {
	t.Helper()
	p := pano.New()
	for i := 0; i < 3; i++ {
		img := pano.NewSrcImage("img"+string(rune('a'+i))+".jpg", 4000, 3000)
		img.Vars[pano.VarYaw] = float64(i)*45.25 - 10
		img.Vars[pano.VarPitch] = 1.0 / 3
		img.Vars[pano.VarHFOV] = 73.5
		img.Vars[pano.VarDistB] = -0.0125
		img.Vars[pano.VarExposure] = float64(i) - 1
		img.CropFactor = 1.6
		img.LensModel = "EF-S 17-55mm"
		img.FocalLength = 17
		img.Response = pano.ResponseGamma
		p.AddImage(img)
	}
	mustLink := func(k pano.VarKind, src, dst int) {
		if err := p.LinkVariable(k, src, dst); err != nil {
			t.Fatalf("link: %v", err)
		}
	}
	mustLink(pano.VarHFOV, 0, 1)
	mustLink(pano.VarHFOV, 0, 2)
	mustLink(pano.VarDistB, 1, 2)
	mustLink(pano.VarStack, 0, 2)
	_ = p.SetActive(1, false)
	_ = p.SetCtrlPoints([]pano.ControlPoint{
		{Image1: 0, X1: 10.5, Y1: 20.25, Image2: 1, X2: 3000.125, Y2: 21, Mode: pano.CPXY},
		{Image1: 1, X1: 1, Y1: 2, Image2: 2, X2: 3, Y2: 4, Mode: 3},
	})
	_ = p.AddMask(2, pano.Mask{Type: pano.MaskPositive, Points: []pano.Point{{1, 1}, {50, 1}, {50, 60.5}}})
	o := p.Options()
	o.Width, o.Height = 8000, 4000
	o.ROI = image.Rect(100, 200, 7900, 3800)
	o.Projection = pano.PanoCylindrical
	o.HFOV = 270.5
	o.OptimizeReference = 2
	o.ColorReference = 1
	o.Outputs = pano.OutputToggles{LDRBlended: true, HDRStacks: true}
	o.Blend = pano.BlendSeamOrder
	o.Interpolator = pano.InterpSinc256
	o.Gamma = 2.2
	o.FileFormat = pano.FormatJPEG
	o.JPEGQuality = 85
	p.SetOptions(o)
	_ = p.SetOptimizeVector(pano.OptimizeVector{
		pano.NewVarSet(pano.VarHFOV, pano.VarDistB),
		pano.NewVarSet(pano.VarYaw, pano.VarPitch, pano.VarRoll),
		0,
	})
	p.ChangeFinished()
	return p
}

func roundTrip(t *testing.T, p *pano.Panorama) *pano.Panorama {
	t.Helper()
	var buf bytes.Buffer
	if err := Write(&buf, p); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := Read(&buf, ReadOptions{})
	if err != nil {
		t.Fatalf("read: %v\n%s", err, buf.String())
	}
	return got
}

func TestRoundTrip(t *testing.T) {
	p := samplePanorama(t)
	got := roundTrip(t, p)
	if got.NumImages() != p.NumImages() {
		t.Fatalf("images = %d, want %d", got.NumImages(), p.NumImages())
	}
	for i := 0; i < p.NumImages(); i++ {
		want, _ := p.Image(i)
		have, _ := got.Image(i)
		if want.Vars != have.Vars {
			t.Fatalf("image %d vars differ:\n%v\n%v", i, want.Vars, have.Vars)
		}
		if want.Filename != have.Filename || want.Width != have.Width || want.Active != have.Active ||
			want.CropFactor != have.CropFactor || want.LensModel != have.LensModel ||
			want.Response != have.Response || want.FocalLength != have.FocalLength {
			t.Fatalf("image %d props differ:\n%+v\n%+v", i, want, have)
		}
		if len(want.Masks) != len(have.Masks) {
			t.Fatalf("image %d masks differ", i)
		}
	}
	for _, k := range pano.AllVars() {
		a, b := p.LinkClasses(k), got.LinkClasses(k)
		if len(a) != len(b) {
			t.Fatalf("%s partition %v, want %v", k, b, a)
		}
		for i := range a {
			if len(a[i]) != len(b[i]) {
				t.Fatalf("%s partition %v, want %v", k, b, a)
			}
			for j := range a[i] {
				if a[i][j] != b[i][j] {
					t.Fatalf("%s partition %v, want %v", k, b, a)
				}
			}
		}
	}
	wantCP, gotCP := p.CtrlPoints(), got.CtrlPoints()
	if len(wantCP) != len(gotCP) {
		t.Fatalf("control points %d, want %d", len(gotCP), len(wantCP))
	}
	for i := range wantCP {
		if wantCP[i] != gotCP[i] {
			t.Fatalf("control point %d = %+v, want %+v", i, gotCP[i], wantCP[i])
		}
	}
	wo, go2 := p.Options(), got.Options()
	if wo.Width != go2.Width || wo.Height != go2.Height || wo.ROI != go2.ROI ||
		wo.Projection != go2.Projection || wo.HFOV != go2.HFOV ||
		wo.OptimizeReference != go2.OptimizeReference || wo.ColorReference != go2.ColorReference ||
		wo.Outputs != go2.Outputs || wo.Blend != go2.Blend || wo.Interpolator != go2.Interpolator ||
		wo.Gamma != go2.Gamma || wo.FileFormat != go2.FileFormat || wo.JPEGQuality != go2.JPEGQuality {
		t.Fatalf("options differ:\n%+v\n%+v", wo, go2)
	}
	wv, gv := p.OptimizeVector(), got.OptimizeVector()
	for i := range wv {
		if wv[i] != gv[i] {
			t.Fatalf("optimize vector %d = %v, want %v", i, gv[i].Kinds(), wv[i].Kinds())
		}
	}
	if got.Dirty() {
		t.Fatalf("freshly loaded project should be clean")
	}
}

func TestWriteLinksAsReferences(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, samplePanorama(t)); err != nil {
		t.Fatalf("write: %v", err)
	}
	lines := strings.Split(buf.String(), "\n")
	var imgLines []string
	for _, l := range lines {
		if strings.HasPrefix(l, "i ") {
			imgLines = append(imgLines, l)
		}
	}
	if len(imgLines) != 3 {
		t.Fatalf("image lines = %d", len(imgLines))
	}
	if !strings.Contains(imgLines[0], " v73.5 ") {
		t.Fatalf("first lens member should carry the value: %s", imgLines[0])
	}
	if !strings.Contains(imgLines[2], " v=0 ") || !strings.Contains(imgLines[2], " b=1 ") {
		t.Fatalf("linked values should reference the first member: %s", imgLines[2])
	}
}

const legacyProject = `# hugin project file
p f2 w1000 h500 v360 k7 E0 R0 n"TIFF_m c:LZW"
m g1 i0

#-imgfile 640 480 "legacy.jpg"
#-imgfile 640 480 "second.jpg"
o f0 y10 p0 r0 v50 a0 b0 c0 n"ignored.jpg"
o f0 y20 p0 r0 v=0 a0 b0 c0
i w800 h600 f0 y15 n"real.jpg"

c n0 N1 x1 y2 X3 Y4 t0
c n0 N9 x1 y2 X3 Y4 t0
k i5 t0 p"1 1 5 1 5 5"
v y1 v0
v
`

func TestReadMergesRecords(t *testing.T) {
	p, err := Read(strings.NewReader(legacyProject), ReadOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if p.NumImages() != 2 {
		t.Fatalf("images = %d", p.NumImages())
	}
	a, _ := p.Image(0)
	if a.Filename != "real.jpg" || a.Width != 800 || a.Var(pano.VarYaw) != 15 || a.Var(pano.VarHFOV) != 50 {
		t.Fatalf("image 0 merged wrong: %+v", a)
	}
	b, _ := p.Image(1)
	if b.Filename != "second.jpg" || b.Width != 640 || b.Var(pano.VarYaw) != 20 {
		t.Fatalf("image 1 merged wrong: %+v", b)
	}
	if !p.IsLinkedWith(pano.VarHFOV, 0, 1) {
		t.Fatalf("o-line link lost")
	}
	if len(p.CtrlPoints()) != 1 {
		t.Fatalf("control point with unknown image should be dropped")
	}
	if p.Options().ColorReference != 0 {
		t.Fatalf("out of range colour reference should reset to 0")
	}
	vec := p.OptimizeVector()
	if !vec[1].Has(pano.VarYaw) || !vec[0].Has(pano.VarHFOV) {
		t.Fatalf("optimize vector = %v %v", vec[0].Kinds(), vec[1].Kinds())
	}
}

func TestReadRejectsLinkToUndefinedImage(t *testing.T) {
	src := "p f2 w100 h50 v360\ni w10 h10 f0 v50 n\"a.jpg\"\ni w10 h10 f0 v=4 n\"b.jpg\"\n"
	if _, err := Read(strings.NewReader(src), ReadOptions{}); !errors.Is(err, ErrLinkTarget) {
		t.Fatalf("expected ErrLinkTarget, got %v", err)
	}
}

func TestPTGuiLinkOffset(t *testing.T) {
	body := "p f2 w100 h50 v360\n" +
		"i w10 h10 f0 v50 y0 n\"a.jpg\"\n" +
		"i w10 h10 f0 v40 y5 n\"b.jpg\"\n" +
		"i w10 h10 f0 v=2 y=1 n\"c.jpg\"\n"
	old := "# ptGui project file\n#-fileversion 7\n" + body
	p, err := Read(strings.NewReader(old), ReadOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !p.IsLinkedWith(pano.VarHFOV, 1, 2) || !p.IsLinkedWith(pano.VarYaw, 0, 2) {
		t.Fatalf("old PTGui links should be offset by one")
	}
	if v, _ := p.Variable(2, pano.VarHFOV); v != 40 {
		t.Fatalf("hfov = %v, want 40", v)
	}

	current := "# ptGui project file\n#-fileversion 8\n" + body
	p, err = Read(strings.NewReader(current), ReadOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !p.IsLinkedWith(pano.VarYaw, 1, 2) {
		t.Fatalf("version 8 links must not be offset")
	}
}

func TestTokenize(t *testing.T) {
	toks, err := tokenize(` w3000 TrX-0.25 v=3 n"my file.jpg" Eev1e-05`)
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	want := []token{
		{key: "w", value: "3000"},
		{key: "TrX", value: "-0.25"},
		{key: "v", value: "=3"},
		{key: "n", value: "my file.jpg", quoted: true},
		{key: "Eev", value: "1e-05"},
	}
	if len(toks) != len(want) {
		t.Fatalf("tokens = %+v", toks)
	}
	for i := range want {
		if toks[i] != want[i] {
			t.Fatalf("token %d = %+v, want %+v", i, toks[i], want[i])
		}
	}
	if _, err := tokenize(` n"open`); err == nil {
		t.Fatalf("unterminated string accepted")
	}
}

func TestWriteFileReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "project.pto")
	if err := WriteFile(path, samplePanorama(t)); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err := ReadFile(path, ReadOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if p.NumImages() != 3 {
		t.Fatalf("images = %d", p.NumImages())
	}
}
