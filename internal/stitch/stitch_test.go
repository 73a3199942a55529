package stitch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"reflect"
	"testing"

	"panokit/internal/codec"
	"panokit/internal/pano"
)

type solidDecoder map[string]uint8

func (d solidDecoder) Decode(path string) (image.Image, error) {
	v, ok := d[path]
	if !ok {
		return nil, fmt.Errorf("no such image %s", path)
	}
	img := image.NewGray(image.Rect(0, 0, 180, 180))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img, nil
}

type recordingEncoder struct {
	files map[string]image.Image
}

func (e *recordingEncoder) Encode(path string, img image.Image, o codec.Options) error {
	e.files[path] = img
	return nil
}

type fakePages struct {
	path   string
	pages  []image.Rectangle
	canvas image.Rectangle
	closed bool
}

func (f *fakePages) AddPage(img image.Image, canvas image.Rectangle) error {
	f.pages = append(f.pages, img.Bounds())
	f.canvas = canvas
	return nil
}

func (f *fakePages) Close() error {
	f.closed = true
	return nil
}

func twoImagePano() *pano.Panorama {
	p := pano.New()
	o := pano.DefaultOptions()
	o.Width, o.Height = 360, 180
	o.ROI = o.Canvas()
	o.Interpolator = pano.InterpNearest
	o.FileFormat = pano.FormatPNG
	p.SetOptions(o)
	for k, yaw := range []float64{-45, 45} {
		img := pano.NewSrcImage([]string{"a.png", "b.png"}[k], 180, 180)
		img.Projection = pano.ProjEquirectangular
		img.Response = pano.ResponseLinear
		img.Vars[pano.VarHFOV] = 180
		img.Vars[pano.VarYaw] = yaw
		p.AddImage(img)
	}
	return p
}

func newTestStitcher(p *pano.Panorama) (*Stitcher, *recordingEncoder) {
	enc := &recordingEncoder{files: map[string]image.Image{}}
	s := New(p, Config{
		Decoder: solidDecoder{"a.png": 100, "b.png": 200},
		Encoder: enc,
		Workers: 4,
	})
	s.CalcOutputROIs()
	return s, enc
}

func grey(t *testing.T, img image.Image, x, y int) (uint8, uint8) {
	t.Helper()
	c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
	return c.R, c.A
}

func TestBlendModes(t *testing.T) {
	tests := []struct {
		mode    pano.BlendMode
		overlap uint8
	}{
		{pano.BlendHardSeam, 200},
		{pano.BlendSeamOrder, 200},
		{pano.BlendWeighted, 150},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			s, enc := newTestStitcher(twoImagePano())
			arts, err := s.Stitch(context.Background(), Request{Kind: KindBlend, Blend: tt.mode, Base: "out", Format: pano.FormatPNG})
			if err != nil {
				t.Fatalf("stitch: %v", err)
			}
			if len(arts) != 1 || arts[0].Path != "out.png" || !reflect.DeepEqual(arts[0].Images, []int{0, 1}) {
				t.Fatalf("artifacts = %+v", arts)
			}
			img := enc.files["out.png"]
			if v, a := grey(t, img, 100, 90); v != 100 || a != 255 {
				t.Fatalf("single coverage = %d/%d", v, a)
			}
			if v, _ := grey(t, img, 180, 90); v != tt.overlap {
				t.Fatalf("overlap = %d, want %d", v, tt.overlap)
			}
			if _, a := grey(t, img, 10, 90); a != 0 {
				t.Fatalf("uncovered pixel has alpha %d", a)
			}
		})
	}
}

func TestStitchDeterministic(t *testing.T) {
	var outs [][]byte
	for run := 0; run < 2; run++ {
		s, enc := newTestStitcher(twoImagePano())
		if _, err := s.Stitch(context.Background(), Request{Kind: KindBlend, Blend: pano.BlendHardSeam, Base: "out", Format: pano.FormatPNG}); err != nil {
			t.Fatalf("stitch: %v", err)
		}
		outs = append(outs, enc.files["out.png"].(*image.NRGBA).Pix)
	}
	if !bytes.Equal(outs[0], outs[1]) {
		t.Fatalf("two runs differ")
	}
}

func TestSeamOrder(t *testing.T) {
	cells := map[int][]int{0: {8, 9}, 1: {0, 1, 2, 3}, 2: {3, 4, 5}, 3: {2, 3, 6}}
	cov := func(i int) ([]bool, int) {
		m := make([]bool, 10)
		for _, c := range cells[i] {
			m[c] = true
		}
		return m, 10
	}
	if got := SeamOrder(cov, []int{0, 1, 2, 3}); !reflect.DeepEqual(got, []int{1, 3, 2, 0}) {
		t.Fatalf("order = %v", got)
	}
}

func TestReduceDifference(t *testing.T) {
	s, enc := newTestStitcher(twoImagePano())
	if _, err := s.Stitch(context.Background(), Request{Kind: KindReduce, Reduce: ReduceDifference, Base: "diff", Format: pano.FormatPNG}); err != nil {
		t.Fatalf("stitch: %v", err)
	}
	img := enc.files["diff.png"]
	if v, _ := grey(t, img, 180, 90); v != 50 {
		t.Fatalf("overlap deviation = %d, want 50", v)
	}
	if v, a := grey(t, img, 60, 90); v != 0 || a != 255 {
		t.Fatalf("single image deviation = %d/%d", v, a)
	}
}

func TestReduceHDRNormalised(t *testing.T) {
	s, enc := newTestStitcher(twoImagePano())
	if _, err := s.Stitch(context.Background(), Request{Kind: KindReduce, Reduce: ReduceHDR, LDR: true, Base: "fused", Format: pano.FormatPNG}); err != nil {
		t.Fatalf("stitch: %v", err)
	}
	img := enc.files["fused.png"]
	if v, _ := grey(t, img, 60, 90); v != 0 {
		t.Fatalf("darkest = %d", v)
	}
	if v, _ := grey(t, img, 300, 90); v != 255 {
		t.Fatalf("brightest = %d", v)
	}
}

func TestReduceHDRWritesRadiance(t *testing.T) {
	s, enc := newTestStitcher(twoImagePano())
	if _, err := s.Stitch(context.Background(), Request{Kind: KindReduce, Reduce: ReduceHDR, Base: "pano_hdr", Format: pano.FormatHDR}); err != nil {
		t.Fatalf("stitch: %v", err)
	}
	img, ok := enc.files["pano_hdr.hdr"]
	if !ok {
		t.Fatalf("no hdr written: %v", enc.files)
	}
	if img.Bounds() != image.Rect(0, 0, 360, 180) {
		t.Fatalf("hdr bounds = %v", img.Bounds())
	}
}

func TestLayerFiles(t *testing.T) {
	for _, crop := range []bool{true, false} {
		p := twoImagePano()
		o := p.Options()
		o.CropLayers = crop
		p.SetOptions(o)
		s, enc := newTestStitcher(p)
		arts, err := s.Stitch(context.Background(), Request{Kind: KindLayers, Base: "layer", Format: pano.FormatPNG})
		if err != nil {
			t.Fatalf("stitch: %v", err)
		}
		if len(arts) != 2 || arts[1].Path != LayerPath("layer", 1, pano.FormatPNG) || arts[1].Path != "layer0001.png" {
			t.Fatalf("artifacts = %+v", arts)
		}
		want := image.Rect(45, 0, 225, 180)
		if !crop {
			want = image.Rect(0, 0, 360, 180)
		}
		if arts[0].Rect != want || arts[0].Canvas != image.Rect(0, 0, 360, 180) {
			t.Fatalf("crop=%v placement = %v on %v", crop, arts[0].Rect, arts[0].Canvas)
		}
		if got := enc.files["layer0000.png"].Bounds().Size(); got != want.Size() {
			t.Fatalf("crop=%v layer size = %v", crop, got)
		}
	}
}

func TestMultiLayerTIFF(t *testing.T) {
	p := twoImagePano()
	pages := &fakePages{}
	s := New(p, Config{
		Decoder: solidDecoder{"a.png": 100, "b.png": 200},
		Encoder: &recordingEncoder{files: map[string]image.Image{}},
		Pages: func(path string, o pano.Options) (PageWriter, error) {
			pages.path = path
			return pages, nil
		},
	})
	arts, err := s.Stitch(context.Background(), Request{Kind: KindLayers, Base: "stack", Format: pano.FormatTIFFMultilayer})
	if err != nil {
		t.Fatalf("stitch: %v", err)
	}
	if pages.path != "stack.tif" || !pages.closed || len(arts) != 1 {
		t.Fatalf("page writer not used: %+v", pages)
	}
	want := []image.Rectangle{image.Rect(45, 0, 225, 180), image.Rect(135, 0, 315, 180)}
	if !reflect.DeepEqual(pages.pages, want) || pages.canvas != image.Rect(0, 0, 360, 180) {
		t.Fatalf("pages = %v on %v", pages.pages, pages.canvas)
	}
}

func TestFormatErrors(t *testing.T) {
	s, _ := newTestStitcher(twoImagePano())
	for _, f := range []pano.FileFormat{pano.FormatTIFFMask, pano.FormatTIFFMultilayerMask} {
		if _, err := s.Stitch(context.Background(), Request{Kind: KindLayers, Base: "x", Format: f}); !errors.Is(err, ErrUnimplementedFormat) {
			t.Fatalf("%s: expected ErrUnimplementedFormat, got %v", f, err)
		}
	}
	if _, err := s.Stitch(context.Background(), Request{Kind: KindLayers, Base: "x", Format: pano.FormatTIFFMultilayer}); !errors.Is(err, ErrNoPageWriter) {
		t.Fatalf("expected ErrNoPageWriter, got %v", err)
	}
}

func TestImageOutsideROIDropped(t *testing.T) {
	p := twoImagePano()
	o := p.Options()
	o.ROI = image.Rect(45, 0, 130, 180)
	p.SetOptions(o)
	broken := pano.NewSrcImage("c.png", 0, 0)
	p.AddImage(broken)
	s, enc := newTestStitcher(p)
	if got := s.UsedImages(); !reflect.DeepEqual(got, []int{0}) {
		t.Fatalf("used = %v", got)
	}
	if _, err := s.Stitch(context.Background(), Request{Kind: KindBlend, Base: "roi", Format: pano.FormatPNG}); err != nil {
		t.Fatalf("stitch: %v", err)
	}
	if got := enc.files["roi.png"].Bounds().Size(); got != image.Pt(85, 180) {
		t.Fatalf("output size = %v", got)
	}
}

func TestCancelledStitch(t *testing.T) {
	s, _ := newTestStitcher(twoImagePano())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Stitch(ctx, Request{Kind: KindBlend, Base: "x", Format: pano.FormatPNG}); err == nil {
		t.Fatalf("expected cancellation")
	}
}

func TestRequestsFromOptions(t *testing.T) {
	p := twoImagePano()
	p.SetVariable(1, pano.VarExposure, 2)
	o := p.Options()
	o.Outputs = pano.OutputToggles{LDRBlended: true, LDRLayers: true, HDRBlended: true, HDRStacks: true}
	p.SetOptions(o)
	reqs := RequestsFromOptions(p, "/tmp/pano", 0.3)
	var got []string
	for _, r := range reqs {
		got = append(got, fmt.Sprintf("%s %s %s", r.Kind, r.Base, r.Format))
	}
	want := []string{
		"blend /tmp/pano PNG",
		"layers /tmp/pano PNG",
		"reduce /tmp/pano_hdr HDR",
		"reduce /tmp/pano_stack_hdr_0000 HDR",
		"reduce /tmp/pano_stack_hdr_0001 HDR",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("requests = %v", got)
	}
	if !reflect.DeepEqual(reqs[3].Images, []int{0}) || !reflect.DeepEqual(reqs[4].Images, []int{1}) {
		t.Fatalf("stack images = %v %v", reqs[3].Images, reqs[4].Images)
	}
}
