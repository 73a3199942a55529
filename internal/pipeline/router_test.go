package pipeline

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"panokit/internal/config"
	"panokit/internal/pano"
	"panokit/internal/pto"
	"panokit/internal/stitch"
	"panokit/internal/storage"
	"panokit/internal/tasks"
)

func writeProject(t *testing.T) string {
	t.Helper()
	p := pano.New()
	o := pano.DefaultOptions()
	o.Width, o.Height = 360, 180
	o.ROI = o.Canvas()
	p.SetOptions(o)
	for _, yaw := range []float64{-45, 45} {
		img := pano.NewSrcImage("img.png", 180, 180)
		img.Projection = pano.ProjEquirectangular
		img.Vars[pano.VarHFOV] = 180
		img.Vars[pano.VarYaw] = yaw
		p.AddImage(img)
	}
	path := filepath.Join(t.TempDir(), "pano.pto")
	if err := pto.WriteFile(path, p); err != nil {
		t.Fatalf("write project: %v", err)
	}
	return path
}

func TestRouterStitchPassesOptions(t *testing.T) {
	var got tasks.StitchRequest
	r := &router{
		log: slog.Default(),
		cfg: config.Default(),
		stitchFn: func(ctx context.Context, req tasks.StitchRequest) (tasks.StitchResult, error) {
			got = req
			return tasks.StitchResult{
				Artifacts: []stitch.Artifact{{Path: "out.tif", Rect: image.Rect(0, 0, 10, 10), Images: []int{0, 1}, Bytes: 42}},
				Used:      []int{0, 1},
			}, nil
		},
	}
	job := Job{ID: "s-1", Type: JobStitch, InputPath: "pano.pto", Output: "/tmp/out", Options: map[string]any{"blend": "weighted"}}
	res := r.Process(context.Background(), job)
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	if got.Project != "pano.pto" || got.Prefix != "/tmp/out" || got.JobID != "s-1" || got.Overrides == nil {
		t.Fatalf("unexpected request %+v", got)
	}
	o := pano.DefaultOptions()
	got.Overrides(&o)
	if o.Blend != pano.BlendWeighted {
		t.Fatalf("blend override = %v", o.Blend)
	}
	arts := res.Meta["artifacts"].([]map[string]any)
	if len(arts) != 1 || arts[0]["path"] != "out.tif" || arts[0]["size"] != int64(42) {
		t.Fatalf("unexpected artifacts %v", arts)
	}
}

func TestRouterStitchRejectsBlend(t *testing.T) {
	r := &router{log: slog.Default(), cfg: config.Default(), stitchFn: func(ctx context.Context, req tasks.StitchRequest) (tasks.StitchResult, error) {
		t.Fatalf("stitch should not run")
		return tasks.StitchResult{}, nil
	}}
	res := r.Process(context.Background(), Job{Type: JobStitch, Options: map[string]any{"blend": "multiband"}})
	if res.Error == nil {
		t.Fatalf("expected error for unknown blend")
	}
}

func TestRouterOptimalROIWritesProject(t *testing.T) {
	project := writeProject(t)
	out := filepath.Join(t.TempDir(), "cropped.pto")
	r := newRouter(slog.Default(), nil, config.Default())
	res := r.Process(context.Background(), Job{Type: JobOptimalROI, InputPath: project, Output: out})
	if res.Error != nil {
		t.Fatalf("optimal roi: %v", res.Error)
	}
	if res.Meta["roi"] != image.Rect(45, 0, 315, 180).String() {
		t.Fatalf("roi = %v", res.Meta["roi"])
	}
	p, err := pto.ReadFile(out, pto.ReadOptions{})
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if got := p.Options().ROI; got != image.Rect(45, 0, 315, 180) {
		t.Fatalf("written roi = %v", got)
	}
}

func TestRouterInfo(t *testing.T) {
	project := writeProject(t)
	r := newRouter(slog.Default(), nil, config.Default())
	res := r.Process(context.Background(), Job{Type: JobInfo, InputPath: project})
	if res.Error != nil {
		t.Fatalf("info: %v", res.Error)
	}
	if res.Meta["canvas"] != "360x180" || res.Meta["controlPoints"] != 0 {
		t.Fatalf("meta = %v", res.Meta)
	}
	images := res.Meta["images"].([]map[string]any)
	if len(images) != 2 || images[1]["roi"] != image.Rect(135, 0, 315, 180).String() {
		t.Fatalf("images = %v", images)
	}
}

func TestRouterUnknownJob(t *testing.T) {
	r := newRouter(slog.Default(), nil, config.Default())
	if res := r.Process(context.Background(), Job{Type: "timelapse"}); res.Error == nil {
		t.Fatalf("expected error for unknown job type")
	}
}

func TestGetRectOption(t *testing.T) {
	tests := []struct {
		in   any
		want image.Rectangle
		ok   bool
	}{
		{[]int{1, 2, 3, 4}, image.Rect(1, 2, 3, 4), true},
		{[]any{1.0, 2.0, 30.0, 40.0}, image.Rect(1, 2, 30, 40), true},
		{[]any{"a"}, image.Rectangle{}, false},
		{nil, image.Rectangle{}, false},
	}
	for _, tc := range tests {
		got, ok := getRectOption(map[string]any{"rect": tc.in}, "rect")
		if got != tc.want || ok != tc.ok {
			t.Fatalf("getRectOption(%v) = %v, %v", tc.in, got, ok)
		}
	}
}

type stubProcessor struct {
	err error
}

func (s stubProcessor) Process(ctx context.Context, job Job) Result {
	return Result{Job: job, Error: s.err, Meta: map[string]any{"ok": s.err == nil}}
}

func TestPipelineRecordsAndBroadcasts(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer store.Close()
	p := NewWithProcessor(context.Background(), 1, slog.Default(), store, stubProcessor{err: errors.New("boom")})
	defer p.Stop()
	results, unsub := p.Subscribe()
	defer unsub()

	if err := p.Submit(Job{ID: "j1", Type: JobInfo, InputPath: "a.pto"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case res := <-results:
		if res.Job.ID != "j1" || res.Error == nil {
			t.Fatalf("unexpected result %+v", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no result")
	}
	var rec storage.RunRecord
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, err = store.Run("j1")
		if err == nil && rec.Status == "failed" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if rec.Status != "failed" || rec.Error != "boom" {
		t.Fatalf("record = %+v, %v", rec, err)
	}
}

func TestOutputOverrides(t *testing.T) {
	tests := []struct {
		name    string
		opts    map[string]any
		wantErr bool
		check   func(o pano.Options) bool
	}{
		{"none", nil, false, nil},
		{"format and quality", map[string]any{"format": "jpeg", "jpegQuality": 75.0}, false, func(o pano.Options) bool {
			return o.FileFormat == pano.FormatJPEG && o.JPEGQuality == 75
		}},
		{"interpolator", map[string]any{"interpolator": "nearest", "compression": "DEFLATE"}, false, func(o pano.Options) bool {
			return o.Interpolator == pano.InterpNearest && o.Compression == "DEFLATE"
		}},
		{"bad format", map[string]any{"format": "webp"}, true, nil},
		{"bad quality", map[string]any{"jpegQuality": 101}, true, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fn, err := outputOverrides(tc.opts)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v", err)
			}
			if tc.check == nil {
				if fn != nil && !tc.wantErr {
					t.Fatalf("expected no override")
				}
				return
			}
			o := pano.DefaultOptions()
			fn(&o)
			if !tc.check(o) {
				t.Fatalf("unexpected options %+v", o)
			}
		})
	}
}

type panicProcessor struct{}

func (panicProcessor) Process(ctx context.Context, job Job) Result {
	panic("corrupt layer")
}

func TestPipelinePanicBecomesError(t *testing.T) {
	p := NewWithProcessor(context.Background(), 1, slog.Default(), nil, panicProcessor{})
	defer p.Stop()
	results, unsub := p.Subscribe()
	defer unsub()

	if err := p.Submit(Job{ID: "p1", Type: JobStitch, InputPath: "a.pto"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case res := <-results:
		if res.Job.ID != "p1" || res.Error == nil || !strings.Contains(res.Error.Error(), "corrupt layer") {
			t.Fatalf("unexpected result %+v", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no result")
	}
}

func TestPipelineSubmitAfterStop(t *testing.T) {
	p := NewWithProcessor(context.Background(), 1, slog.Default(), nil, stubProcessor{})
	p.Stop()
	if err := p.Submit(Job{ID: "late", Type: JobInfo}); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
	ch, unsub := p.Subscribe()
	defer unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("subscription after stop should be closed")
	}
}
