package cli

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"panokit/internal/config"
	"panokit/internal/pipeline"
	"panokit/internal/pto"
	"panokit/internal/storage"
)

type fakePipeline struct {
	mu      sync.Mutex
	jobs    []pipeline.Job
	subs    []chan pipeline.Result
	respond func(job pipeline.Job) pipeline.Result
}

func (f *fakePipeline) Submit(job pipeline.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	res := pipeline.Result{Job: job, Meta: map[string]any{}}
	if f.respond != nil {
		res = f.respond(job)
		res.Job = job
	}
	for _, ch := range f.subs {
		ch <- res
	}
	return nil
}

func (f *fakePipeline) Subscribe() (<-chan pipeline.Result, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan pipeline.Result, 4)
	f.subs = append(f.subs, ch)
	return ch, func() {}
}

func newTestRoot(t *testing.T) (*Root, *fakePipeline) {
	t.Helper()
	fake := &fakePipeline{}
	root := NewRoot(nil, config.Default(), slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	root.pipeline = fake
	root.magickVersion = func() string { return "" }
	return root, fake
}

func run(t *testing.T, root *Root, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(root)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandsSubmitJobs(t *testing.T) {
	cases := []struct {
		name    string
		args    []string
		jobType pipeline.JobType
		output  string
		option  string
		want    any
	}{
		{"stitch", []string{"stitch", "a.pto", "-o", "out/pano", "--blend", "hardseam", "--jpeg-quality", "80"}, pipeline.JobStitch, "out/pano", "blend", "hardseam"},
		{"stitch quality", []string{"stitch", "a.pto", "--jpeg-quality", "80"}, pipeline.JobStitch, "", "jpegQuality", 80},
		{"info", []string{"info", "a.pto"}, pipeline.JobInfo, "", "", nil},
		{"roi", []string{"roi", "a.pto", "--stacks", "-o", "b.pto"}, pipeline.JobOptimalROI, "b.pto", "stacks", true},
		{"findpoints", []string{"findpoints", "a.pto", "--rect", "1,2,30,40"}, pipeline.JobFindPoints, "", "rect", []int{1, 2, 30, 40}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			root, fake := newTestRoot(t)
			if _, err := run(t, root, tc.args...); err != nil {
				t.Fatalf("run failed: %v", err)
			}
			if len(fake.jobs) != 1 {
				t.Fatalf("expected one job, got %d", len(fake.jobs))
			}
			job := fake.jobs[0]
			if job.Type != tc.jobType || job.InputPath != "a.pto" || job.Output != tc.output {
				t.Fatalf("unexpected job %+v", job)
			}
			if job.ID == "" {
				t.Fatalf("missing job id")
			}
			if tc.option != "" && !reflect.DeepEqual(job.Options[tc.option], tc.want) {
				t.Fatalf("option %s = %#v, want %#v", tc.option, job.Options[tc.option], tc.want)
			}
		})
	}
}

func TestFindPointsRejectsShortRect(t *testing.T) {
	root, fake := newTestRoot(t)
	if _, err := run(t, root, "findpoints", "a.pto", "--rect", "1,2"); err == nil {
		t.Fatalf("expected error for two-value rect")
	}
	if len(fake.jobs) != 0 {
		t.Fatalf("no job should be submitted")
	}
}

func TestStitchPrintsArtifacts(t *testing.T) {
	root, fake := newTestRoot(t)
	fake.respond = func(job pipeline.Job) pipeline.Result {
		return pipeline.Result{Meta: map[string]any{"artifacts": []map[string]any{
			{"path": "out/pano.tif", "rect": "(0,0)-(10,10)", "size": int64(2048)},
		}}}
	}
	out, err := run(t, root, "stitch", "a.pto")
	if err != nil {
		t.Fatalf("stitch: %v", err)
	}
	if !strings.Contains(out, "out/pano.tif") || !strings.Contains(out, "2.0 kB") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestJobErrorsPropagate(t *testing.T) {
	root, fake := newTestRoot(t)
	fake.respond = func(job pipeline.Job) pipeline.Result {
		return pipeline.Result{Error: errors.New("decode failed")}
	}
	if _, err := run(t, root, "info", "a.pto"); err == nil || err.Error() != "decode failed" {
		t.Fatalf("err = %v", err)
	}
}

func TestROIEmptyIsError(t *testing.T) {
	root, fake := newTestRoot(t)
	fake.respond = func(job pipeline.Job) pipeline.Result {
		return pipeline.Result{Meta: map[string]any{"empty": true, "roi": "(0,0)-(0,0)"}}
	}
	if _, err := run(t, root, "roi", "a.pto"); err == nil {
		t.Fatalf("expected error for empty roi")
	}
}

func TestServeCommandsUseInjectedFunctions(t *testing.T) {
	root, _ := newTestRoot(t)
	var httpAddr, grpcAddr string
	root.serveFn = func(ctx context.Context, addr string, store *storage.Store, pipe pipelineClient, cfg *config.Config, log *slog.Logger) error {
		httpAddr = addr
		return nil
	}
	root.grpcFn = func(ctx context.Context, addr string, store *storage.Store, pipe pipelineClient, cfg *config.Config, log *slog.Logger) error {
		grpcAddr = addr
		return nil
	}
	if _, err := run(t, root, "serve", "--addr", ":9999"); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if _, err := run(t, root, "grpc"); err != nil {
		t.Fatalf("grpc: %v", err)
	}
	if httpAddr != ":9999" || grpcAddr != root.cfg.Server.GRPCAddr {
		t.Fatalf("addrs = %q, %q", httpAddr, grpcAddr)
	}
}

const lensYAML = `lenses:
  - lens: "Prime 8"
    focal: 8
    hfov: 150
    distortion: [0, -0.01, 0]
    vignetting: [1, -0.3, 0, 0]
`

func TestLensCommands(t *testing.T) {
	root, _ := newTestRoot(t)
	if _, err := run(t, root, "lens", "lookup", "Prime 8", "8"); err == nil {
		t.Fatalf("expected error without a store")
	}

	store, err := storage.New(filepath.Join(t.TempDir(), "lens.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer store.Close()
	root.store = store

	file := filepath.Join(t.TempDir(), "lenses.yaml")
	if err := os.WriteFile(file, []byte(lensYAML), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	out, err := run(t, root, "lens", "import", file)
	if err != nil || !strings.Contains(out, "imported 1") {
		t.Fatalf("import: %q, %v", out, err)
	}
	out, err = run(t, root, "lens", "lookup", "Prime 8", "8")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !strings.Contains(out, "hfov: 150") || !strings.Contains(out, "vignetting: 1 -0.3 0 0") {
		t.Fatalf("unexpected lookup output %q", out)
	}
	if _, err := run(t, root, "lens", "lookup", "Prime 8", "eight"); err == nil {
		t.Fatalf("expected error for bad focal length")
	}
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewGray(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode: %v", err)
	}
}

func TestNewProjectFromDirectory(t *testing.T) {
	root, _ := newTestRoot(t)
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 100, 80)
	writePNG(t, filepath.Join(dir, "b.png"), 100, 80)
	project := filepath.Join(t.TempDir(), "new.pto")

	out, err := run(t, root, "new", dir, "-o", project)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !strings.Contains(out, "2 images, 720x360") {
		t.Fatalf("unexpected output %q", out)
	}
	p, err := pto.ReadFile(project, pto.ReadOptions{})
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if p.NumImages() != 2 {
		t.Fatalf("images = %d", p.NumImages())
	}

	out, err = run(t, root, "stacks", project)
	if err != nil {
		t.Fatalf("stacks: %v", err)
	}
	if !strings.Contains(out, `"possibleStacks": false`) {
		t.Fatalf("unexpected stacks output %q", out)
	}
}

func TestConfigShowAndVersion(t *testing.T) {
	root, _ := newTestRoot(t)
	out, err := run(t, root, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, `"ev_tolerance": 0.3`) {
		t.Fatalf("unexpected config output %q", out)
	}

	root.magickVersion = func() string { return "ImageMagick 7.1.1-21" }
	out, err = run(t, root, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "panokit v"+Version) || !strings.Contains(out, "ImageMagick 7.1.1-21") {
		t.Fatalf("unexpected version output %q", out)
	}
}
