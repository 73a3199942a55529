package grpcserver

import (
	"context"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"panokit/internal/config"
	"panokit/internal/pano"
	"panokit/internal/pipeline"
	"panokit/internal/pto"
	"panokit/internal/storage"
)

type echoProcessor struct{}

func (echoProcessor) Process(ctx context.Context, job pipeline.Job) pipeline.Result {
	return pipeline.Result{Job: job, Meta: map[string]any{"rect": job.Options["rect"]}}
}

func dial(t *testing.T) (*grpc.ClientConn, *pipeline.Pipeline) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	pipe := pipeline.NewWithProcessor(context.Background(), 1, slog.Default(), store, echoProcessor{})

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	New(pipe, store, config.Default(), slog.Default()).Register(gs)
	go gs.Serve(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		gs.Stop()
		pipe.Stop()
		store.Close()
	})
	return conn, pipe
}

func TestHealth(t *testing.T) {
	conn, _ := dial(t)
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status = %v", resp.Status)
	}
}

func TestSubmitAndJob(t *testing.T) {
	conn, pipe := dial(t)
	results, unsub := pipe.Subscribe()
	defer unsub()
	c := NewClient(conn)
	ctx := context.Background()

	id, err := c.Submit(ctx, "findpoints", "a.pto", "", map[string]any{"rect": []any{1.0, 2.0, 3.0, 4.0}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case res := <-results:
		if res.Job.ID != id || res.Job.Type != pipeline.JobFindPoints {
			t.Fatalf("unexpected job %+v", res.Job)
		}
		rect, ok := res.Job.Options["rect"].([]any)
		if !ok || len(rect) != 4 {
			t.Fatalf("options = %v", res.Job.Options)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no result")
	}

	var job map[string]any
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err = c.Job(ctx, id)
		if err == nil && job["run"].(map[string]any)["status"] == "completed" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil || job["run"].(map[string]any)["status"] != "completed" {
		t.Fatalf("job = %v, %v", job, err)
	}
}

func TestErrorCodes(t *testing.T) {
	conn, _ := dial(t)
	c := NewClient(conn)
	ctx := context.Background()
	tests := []struct {
		name string
		call func() error
		want codes.Code
	}{
		{"bad type", func() error { _, err := c.Submit(ctx, "timelapse", "a.pto", "", nil); return err }, codes.InvalidArgument},
		{"no project", func() error { _, err := c.Submit(ctx, "info", "", "", nil); return err }, codes.InvalidArgument},
		{"missing file", func() error { _, err := c.Project(ctx, filepath.Join(t.TempDir(), "none.pto")); return err }, codes.NotFound},
		{"unknown job", func() error { _, err := c.Job(ctx, "nope"); return err }, codes.NotFound},
	}
	for _, tc := range tests {
		if got := status.Code(tc.call()); got != tc.want {
			t.Fatalf("%s: code = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestProject(t *testing.T) {
	conn, _ := dial(t)
	p := pano.New()
	o := pano.DefaultOptions()
	o.Width, o.Height = 360, 180
	o.ROI = o.Canvas()
	p.SetOptions(o)
	img := pano.NewSrcImage("a.png", 180, 180)
	img.Projection = pano.ProjEquirectangular
	img.Vars[pano.VarHFOV] = 180
	p.AddImage(img)
	path := filepath.Join(t.TempDir(), "p.pto")
	if err := pto.WriteFile(path, p); err != nil {
		t.Fatalf("write: %v", err)
	}
	info, err := NewClient(conn).Project(context.Background(), path)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if info["canvas"] != "360x180" {
		t.Fatalf("info = %v", info)
	}
	if images := info["images"].([]any); len(images) != 1 {
		t.Fatalf("images = %v", images)
	}
}
