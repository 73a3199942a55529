package storage

import (
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"panokit/internal/pano"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "panokit.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := openStore(t)
	if err := s.RecordRunQueued(RunRecord{ID: "r1", JobType: "stitch", Status: "queued", ProjectPath: "a.pto", OutputPath: "out"}); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := s.RecordRunStart("r1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.RecordRunResult("r1", "completed", map[string]any{"artifacts": 2}, ""); err != nil {
		t.Fatalf("result: %v", err)
	}
	rec, err := s.Run("r1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rec.Status != "completed" || rec.ProjectPath != "a.pto" || rec.StartedAt == nil || rec.CompletedAt == nil {
		t.Fatalf("unexpected record %+v", rec)
	}
	meta, err := s.RunMeta("r1")
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	if meta["artifacts"] != float64(2) {
		t.Fatalf("meta = %v", meta)
	}
	recs, err := s.RecentRuns(10)
	if err != nil || len(recs) != 1 {
		t.Fatalf("recent runs = %v, %v", recs, err)
	}
}

func TestNilStoreIsNoop(t *testing.T) {
	var s *Store
	if err := s.RecordRunQueued(RunRecord{ID: "x"}); err != nil {
		t.Fatalf("nil store queue: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("nil store close: %v", err)
	}
	if _, err := s.Lookup("lens", 10); err == nil {
		t.Fatalf("expected error from nil store lookup")
	}
}

const lenses = `
lenses:
  - lens: "Zoom 10-20"
    focal: 10
    hfov: 100
    distortion: [0, -0.02, 0]
    vignetting: [1, -0.4, 0, 0]
  - lens: "Zoom 10-20"
    focal: 20
    hfov: 60
    distortion: [0, -0.01, 0]
    vignetting: [1, -0.2, 0, 0]
    tca_red: [0, 0, 0, 1.001]
    tca_blue: [0, 0, 0, 0.999]
`

func TestImportAndLookup(t *testing.T) {
	s := openStore(t)
	n, err := s.ImportLenses(strings.NewReader(lenses))
	if err != nil || n != 2 {
		t.Fatalf("import = %d, %v", n, err)
	}

	tests := []struct {
		focal   float64
		distB   float64
		vigB    float64
		hasTCA  bool
		hfov    float64
		comment string
	}{
		{10, -0.02, -0.4, false, 100, "exact low"},
		{20, -0.01, -0.2, true, 60, "exact high"},
		{15, -0.015, -0.3, false, 80, "midpoint"},
		{5, -0.02, -0.4, false, 100, "below range"},
		{30, -0.01, -0.2, true, 60, "above range"},
	}
	for _, tc := range tests {
		c, err := s.Lookup("Zoom 10-20", tc.focal)
		if err != nil {
			t.Fatalf("%s: lookup: %v", tc.comment, err)
		}
		if math.Abs(c.DistB-tc.distB) > 1e-9 || math.Abs(c.VigB-tc.vigB) > 1e-9 || math.Abs(c.HFOV-tc.hfov) > 1e-9 {
			t.Fatalf("%s: got %+v", tc.comment, c)
		}
		if c.HasTCA != tc.hasTCA {
			t.Fatalf("%s: tca = %v", tc.comment, c.HasTCA)
		}
	}

	if _, err := s.Lookup("Prime 50", 50); !errors.Is(err, ErrLensNotFound) {
		t.Fatalf("expected ErrLensNotFound, got %v", err)
	}
}

func TestImportRejectsBadEntry(t *testing.T) {
	s := openStore(t)
	bad := "lenses:\n  - lens: broken\n    focal: 10\n    distortion: [1, 2]\n"
	if _, err := s.ImportLenses(strings.NewReader(bad)); err == nil {
		t.Fatalf("expected error for short distortion list")
	}
}

func TestCalibrationApply(t *testing.T) {
	s := openStore(t)
	if _, err := s.ImportLenses(strings.NewReader(lenses)); err != nil {
		t.Fatalf("import: %v", err)
	}
	c, err := s.Lookup("Zoom 10-20", 20)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	img := pano.NewSrcImage("a.jpg", 100, 100)
	c.Apply(&img)
	if img.Var(pano.VarDistB) != -0.01 || img.Var(pano.VarHFOV) != 60 || img.VigMode != pano.VigRadial {
		t.Fatalf("calibration not applied: %+v", img.Vars)
	}
	if !img.HasTCA() {
		t.Fatalf("expected tca coefficients")
	}
}
