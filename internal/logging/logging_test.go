package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestTraditionalHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info", "plain")
	log.With("job", "stitch-1").WithGroup("roi").Info("cropped", "width", 640)
	log.Debug("hidden")

	out := buf.String()
	if !strings.Contains(out, "[INFO] cropped [job=stitch-1 roi.width=640]") {
		t.Fatalf("unexpected record %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug record written at info level: %q", out)
	}
}

func TestJobHelpersSkipNestedValues(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "debug", "plain")
	LogJobComplete(log, "stitch", "s-1", 1500*time.Millisecond, map[string]any{
		"roi":       "(0,0)-(10,10)",
		"artifacts": []map[string]any{{"path": "a.tif"}},
	})
	LogJobError(log, "info", "i-1", time.Second, errors.New("decode failed"), nil)

	out := buf.String()
	if !strings.Contains(out, "result.roi=(0,0)-(10,10)") || strings.Contains(out, "a.tif") {
		t.Fatalf("unexpected completion record %q", out)
	}
	if !strings.Contains(out, "[ERROR] job failed") || !strings.Contains(out, "error=decode failed") {
		t.Fatalf("unexpected error record %q", out)
	}
}

func TestFormats(t *testing.T) {
	cases := []struct {
		format string
		want   string
	}{
		{"json", `"msg":"hello"`},
		{"text", "msg=hello"},
		{"plain", "[WARN] hello"},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		New(&buf, "warn", tc.format).Warn("hello")
		if !strings.Contains(buf.String(), tc.want) {
			t.Fatalf("%s: %q missing %q", tc.format, buf.String(), tc.want)
		}
	}
}

func TestOpenDailyFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	day := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	f, err := openDailyFile(dir, day)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	if filepath.Base(f.Name()) != "panokit-2024-03-09.log" {
		t.Fatalf("unexpected file %s", f.Name())
	}
	if _, err := os.Lstat(filepath.Join(dir, "panokit-current.log")); err != nil {
		t.Fatalf("current link: %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("WARNING") != slog.LevelWarn || parseLevel("bogus") != slog.LevelInfo {
		t.Fatalf("unexpected level mapping")
	}
}
