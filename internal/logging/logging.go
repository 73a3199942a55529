package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"panokit/internal/config"
)

// New returns a logger writing to w. level is debug, info, warn or error;
// format is "json", "text" or "plain" (the bracketed TraditionalHandler).
func New(w io.Writer, level, format string) *slog.Logger {
	lvl := parseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts))
	case "text":
		return slog.New(slog.NewTextHandler(w, opts))
	default:
		return slog.New(NewTraditionalHandler(w, lvl))
	}
}

// Setup configures the process logger from cfg and installs it as the
// slog default. With file output enabled every record is also appended to
// a daily file under LogDir, and panokit-current.log points at it.
func Setup(cfg *config.Config) (*slog.Logger, error) {
	var w io.Writer = os.Stderr
	if cfg.Logging.FileOutput {
		file, err := openDailyFile(cfg.Logging.LogDir, time.Now())
		if err != nil {
			return nil, err
		}
		w = io.MultiWriter(os.Stderr, file)
	}

	logger := New(w, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)
	logger.Debug("logging initialized",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"file_output", cfg.Logging.FileOutput,
		"log_dir", cfg.Logging.LogDir,
	)
	return logger, nil
}

func openDailyFile(dir string, now time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	name := fmt.Sprintf("panokit-%s.log", now.Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	current := filepath.Join(dir, "panokit-current.log")
	_ = os.Remove(current)
	// A missing symlink only costs the convenience name.
	_ = os.Symlink(name, current)
	return file, nil
}

// TraditionalHandler prints "2006/01/02 15:04:05 [LEVEL] msg [k=v ...]".
type TraditionalHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Leveler
	attrs  []slog.Attr
	prefix string
}

// NewTraditionalHandler returns a handler for records at or above level.
func NewTraditionalHandler(w io.Writer, level slog.Leveler) *TraditionalHandler {
	return &TraditionalHandler{mu: &sync.Mutex{}, w: w, level: level}
}

func (h *TraditionalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *TraditionalHandler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	sb.WriteString(ts.Format("2006/01/02 15:04:05"))
	fmt.Fprintf(&sb, " [%s] %s", strings.ToUpper(r.Level.String()), r.Message)

	pairs := make([]string, 0, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		pairs = appendAttr(pairs, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		pairs = appendAttr(pairs, h.prefix, a)
		return true
	})
	if len(pairs) > 0 {
		fmt.Fprintf(&sb, " [%s]", strings.Join(pairs, " "))
	}
	sb.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, sb.String())
	return err
}

func (h *TraditionalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		next.attrs = append(next.attrs, a)
	}
	return &next
}

func (h *TraditionalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func appendAttr(pairs []string, prefix string, a slog.Attr) []string {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return pairs
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, g := range a.Value.Group() {
			pairs = appendAttr(pairs, prefix+a.Key+".", g)
		}
		return pairs
	}
	return append(pairs, fmt.Sprintf("%s%s=%v", prefix, a.Key, a.Value))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// flatten turns a result map into sorted attributes, dropping nested
// values that would only clutter one-line records.
func flatten(m map[string]any) []any {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		switch v.(type) {
		case map[string]any, []map[string]any, []any:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		out = append(out, k, m[k])
	}
	return out
}

// LogJobStart records a job leaving the queue.
func LogJobStart(logger *slog.Logger, jobType, jobID, project, output string, options map[string]any) {
	logger.Info("job started",
		"type", jobType,
		"id", jobID,
		"project", project,
		"output", output,
		slog.Group("options", flatten(options)...),
	)
}

// LogJobComplete records a finished job with its scalar results.
func LogJobComplete(logger *slog.Logger, jobType, jobID string, elapsed time.Duration, meta map[string]any) {
	logger.Info("job completed",
		"type", jobType,
		"id", jobID,
		"elapsed", elapsed.Round(time.Millisecond),
		slog.Group("result", flatten(meta)...),
	)
}

func LogJobError(logger *slog.Logger, jobType, jobID string, elapsed time.Duration, err error, details map[string]any) {
	logger.Error("job failed",
		"type", jobType,
		"id", jobID,
		"elapsed", elapsed.Round(time.Millisecond),
		"error", err,
		slog.Group("context", flatten(details)...),
	)
}

// LogToolStatus reports whether an optional native library is linked.
func LogToolStatus(logger *slog.Logger, tool string, available bool, version, path string, err error) {
	if !available {
		logger.Debug("tool not available", "tool", tool, "error", err)
		return
	}
	args := []any{"tool", tool, "version", version}
	if path != "" {
		args = append(args, "path", path)
	}
	logger.Debug("tool detected", args...)
}

// LogProcessingStep records one stage of a stitch or match.
func LogProcessingStep(logger *slog.Logger, jobID, step, status string, details map[string]any) {
	logger.Info(step,
		"job_id", jobID,
		"status", status,
		slog.Group("details", flatten(details)...),
	)
}
