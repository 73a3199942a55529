package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFileMissingUsesDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "none.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Matcher.MaxWidth != 1600 || cfg.Matcher.Threshold != 0.9 || cfg.Stacks.EVTolerance != 0.3 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadFileOverridesSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"stitch": {"blend": "weighted"}, "matcher": {"max_cells": 9}, "server": {"http_addr": ":1234"}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Stitch.Blend != "weighted" || cfg.Matcher.MaxCells != 9 || cfg.Server.HTTPAddr != ":1234" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Matcher.MinCell != 20 || cfg.Stitch.JPEGQuality != 90 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadHonoursEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"logging": {"level": "debug"}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("PANOKIT_CONFIG", path)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("level = %q", cfg.Logging.Level)
	}
}

func TestLoadFileRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatalf("expected decode error")
	}
}
