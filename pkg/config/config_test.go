package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load with no file failed: %v", err)
	}
	if cfg.Server.Listen != ":8080" {
		t.Errorf("default listen = %q", cfg.Server.Listen)
	}
	if cfg.Pipeline.Parallelism != 2 {
		t.Errorf("default parallelism = %d", cfg.Pipeline.Parallelism)
	}
	if got := cfg.EffectiveQueueSize(); got != 4 {
		t.Errorf("EffectiveQueueSize() = %d, want 2x parallelism = 4", got)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "maskd.yaml")
	content := `
server:
  listen: ":9000"
pipeline:
  parallelism: 4
  queue_size: 8
  job_timeout: 5m
detector:
  url: "http://detector:9090/detect"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Listen != ":9000" {
		t.Errorf("listen = %q, want :9000", cfg.Server.Listen)
	}
	if cfg.Pipeline.Parallelism != 4 || cfg.EffectiveQueueSize() != 8 {
		t.Errorf("pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.JobTimeout != 5*time.Minute {
		t.Errorf("job_timeout = %v, want 5m", cfg.Pipeline.JobTimeout)
	}
	// Untouched fields keep defaults
	if cfg.Pipeline.PreviewQuality != 85 {
		t.Errorf("preview_quality = %d, want default 85", cfg.Pipeline.PreviewQuality)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MASKD_LISTEN", ":7070")
	t.Setenv("MASKD_PARALLELISM", "8")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Listen != ":7070" {
		t.Errorf("listen = %q, want env override :7070", cfg.Server.Listen)
	}
	if cfg.Pipeline.Parallelism != 8 {
		t.Errorf("parallelism = %d, want 8", cfg.Pipeline.Parallelism)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero parallelism", func(c *Config) { c.Pipeline.Parallelism = 0 }},
		{"queue smaller than workers", func(c *Config) { c.Pipeline.Parallelism = 4; c.Pipeline.QueueSize = 2 }},
		{"no upload limit", func(c *Config) { c.Server.MaxUploadBytes = 0 }},
		{"bad preview quality", func(c *Config) { c.Pipeline.PreviewQuality = 101 }},
		{"missing detector url", func(c *Config) { c.Detector.URL = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := validate(cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
