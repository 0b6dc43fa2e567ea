// Package config loads the maskd daemon configuration from a YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Detector DetectorConfig `yaml:"detector"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the HTTP/WebSocket listener
type ServerConfig struct {
	Listen         string `yaml:"listen"`           // host:port
	MaxUploadBytes int64  `yaml:"max_upload_bytes"` // rejects oversized payloads before processing
}

// PipelineConfig configures the frame pipeline
type PipelineConfig struct {
	Parallelism    int           `yaml:"parallelism"`     // detection/transform workers per job
	QueueSize      int           `yaml:"queue_size"`      // bounded decode queue capacity (0 = 2x parallelism)
	JobTimeout     time.Duration `yaml:"job_timeout"`     // hard ceiling per job
	PreviewQuality int           `yaml:"preview_quality"` // JPEG quality for preview frames
}

// DetectorConfig configures the external detection model endpoint
type DetectorConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig configures the structured logger
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
	File  bool   `yaml:"file"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:         ":8080",
			MaxUploadBytes: 200 << 20, // 200 MiB
		},
		Pipeline: PipelineConfig{
			Parallelism:    2,
			QueueSize:      0,
			JobTimeout:     30 * time.Minute,
			PreviewQuality: 85,
		},
		Detector: DetectorConfig{
			URL:     "http://localhost:9090/detect",
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "INFO",
			JSON:  false,
			File:  true,
		},
	}
}

// Load reads the config file at path (optional), applies environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	loadFromEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromEnv applies MASKD_* environment overrides
func loadFromEnv(cfg *Config) {
	if val := os.Getenv("MASKD_LISTEN"); val != "" {
		cfg.Server.Listen = val
	}
	if val := os.Getenv("MASKD_MAX_UPLOAD_BYTES"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Server.MaxUploadBytes = n
		}
	}
	if val := os.Getenv("MASKD_PARALLELISM"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Pipeline.Parallelism = n
		}
	}
	if val := os.Getenv("MASKD_QUEUE_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Pipeline.QueueSize = n
		}
	}
	if val := os.Getenv("MASKD_JOB_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Pipeline.JobTimeout = d
		}
	}
	if val := os.Getenv("MASKD_DETECTOR_URL"); val != "" {
		cfg.Detector.URL = val
	}
	if val := os.Getenv("MASKD_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
}

// validate rejects configurations the pipeline cannot run with
func validate(cfg *Config) error {
	if cfg.Pipeline.Parallelism < 1 {
		return fmt.Errorf("pipeline.parallelism must be >= 1, got %d", cfg.Pipeline.Parallelism)
	}
	if cfg.Pipeline.QueueSize < 0 {
		return fmt.Errorf("pipeline.queue_size must be >= 0, got %d", cfg.Pipeline.QueueSize)
	}
	if cfg.Pipeline.QueueSize > 0 && cfg.Pipeline.QueueSize < cfg.Pipeline.Parallelism {
		return fmt.Errorf("pipeline.queue_size (%d) must be >= parallelism (%d)",
			cfg.Pipeline.QueueSize, cfg.Pipeline.Parallelism)
	}
	if cfg.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be positive")
	}
	if cfg.Pipeline.PreviewQuality < 1 || cfg.Pipeline.PreviewQuality > 100 {
		return fmt.Errorf("pipeline.preview_quality must be in [1,100], got %d", cfg.Pipeline.PreviewQuality)
	}
	if cfg.Detector.URL == "" {
		return fmt.Errorf("detector.url is required")
	}
	return nil
}

// EffectiveQueueSize resolves the bounded queue capacity: configured
// value, or 2x parallelism when unset. The queue is never smaller than
// the worker count so workers cannot starve behind the reorder buffer.
func (c *Config) EffectiveQueueSize() int {
	if c.Pipeline.QueueSize > 0 {
		return c.Pipeline.QueueSize
	}
	return c.Pipeline.Parallelism * 2
}
