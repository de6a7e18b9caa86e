package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"rivalcast/internal/config"
)

// ConfigOption adjusts a test configuration after defaults are applied.
type ConfigOption func(t testing.TB, base string, cfg *config.Config)

// NewConfig returns a default configuration rooted in a per-test temp dir.
// Credentials are filled with placeholders and the free-space floor is off.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.WorkDir = filepath.Join(base, "work")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.ASR.APIKey = "test"
	cfg.LLM.APIKey = "test"
	cfg.Media.MinFreeGiB = 0
	for _, opt := range opts {
		opt(t, base, &cfg)
	}
	return &cfg
}

// WithConcurrency overrides the dispatcher ceiling.
func WithConcurrency(n int) ConfigOption {
	return func(_ testing.TB, _ string, cfg *config.Config) { cfg.Dispatcher.Concurrency = n }
}

// WithMaxRetries overrides the per-task retry budget.
func WithMaxRetries(n int) ConfigOption {
	return func(_ testing.TB, _ string, cfg *config.Config) { cfg.Dispatcher.MaxRetries = n }
}

// WithStubbedBinaries points the ffmpeg and ffprobe settings at no-op scripts.
func WithStubbedBinaries() ConfigOption {
	return func(t testing.TB, base string, cfg *config.Config) {
		t.Helper()
		dir := filepath.Join(base, "bin")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
		stub := func(name string) string {
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
				t.Fatalf("write stub %s: %v", name, err)
			}
			return path
		}
		cfg.Media.FFmpegBinary = stub("ffmpeg")
		cfg.Media.FFprobeBinary = stub("ffprobe")
	}
}
