package preflight

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"rivalcast/internal/config"
	"rivalcast/internal/services"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestFreeBytesWalksToExistingParent(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "a", "b", "c")
	free, err := FreeBytes(missing)
	if err != nil {
		t.Fatalf("FreeBytes: %v", err)
	}
	if free <= 0 {
		t.Fatalf("expected positive free space, got %d", free)
	}
}

func TestEnsureFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if err := EnsureFreeSpace("download", dir, 0); err != nil {
		t.Fatalf("disabled check should pass, got %v", err)
	}
	err := EnsureFreeSpace("download", dir, 1<<30)
	if err == nil {
		t.Fatal("expected failure for an impossible minimum")
	}
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if result := CheckFreeSpace("disk", dir, 1<<30); result.Passed {
		t.Fatal("expected CheckFreeSpace to fail for an impossible minimum")
	}
}

func TestCheckASRRequiresKey(t *testing.T) {
	cfg := config.Default()
	if result := CheckASR(&cfg); result.Passed {
		t.Fatal("expected failure without api key")
	}
	cfg.ASR.APIKey = "key"
	if result := CheckASR(&cfg); !result.Passed {
		t.Fatalf("expected pass, got %s", result.Detail)
	}
}

func TestCheckLLMMissingKey(t *testing.T) {
	result := CheckLLM(context.Background(), "LLM", config.LLMConfig{})
	if result.Passed || result.Detail != "API key missing" {
		t.Fatalf("unexpected result %#v", result)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_StubbedBinaries(t *testing.T) {
	binDir := t.TempDir()
	for _, name := range []string{"ffmpeg", "ffprobe"} {
		if err := os.WriteFile(filepath.Join(binDir, name), []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.WorkDir = t.TempDir()
	cfg.Media.FFmpegBinary = filepath.Join(binDir, "ffmpeg")
	cfg.Media.FFprobeBinary = filepath.Join(binDir, "ffprobe")
	cfg.Media.MinFreeGiB = 0

	results := RunAll(context.Background(), &cfg)
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %#v", failed)
	}
}

func TestCheckBinary(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	if err := os.WriteFile(present, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	if r := CheckBinary(Binary{Name: "Present", Command: present}); !r.Passed || r.Detail != present {
		t.Fatalf("expected resolved binary, got %#v", r)
	}
	if r := CheckBinary(Binary{Name: "Missing", Command: "rivalcast-no-such-tool", Purpose: "tests"}); r.Passed || r.Detail == "" {
		t.Fatalf("expected missing binary to fail with detail, got %#v", r)
	}
	if r := CheckBinary(Binary{Name: "Blank", Command: "  "}); r.Passed {
		t.Fatalf("expected blank command to fail, got %#v", r)
	}
}
