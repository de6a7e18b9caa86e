package preflight

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"rivalcast/internal/config"
	"rivalcast/internal/services"
	"rivalcast/internal/services/llm"
)

const gib = int64(1) << 30

// CheckLLM verifies that the LLM API is reachable and the key is valid.
// It uses a 30-second timeout and a single attempt (no retries).
func CheckLLM(ctx context.Context, name string, cfg config.LLMConfig) Result {
	if cfg.APIKey == "" {
		return Result{Name: name, Detail: "API key missing"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client := llm.NewClient(llm.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Referer: cfg.Referer,
		Title:   cfg.Title,
	}, llm.WithRetryMaxAttempts(1))

	if err := client.HealthCheck(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeLLMError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "API reachable"}
}

// CheckASR reports whether the speech-to-text service is configured.
// The transcription API has no free probe endpoint, so only settings are checked.
func CheckASR(cfg *config.Config) Result {
	const name = "Speech-to-text"
	switch {
	case strings.TrimSpace(cfg.ASR.BaseURL) == "":
		return Result{Name: name, Detail: "missing url"}
	case strings.TrimSpace(cfg.ASR.APIKey) == "":
		return Result{Name: name, Detail: "API key missing"}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", cfg.ASR.BaseURL, cfg.ASR.Model)}
}

// CheckDirectoryAccess passes when path is a directory this process can
// list, read and write.
func CheckDirectoryAccess(name, path string) Result {
	fail := func(problem string) Result {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %s)", path, problem)}
	}
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fail("does not exist")
	case err != nil:
		return fail("stat: " + err.Error())
	case !info.IsDir():
		return fail("is not a directory")
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return fail("insufficient permissions: " + err.Error())
	}
	return Result{Name: name, Passed: true, Detail: path + " (read/write ok)"}
}

// CheckFreeSpace verifies that the filesystem holding path has at least minGiB free.
func CheckFreeSpace(name, path string, minGiB int) Result {
	free, err := FreeBytes(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	detail := fmt.Sprintf("%.1f GiB free", float64(free)/float64(gib))
	if free < int64(minGiB)*gib {
		return Result{Name: name, Detail: fmt.Sprintf("%s, need %d GiB", detail, minGiB)}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// FreeBytes returns the space available to unprivileged users on the
// filesystem holding path. A missing path is resolved through its parents.
func FreeBytes(path string) (int64, error) {
	for {
		var st unix.Statfs_t
		err := unix.Statfs(path, &st)
		if err == nil {
			return int64(st.Bavail) * int64(st.Bsize), nil
		}
		if !errors.Is(err, unix.ENOENT) {
			return 0, fmt.Errorf("statfs %s: %w", path, err)
		}
		parent := filepath.Dir(path)
		if parent == path {
			return 0, fmt.Errorf("statfs %s: %w", path, err)
		}
		path = parent
	}
}

// EnsureFreeSpace fails with a transient error when less than minGiB is free
// under path. A non-positive minimum disables the check.
func EnsureFreeSpace(stage, path string, minGiB int) error {
	if minGiB <= 0 {
		return nil
	}
	free, err := FreeBytes(path)
	if err != nil {
		return services.Wrap(services.ErrTransient, stage, "check disk space", "", err)
	}
	if free < int64(minGiB)*gib {
		return services.Wrap(services.ErrTransient, stage, "check disk space",
			fmt.Sprintf("%.1f GiB free under %s, need %d GiB", float64(free)/float64(gib), path, minGiB), nil)
	}
	return nil
}

// summarizeLLMError turns a failed health probe into an operator hint.
func summarizeLLMError(err error) string {
	switch {
	case errors.Is(err, services.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "health check timed out (LLM API unresponsive)"
	case errors.Is(err, services.ErrConfiguration):
		return "rejected credentials or endpoint: " + err.Error()
	}
	return err.Error()
}
