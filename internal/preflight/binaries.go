package preflight

import (
	"os/exec"
	"strings"

	"rivalcast/internal/config"
)

// Binary is an external program the pipeline shells out to.
type Binary struct {
	Name    string
	Command string
	Purpose string
}

// MediaBinaries lists the tools used for capture, transcode, segment and probe.
func MediaBinaries(cfg *config.Config) []Binary {
	return []Binary{
		{Name: "FFmpeg", Command: cfg.FFmpegBinary(), Purpose: "capture, transcode and segment"},
		{Name: "FFprobe", Command: cfg.FFprobeBinary(), Purpose: "media inspection"},
	}
}

// CheckBinary resolves b on PATH. The detail of a passing check is the
// resolved path.
func CheckBinary(b Binary) Result {
	cmd := strings.TrimSpace(b.Command)
	if cmd == "" {
		return Result{Name: b.Name, Detail: "command not configured (" + b.Purpose + ")"}
	}
	resolved, err := exec.LookPath(cmd)
	if err != nil {
		return Result{Name: b.Name, Detail: cmd + " not found; needed for " + b.Purpose}
	}
	return Result{Name: b.Name, Passed: true, Detail: resolved}
}
