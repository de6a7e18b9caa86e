package ffprobe

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"rivalcast/internal/services"
)

const tool = "ffprobe"

// Result is the subset of `ffprobe -show_format -show_streams` output the
// pipeline reads.
type Result struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

type Stream struct {
	Index      int    `json:"index"`
	CodecType  string `json:"codec_type"`
	CodecName  string `json:"codec_name"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type Format struct {
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	FormatName string `json:"format_name"`
}

// Inspect runs binary (default "ffprobe") on path. A binary that cannot be
// started is a configuration error, a file it rejects is a validation error,
// and any other failure is an external tool error.
func Inspect(ctx context.Context, binary string, path string) (Result, error) {
	if binary = strings.TrimSpace(binary); binary == "" {
		binary = tool
	}
	if path = strings.TrimSpace(path); path == "" {
		return Result{}, services.Wrap(services.ErrValidation, tool, "inspect", "empty path", nil)
	}

	output, err := exec.CommandContext(ctx, binary,
		"-v", "error", "-hide_banner", "-of", "json", "-show_format", "-show_streams", "--", path,
	).Output()
	if err != nil {
		return Result{}, classify(ctx, path, err)
	}

	var result Result
	if err := json.Unmarshal(output, &result); err != nil {
		return Result{}, services.Wrap(services.ErrExternalTool, tool, "parse", path, err)
	}
	return result, nil
}

func classify(ctx context.Context, path string, err error) error {
	var execErr *exec.Error
	var exitErr *exec.ExitError
	switch {
	case ctx.Err() != nil:
		return services.Wrap(services.ErrCancelled, tool, "inspect", path, ctx.Err())
	case errors.As(err, &execErr), errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		return services.Wrap(services.ErrConfiguration, tool, "inspect", "binary not runnable", err)
	case errors.As(err, &exitErr):
		return services.Wrap(services.ErrValidation, tool, "inspect",
			path+": "+strings.TrimSpace(string(exitErr.Stderr)), err)
	default:
		return services.Wrap(services.ErrExternalTool, tool, "inspect", path, err)
	}
}

// AudioStreams counts the audio streams.
func (r Result) AudioStreams() int {
	n := 0
	for _, s := range r.Streams {
		if strings.EqualFold(s.CodecType, "audio") {
			n++
		}
	}
	return n
}

// DurationSeconds returns the container duration: 0 when ffprobe reported
// none, NaN when the value does not parse.
func (r Result) DurationSeconds() float64 {
	value := strings.TrimSpace(r.Format.Duration)
	if value == "" {
		return 0
	}
	d, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return math.NaN()
	}
	return d
}

// RequireAudio rejects media without speech to analyze: no audio stream, or
// no usable duration.
func (r Result) RequireAudio() error {
	if r.AudioStreams() == 0 {
		return services.Wrap(services.ErrValidation, tool, "validate", "no audio stream", nil)
	}
	if d := r.DurationSeconds(); math.IsNaN(d) || d <= 0 {
		return services.Wrap(services.ErrValidation, tool, "validate", "unknown or zero duration", nil)
	}
	return nil
}
