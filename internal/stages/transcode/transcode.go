// Package transcode normalizes downloaded recordings into a single mp4
// layout so later stages see one codec and container regardless of source.
package transcode

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"

	"rivalcast/internal/config"
	"rivalcast/internal/fileutil"
	"rivalcast/internal/logging"
	"rivalcast/internal/media/ffmpeg"
	"rivalcast/internal/preflight"
	"rivalcast/internal/queue"
	"rivalcast/internal/services"
	"rivalcast/internal/stage"
)

const (
	stageName  = "transcode"
	outputName = "transcoded.mp4"
)

// Transcoder converts media between containers.
type Transcoder interface {
	Transcode(ctx context.Context, input, output string) error
}

// Handler runs the transcode stage.
type Handler struct {
	cfg        *config.Config
	store      *queue.Store
	logger     *slog.Logger
	transcoder Transcoder
}

// New constructs the transcode handler backed by ffmpeg.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Handler {
	client := ffmpeg.New(cfg.FFmpegBinary(), ffmpeg.WithPreset(cfg.Media.TranscodePreset))
	return NewWithTranscoder(cfg, store, logger, client)
}

// NewWithTranscoder allows injecting the transcoder (used in tests).
func NewWithTranscoder(cfg *config.Config, store *queue.Store, logger *slog.Logger, transcoder Transcoder) *Handler {
	return &Handler{
		cfg:        cfg,
		store:      store,
		logger:     logging.NewComponentLogger(logger, "transcoder"),
		transcoder: transcoder,
	}
}

func (h *Handler) Prepare(ctx context.Context, task *queue.Task) error {
	file, err := h.store.GetVideoFile(ctx, task.TargetID)
	if err != nil {
		return services.Wrap(services.ErrNotFound, stageName, "load video file", "", err)
	}
	if _, ok := fileutil.NonEmpty(file.LocalPath); !ok {
		return services.Wrap(services.ErrNotFound, stageName, "prepare",
			fmt.Sprintf("downloaded media missing for video file %d", file.ID), nil)
	}
	return nil
}

func (h *Handler) Execute(ctx context.Context, task *queue.Task) (stage.Result, error) {
	logger := logging.WithContext(ctx, h.logger)
	file, err := h.store.GetVideoFile(ctx, task.TargetID)
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrNotFound, stageName, "load video file", "", err)
	}
	workDir := h.cfg.VideoFileWorkDir(file.OrderID, file.ID)
	if err := preflight.EnsureFreeSpace(stageName, workDir, h.cfg.Media.MinFreeGiB); err != nil {
		return stage.Result{}, err
	}
	output := filepath.Join(workDir, outputName)
	logger.Info("transcoding media",
		logging.String("input", file.LocalPath),
		logging.String("output", output),
	)
	if err := h.transcoder.Transcode(ctx, file.LocalPath, output); err != nil {
		return stage.Result{}, err
	}
	size, ok := fileutil.NonEmpty(output)
	if !ok {
		return stage.Result{}, services.Wrap(services.ErrExternalTool, stageName, "verify output", "transcoded file missing", nil)
	}
	logger.Info("transcode finished", logging.String("output", output), logging.Int64("bytes", size))
	return stage.Result{TranscodedPath: output}, nil
}

// HealthCheck verifies the ffmpeg binary is resolvable.
func (h *Handler) HealthCheck(context.Context) stage.Health {
	if h.transcoder == nil {
		return stage.Unhealthy(stageName, "transcoder unavailable")
	}
	if _, err := exec.LookPath(h.cfg.FFmpegBinary()); err != nil {
		return stage.Unhealthy(stageName, fmt.Sprintf("ffmpeg binary %q not found", h.cfg.FFmpegBinary()))
	}
	return stage.Healthy(stageName)
}
