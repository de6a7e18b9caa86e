// Package segmenting cuts a transcoded recording into fixed-length mono
// audio chunks sized for the speech-to-text service.
package segmenting

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"path/filepath"

	"rivalcast/internal/config"
	"rivalcast/internal/fileutil"
	"rivalcast/internal/logging"
	"rivalcast/internal/media/ffmpeg"
	"rivalcast/internal/media/ffprobe"
	"rivalcast/internal/queue"
	"rivalcast/internal/services"
	"rivalcast/internal/stage"
)

const stageName = "segment"

var probeMedia = ffprobe.Inspect

// Segmenter splits media into audio chunks.
type Segmenter interface {
	SegmentAudio(ctx context.Context, input, destDir string, seconds int) ([]ffmpeg.Chunk, error)
}

// Handler runs the segment stage.
type Handler struct {
	cfg       *config.Config
	store     *queue.Store
	logger    *slog.Logger
	segmenter Segmenter
}

// New constructs the segment handler backed by ffmpeg.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Handler {
	return NewWithSegmenter(cfg, store, logger, ffmpeg.New(cfg.FFmpegBinary()))
}

// NewWithSegmenter allows injecting the segmenter (used in tests).
func NewWithSegmenter(cfg *config.Config, store *queue.Store, logger *slog.Logger, segmenter Segmenter) *Handler {
	return &Handler{
		cfg:       cfg,
		store:     store,
		logger:    logging.NewComponentLogger(logger, "segmenter"),
		segmenter: segmenter,
	}
}

func (h *Handler) Prepare(ctx context.Context, task *queue.Task) error {
	file, err := h.store.GetVideoFile(ctx, task.TargetID)
	if err != nil {
		return services.Wrap(services.ErrNotFound, stageName, "load video file", "", err)
	}
	if _, ok := fileutil.NonEmpty(file.TranscodedPath); !ok {
		return services.Wrap(services.ErrNotFound, stageName, "prepare",
			fmt.Sprintf("transcoded media missing for video file %d", file.ID), nil)
	}
	return nil
}

func (h *Handler) Execute(ctx context.Context, task *queue.Task) (stage.Result, error) {
	logger := logging.WithContext(ctx, h.logger)
	file, err := h.store.GetVideoFile(ctx, task.TargetID)
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrNotFound, stageName, "load video file", "", err)
	}

	probe, err := probeMedia(ctx, h.cfg.FFprobeBinary(), file.TranscodedPath)
	if err != nil {
		return stage.Result{}, err
	}
	if err := probe.RequireAudio(); err != nil {
		return stage.Result{}, err
	}
	total := probe.DurationSeconds()

	seconds := h.cfg.Media.SegmentSeconds
	destDir := filepath.Join(h.cfg.VideoFileWorkDir(file.OrderID, file.ID), "segments")
	chunks, err := h.segmenter.SegmentAudio(ctx, file.TranscodedPath, destDir, seconds)
	if err != nil {
		return stage.Result{}, err
	}
	if len(chunks) == 0 {
		return stage.Result{}, services.Wrap(services.ErrValidation, stageName, "segment",
			"ffmpeg produced no audio segments", nil)
	}

	specs := Plan(chunks, seconds, total)
	logger.Info("segmenting finished",
		logging.Int("segments", len(specs)),
		logging.Float64("duration_seconds", total),
		logging.String("segment_dir", destDir),
	)
	return stage.Result{Segments: specs}, nil
}

// Plan assigns start offsets and durations to chunks cut every seconds from
// media of total length. The final chunk takes the remainder.
func Plan(chunks []ffmpeg.Chunk, seconds int, total float64) []queue.SegmentSpec {
	specs := make([]queue.SegmentSpec, 0, len(chunks))
	step := float64(seconds)
	for i, chunk := range chunks {
		start := float64(i) * step
		duration := step
		if total > 0 {
			duration = math.Min(step, total-start)
			if duration <= 0 {
				duration = math.Min(step, 1)
			}
		}
		specs = append(specs, queue.SegmentSpec{
			Index:           i,
			StartSeconds:    start,
			DurationSeconds: duration,
			Path:            chunk.Path,
		})
	}
	return specs
}

// HealthCheck verifies the media binaries are resolvable.
func (h *Handler) HealthCheck(context.Context) stage.Health {
	if h.segmenter == nil {
		return stage.Unhealthy(stageName, "segmenter unavailable")
	}
	if h.cfg.Media.SegmentSeconds <= 0 {
		return stage.Unhealthy(stageName, "segment_seconds must be positive")
	}
	for _, binary := range []string{h.cfg.FFmpegBinary(), h.cfg.FFprobeBinary()} {
		if _, err := exec.LookPath(binary); err != nil {
			return stage.Unhealthy(stageName, fmt.Sprintf("binary %q not found", binary))
		}
	}
	return stage.Healthy(stageName)
}
