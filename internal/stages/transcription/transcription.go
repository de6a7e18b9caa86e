// Package transcription sends each audio segment to the speech-to-text
// service and hands back the recognized text.
package transcription

import (
	"context"
	"log/slog"
	"strings"

	"rivalcast/internal/config"
	"rivalcast/internal/logging"
	"rivalcast/internal/queue"
	"rivalcast/internal/services"
	"rivalcast/internal/services/asr"
	"rivalcast/internal/stage"
)

const stageName = "asr"

// Transcriber converts an audio file to text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (asr.Transcript, error)
}

// Handler runs the ASR stage.
type Handler struct {
	cfg         *config.Config
	store       *queue.Store
	logger      *slog.Logger
	transcriber Transcriber
}

// New constructs the ASR handler using the configured service.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Handler {
	client := asr.NewClient(asr.Config{
		BaseURL:           cfg.ASR.BaseURL,
		APIKey:            cfg.ASR.APIKey,
		Model:             cfg.ASR.Model,
		Language:          cfg.ASR.Language,
		TimeoutSeconds:    cfg.ASR.TimeoutSeconds,
		RequestsPerMinute: cfg.ASR.RequestsPerMinute,
	}, nil)
	return NewWithTranscriber(cfg, store, logger, client)
}

// NewWithTranscriber allows injecting the transcriber (used in tests).
func NewWithTranscriber(cfg *config.Config, store *queue.Store, logger *slog.Logger, transcriber Transcriber) *Handler {
	return &Handler{
		cfg:         cfg,
		store:       store,
		logger:      logging.NewComponentLogger(logger, "transcriber"),
		transcriber: transcriber,
	}
}

func (h *Handler) Prepare(ctx context.Context, task *queue.Task) error {
	if _, err := h.store.GetSegment(ctx, task.TargetID); err != nil {
		return services.Wrap(services.ErrNotFound, stageName, "load segment", "", err)
	}
	return nil
}

func (h *Handler) Execute(ctx context.Context, task *queue.Task) (stage.Result, error) {
	logger := logging.WithContext(ctx, h.logger)
	segment, err := h.store.GetSegment(ctx, task.TargetID)
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrNotFound, stageName, "load segment", "", err)
	}
	if segment.Status == queue.SegmentTranscribed || segment.Status == queue.SegmentAnalyzed {
		logger.Info("segment already transcribed", logging.Int64(logging.FieldSegmentID, segment.ID))
		return stage.Result{Transcript: segment.Transcript}, nil
	}

	transcript, err := h.transcriber.Transcribe(ctx, segment.Path)
	if err != nil {
		return stage.Result{}, err
	}
	logger.Info("segment transcribed",
		logging.Int64(logging.FieldSegmentID, segment.ID),
		logging.Int("segment_index", segment.Index),
		logging.Int("characters", len(transcript.Text)),
	)
	return stage.Result{Transcript: strings.TrimSpace(transcript.Text)}, nil
}

func (h *Handler) HealthCheck(context.Context) stage.Health {
	switch {
	case h.transcriber == nil:
		return stage.Unhealthy(stageName, "transcriber unavailable")
	case strings.TrimSpace(h.cfg.ASR.APIKey) == "":
		return stage.Unhealthy(stageName, "asr api key missing")
	}
	return stage.Healthy(stageName)
}
