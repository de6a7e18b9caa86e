package analysis

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"rivalcast/internal/config"
	"rivalcast/internal/logging"
	"rivalcast/internal/queue"
	"rivalcast/internal/services"
	"rivalcast/internal/services/llm"
	"rivalcast/internal/stage"
)

const stageName = "analysis"

// Completer issues JSON-only chat completions.
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Handler runs the analysis stage.
type Handler struct {
	cfg    *config.Config
	store  *queue.Store
	logger *slog.Logger
	llm    Completer
}

// New constructs the analysis handler using the configured LLM.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Handler {
	settings := cfg.GetLLM()
	client := llm.NewClient(llm.Config{
		APIKey:            settings.APIKey,
		BaseURL:           settings.BaseURL,
		Model:             settings.Model,
		Referer:           settings.Referer,
		Title:             settings.Title,
		TimeoutSeconds:    settings.TimeoutSeconds,
		RequestsPerMinute: settings.RequestsPerMinute,
	})
	return NewWithCompleter(cfg, store, logger, client)
}

// NewWithCompleter allows injecting the LLM (used in tests).
func NewWithCompleter(cfg *config.Config, store *queue.Store, logger *slog.Logger, completer Completer) *Handler {
	return &Handler{
		cfg:    cfg,
		store:  store,
		logger: logging.NewComponentLogger(logger, "analyzer"),
		llm:    completer,
	}
}

func (h *Handler) Prepare(ctx context.Context, task *queue.Task) error {
	segment, err := h.store.GetSegment(ctx, task.TargetID)
	if err != nil {
		return services.Wrap(services.ErrNotFound, stageName, "load segment", "", err)
	}
	if segment.Status == queue.SegmentPending {
		return services.Wrap(services.ErrValidation, stageName, "prepare", "segment has not been transcribed", nil)
	}
	return nil
}

func (h *Handler) Execute(ctx context.Context, task *queue.Task) (stage.Result, error) {
	logger := logging.WithContext(ctx, h.logger)
	segment, err := h.store.GetSegment(ctx, task.TargetID)
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrNotFound, stageName, "load segment", "", err)
	}
	if segment.Status == queue.SegmentAnalyzed && segment.AnalysisResult != "" {
		return stage.Result{Analysis: segment.AnalysisResult}, nil
	}
	file, err := h.store.GetVideoFile(ctx, segment.VideoFileID)
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrNotFound, stageName, "load video file", "", err)
	}

	input := segmentInput{
		Role:            file.Role,
		SegmentIndex:    segment.Index,
		StartSeconds:    segment.StartSeconds,
		DurationSeconds: segment.DurationSeconds,
		Transcript:      strings.TrimSpace(segment.Transcript),
	}
	if input.Transcript == "" {
		payload, err := json.Marshal(map[string]any{
			"role":          input.Role,
			"segment_index": input.SegmentIndex,
			"skipped":       "no speech detected",
		})
		if err != nil {
			return stage.Result{}, services.Wrap(services.ErrFatal, stageName, "encode placeholder", "", err)
		}
		logger.Info("segment has no speech; skipping model call", logging.Int64(logging.FieldSegmentID, segment.ID))
		return stage.Result{Analysis: string(payload)}, nil
	}

	userPrompt, err := json.Marshal(input)
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrFatal, stageName, "encode prompt", "", err)
	}
	content, err := h.llm.CompleteJSON(ctx, SegmentPrompt, string(userPrompt))
	if err != nil {
		return stage.Result{}, err
	}
	payload, err := llm.NormalizeJSON(content)
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrTransient, stageName, "decode response", "model returned invalid JSON", err)
	}
	logger.Info("segment analyzed",
		logging.Int64(logging.FieldSegmentID, segment.ID),
		logging.String("role", file.Role),
		logging.Int("payload_bytes", len(payload)),
	)
	return stage.Result{Analysis: payload}, nil
}

func (h *Handler) HealthCheck(context.Context) stage.Health {
	switch {
	case h.llm == nil:
		return stage.Unhealthy(stageName, "llm client unavailable")
	case h.cfg.GetLLM().APIKey == "":
		return stage.Unhealthy(stageName, "llm api key missing")
	}
	return stage.Healthy(stageName)
}
