// Package reporting assembles every segment analysis of an order, asks the
// LLM for the self-versus-competitor comparison and publishes the result.
package reporting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"time"

	"rivalcast/internal/artifacts"
	"rivalcast/internal/config"
	"rivalcast/internal/fileutil"
	"rivalcast/internal/logging"
	"rivalcast/internal/queue"
	"rivalcast/internal/services"
	"rivalcast/internal/services/llm"
	"rivalcast/internal/stage"
)

const (
	stageName  = "report"
	reportName = "report.json"
)

// Completer issues JSON-only chat completions.
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Report is the document written to report.json.
type Report struct {
	OrderID      int64           `json:"order_id"`
	GeneratedAt  time.Time       `json:"generated_at"`
	Participants []string        `json:"participants"`
	Segments     int             `json:"segments"`
	TopicOverlap []TopicOverlap  `json:"topic_overlap,omitempty"`
	Comparison   json.RawMessage `json:"comparison"`
}

// Handler runs the report stage.
type Handler struct {
	cfg       *config.Config
	store     *queue.Store
	logger    *slog.Logger
	llm       Completer
	artifacts artifacts.Store
}

// New constructs the report handler with the configured LLM.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, uploads artifacts.Store) *Handler {
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
	return NewWithDependencies(cfg, store, logger, client, uploads)
}

// NewWithDependencies allows injecting collaborators (used in tests).
func NewWithDependencies(cfg *config.Config, store *queue.Store, logger *slog.Logger, completer Completer, uploads artifacts.Store) *Handler {
	if uploads == nil {
		uploads = artifacts.Local{}
	}
	return &Handler{
		cfg:       cfg,
		store:     store,
		logger:    logging.NewComponentLogger(logger, "reporter"),
		llm:       completer,
		artifacts: uploads,
	}
}

func (h *Handler) Prepare(ctx context.Context, task *queue.Task) error {
	if _, err := h.store.GetOrder(ctx, task.OrderID); err != nil {
		return services.Wrap(services.ErrNotFound, stageName, "load order", "", err)
	}
	segments, err := h.store.SegmentsForOrder(ctx, task.OrderID)
	if err != nil {
		return services.Wrap(services.ErrTransient, stageName, "load segments", "", err)
	}
	for _, segment := range segments {
		if segment.Status != queue.SegmentAnalyzed {
			return services.Wrap(services.ErrValidation, stageName, "prepare",
				fmt.Sprintf("segment %d is %s, not analyzed", segment.ID, segment.Status), nil)
		}
	}
	return nil
}

func (h *Handler) Execute(ctx context.Context, task *queue.Task) (stage.Result, error) {
	logger := logging.WithContext(ctx, h.logger)
	input, err := h.gather(ctx, task.OrderID)
	if err != nil {
		return stage.Result{}, err
	}
	prompt, err := json.Marshal(input)
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrFatal, stageName, "encode prompt", "", err)
	}

	content, err := h.llm.CompleteJSON(ctx, ComparisonPrompt, string(prompt))
	if err != nil {
		return stage.Result{}, err
	}
	comparison, err := llm.NormalizeJSON(content)
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrTransient, stageName, "decode response", "model returned invalid JSON", err)
	}

	report := Report{
		OrderID:      task.OrderID,
		GeneratedAt:  time.Now().UTC(),
		TopicOverlap: input.TopicOverlap,
		Comparison:   json.RawMessage(comparison),
	}
	for _, p := range input.Participants {
		report.Participants = append(report.Participants, p.Role)
		report.Segments += len(p.Segments)
	}
	data, err := encodeReport(report)
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrFatal, stageName, "encode report", "", err)
	}
	reportPath := filepath.Join(h.cfg.OrderWorkDir(task.OrderID), reportName)
	if err := fileutil.WriteAtomic(reportPath, data, 0o644); err != nil {
		return stage.Result{}, services.Wrap(services.ErrTransient, stageName, "write report", "", err)
	}

	key := artifacts.ReportKey(h.cfg.Artifacts.Prefix, task.OrderID, reportName)
	uri, err := h.artifacts.Upload(ctx, key, reportPath)
	if err != nil {
		return stage.Result{}, err
	}
	logger.Info("report published",
		logging.String("report_path", reportPath),
		logging.String("report_uri", uri),
		logging.Int("participants", len(report.Participants)),
		logging.String(logging.FieldEventType, "report_published"),
	)
	return stage.Result{ReportPath: reportPath, ReportURI: uri}, nil
}

func (h *Handler) gather(ctx context.Context, orderID int64) (reportInput, error) {
	files, err := h.store.VideoFilesForOrder(ctx, orderID)
	if err != nil {
		return reportInput{}, services.Wrap(services.ErrTransient, stageName, "load video files", "", err)
	}
	if len(files) == 0 {
		return reportInput{}, services.Wrap(services.ErrNotFound, stageName, "load video files",
			"order "+strconv.FormatInt(orderID, 10)+" has no video files", nil)
	}
	segments, err := h.store.SegmentsForOrder(ctx, orderID)
	if err != nil {
		return reportInput{}, services.Wrap(services.ErrTransient, stageName, "load segments", "", err)
	}
	byFile := make(map[int64][]segmentInput, len(files))
	for _, segment := range segments {
		analysis := json.RawMessage(segment.AnalysisResult)
		if !json.Valid(analysis) {
			quoted, _ := json.Marshal(segment.AnalysisResult)
			analysis = quoted
		}
		byFile[segment.VideoFileID] = append(byFile[segment.VideoFileID], segmentInput{
			Index:           segment.Index,
			StartSeconds:    segment.StartSeconds,
			DurationSeconds: segment.DurationSeconds,
			Analysis:        analysis,
		})
	}
	input := reportInput{OrderID: orderID, TopicOverlap: topicOverlap(files, segments)}
	for _, file := range files {
		input.Participants = append(input.Participants, participantInput{
			Role:        file.Role,
			VideoFileID: file.ID,
			Segments:    byFile[file.ID],
		})
	}
	return input, nil
}

func (h *Handler) HealthCheck(context.Context) stage.Health {
	switch {
	case h.llm == nil:
		return stage.Unhealthy(stageName, "llm client unavailable")
	case h.cfg.GetLLM().APIKey == "":
		return stage.Unhealthy(stageName, "llm api key missing")
	case h.artifacts == nil:
		return stage.Unhealthy(stageName, "artifact store unavailable")
	}
	return stage.Healthy(stageName)
}

// encodeReport serializes report without HTML escaping so the comparison
// payload is written byte for byte as the model returned it.
func encodeReport(report Report) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(report); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
