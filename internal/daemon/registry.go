package daemon

import (
	"context"
	"fmt"
	"log/slog"

	"rivalcast/internal/artifacts"
	"rivalcast/internal/config"
	"rivalcast/internal/queue"
	"rivalcast/internal/stage"
	"rivalcast/internal/stages/analysis"
	"rivalcast/internal/stages/download"
	"rivalcast/internal/stages/reporting"
	"rivalcast/internal/stages/segmenting"
	"rivalcast/internal/stages/transcode"
	"rivalcast/internal/stages/transcription"
)

// BuildRegistry constructs the production executor for every task type.
func BuildRegistry(ctx context.Context, cfg *config.Config, store *queue.Store, logger *slog.Logger) (*stage.Registry, error) {
	uploads, err := artifacts.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("artifact store: %w", err)
	}
	return stage.NewRegistry(map[queue.TaskType]stage.Handler{
		queue.TaskDownload:  download.New(cfg, store, logger),
		queue.TaskTranscode: transcode.New(cfg, store, logger),
		queue.TaskSegment:   segmenting.New(cfg, store, logger),
		queue.TaskASR:       transcription.New(cfg, store, logger),
		queue.TaskAnalysis:  analysis.New(cfg, store, logger),
		queue.TaskReport:    reporting.New(cfg, store, logger, uploads),
	})
}
