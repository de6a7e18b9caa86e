// Package artifacts publishes finished reports to durable storage.
package artifacts

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"

	"rivalcast/internal/config"
	"rivalcast/internal/logging"
)

// Store uploads a local file under key and returns a URI for it.
type Store interface {
	Upload(ctx context.Context, key, localPath string) (string, error)
}

// New returns the S3 store when artifacts are enabled and a local-only store
// otherwise.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, error) {
	if cfg == nil || !cfg.Artifacts.Enabled {
		return Local{}, nil
	}
	store, err := NewS3(ctx, cfg.Artifacts, logger)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info("artifact uploads enabled",
			logging.String("bucket", cfg.Artifacts.Bucket),
			logging.String("prefix", cfg.Artifacts.Prefix),
		)
	}
	return store, nil
}

// ReportKey returns the object key for an order's report.
func ReportKey(prefix string, orderID int64, name string) string {
	return path.Join(prefix, fmt.Sprintf("order-%d", orderID), path.Base(filepath.ToSlash(name)))
}

// Local keeps reports on disk and returns a file URI.
type Local struct{}

// Upload returns the file URI of localPath.
func (Local) Upload(_ context.Context, _ string, localPath string) (string, error) {
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}
