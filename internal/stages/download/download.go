package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"rivalcast/internal/config"
	"rivalcast/internal/fileutil"
	"rivalcast/internal/logging"
	"rivalcast/internal/media/ffprobe"
	"rivalcast/internal/preflight"
	"rivalcast/internal/queue"
	"rivalcast/internal/recording"
	"rivalcast/internal/services"
	"rivalcast/internal/stage"
)

const stageName = "download"

var probeMedia = ffprobe.Inspect

// Downloader fetches or adopts the source media of a video file.
type Downloader struct {
	cfg    *config.Config
	store  *queue.Store
	client *http.Client
	logger *slog.Logger
}

// New constructs the download handler with a client bounded by the
// configured download timeout.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Downloader {
	timeout := time.Duration(cfg.Media.DownloadTimeout) * time.Second
	return NewWithClient(cfg, store, logger, &http.Client{Timeout: timeout})
}

// NewWithClient allows injecting the HTTP client (used in tests).
func NewWithClient(cfg *config.Config, store *queue.Store, logger *slog.Logger, client *http.Client) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Downloader{
		cfg:    cfg,
		store:  store,
		client: client,
		logger: logging.NewComponentLogger(logger, "downloader"),
	}
}

func (d *Downloader) Prepare(ctx context.Context, task *queue.Task) error {
	file, err := d.store.GetVideoFile(ctx, task.TargetID)
	if err != nil {
		return services.Wrap(services.ErrNotFound, stageName, "load video file", "", err)
	}
	if file.RecordingStatus == queue.RecordingActive {
		return services.Wrap(services.ErrValidation, stageName, "prepare",
			"recording still in progress; stop it before downloading", nil)
	}
	return os.MkdirAll(d.cfg.VideoFileWorkDir(file.OrderID, file.ID), 0o755)
}

func (d *Downloader) Execute(ctx context.Context, task *queue.Task) (stage.Result, error) {
	logger := logging.WithContext(ctx, d.logger)
	file, err := d.store.GetVideoFile(ctx, task.TargetID)
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrNotFound, stageName, "load video file", "", err)
	}

	if result, ok := d.reuse(ctx, file.LocalPath); ok {
		logger.Info("reusing downloaded media", logging.String("path", file.LocalPath))
		return result, nil
	}

	workDir := d.cfg.VideoFileWorkDir(file.OrderID, file.ID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return stage.Result{}, services.Wrap(services.ErrConfiguration, stageName, "create work directory", workDir, err)
	}
	switch {
	case file.CapturePath != "" && capturedEnough(file.RecordingStatus):
		dest := filepath.Join(workDir, "source"+extension(file.CapturePath, ".ts"))
		if result, ok := d.reuse(ctx, dest); ok {
			return result, nil
		}
		if err := adoptCapture(file.CapturePath, dest); err != nil {
			return stage.Result{}, err
		}
		logger.Info("adopted live capture",
			logging.String("capture_path", file.CapturePath),
			logging.String("path", dest),
		)
		return d.accept(ctx, dest)

	case file.SourceURL != "":
		dest := filepath.Join(workDir, "source"+urlExtension(file.SourceURL))
		if result, ok := d.reuse(ctx, dest); ok {
			return result, nil
		}
		if err := preflight.EnsureFreeSpace(stageName, workDir, d.cfg.Media.MinFreeGiB); err != nil {
			return stage.Result{}, err
		}
		logger.Info("fetching source media", logging.String("source_url", file.SourceURL))
		written, err := d.fetch(ctx, file.SourceURL, dest)
		if err != nil {
			return stage.Result{}, err
		}
		logger.Info("source media fetched", logging.String("path", dest), logging.Int64("bytes", written))
		return d.accept(ctx, dest)

	default:
		return stage.Result{}, services.Wrap(services.ErrNotFound, stageName, "locate source",
			fmt.Sprintf("video file %d has no source url and no finished capture", file.ID), nil)
	}
}

// HealthCheck verifies the probe binary and work directory.
func (d *Downloader) HealthCheck(ctx context.Context) stage.Health {
	if d.cfg == nil {
		return stage.Unhealthy(stageName, "configuration unavailable")
	}
	if strings.TrimSpace(d.cfg.Paths.WorkDir) == "" {
		return stage.Unhealthy(stageName, "work directory not configured")
	}
	if result := preflight.CheckDirectoryAccess("work", d.cfg.Paths.WorkDir); !result.Passed {
		return stage.Unhealthy(stageName, result.Detail)
	}
	return stage.Healthy(stageName)
}

// reuse reports an existing local file that still probes as media.
func (d *Downloader) reuse(ctx context.Context, localPath string) (stage.Result, bool) {
	size, ok := fileutil.NonEmpty(localPath)
	if !ok {
		return stage.Result{}, false
	}
	if _, err := probeMedia(ctx, d.cfg.FFprobeBinary(), localPath); err != nil {
		return stage.Result{}, false
	}
	return stage.Result{LocalPath: localPath, ByteSize: size}, true
}

func (d *Downloader) accept(ctx context.Context, localPath string) (stage.Result, error) {
	probe, err := probeMedia(ctx, d.cfg.FFprobeBinary(), localPath)
	if err != nil {
		return stage.Result{}, err
	}
	if err := probe.RequireAudio(); err != nil {
		return stage.Result{}, err
	}
	size, _ := fileutil.NonEmpty(localPath)
	return stage.Result{LocalPath: localPath, ByteSize: size}, nil
}

func (d *Downloader) fetch(ctx context.Context, sourceURL, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return 0, services.Wrap(services.ErrValidation, stageName, "build request", sourceURL, err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, transportError(ctx, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, services.Wrap(services.MarkerForStatus(resp.StatusCode), stageName, "fetch",
			fmt.Sprintf("%s returned http %d", sourceURL, resp.StatusCode), nil)
	}

	pending, err := renameio.NewPendingFile(dest)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, stageName, "create pending file", dest, err)
	}
	defer func() {
		_ = pending.Cleanup()
	}()
	written, err := io.Copy(pending, resp.Body)
	if err != nil {
		return 0, transportError(ctx, err)
	}
	if written == 0 {
		return 0, services.Wrap(services.ErrValidation, stageName, "fetch", "empty response body", nil)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return 0, services.Wrap(services.ErrTransient, stageName, "commit download", dest, err)
	}
	return written, nil
}

func adoptCapture(capturePath, dest string) error {
	var parts []string
	for _, part := range recording.CaptureParts(capturePath) {
		if _, ok := fileutil.NonEmpty(part); ok {
			parts = append(parts, part)
		}
	}
	switch len(parts) {
	case 0:
		return services.Wrap(services.ErrNotFound, stageName, "adopt capture", "capture file missing or empty: "+capturePath, nil)
	case 1:
	default:
		return joinCaptureParts(parts, dest)
	}
	if err := os.Rename(parts[0], dest); err == nil {
		return nil
	}
	// cross-device work directories fall back to a verified copy
	part := fileutil.PartPath(dest)
	if err := fileutil.CopyFileVerified(parts[0], part); err != nil {
		_ = os.Remove(part)
		return services.Wrap(services.ErrTransient, stageName, "adopt capture", "", err)
	}
	if err := fileutil.Commit(part, dest); err != nil {
		_ = os.Remove(part)
		return services.Wrap(services.ErrTransient, stageName, "adopt capture", "", err)
	}
	return nil
}

// joinCaptureParts appends the transport stream parts of a resumed capture
// into dest and removes them once dest is in place.
func joinCaptureParts(parts []string, dest string) error {
	pending, err := renameio.NewPendingFile(dest)
	if err != nil {
		return services.Wrap(services.ErrTransient, stageName, "create pending file", dest, err)
	}
	defer func() {
		_ = pending.Cleanup()
	}()
	for _, part := range parts {
		if err := appendFile(pending, part); err != nil {
			return services.Wrap(services.ErrTransient, stageName, "join capture parts", part, err)
		}
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return services.Wrap(services.ErrTransient, stageName, "commit capture", dest, err)
	}
	for _, part := range parts {
		_ = fileutil.RemoveIfExists(part)
	}
	return nil
}

func appendFile(dst io.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(dst, src)
	return err
}

func capturedEnough(status queue.RecordingStatus) bool {
	return status == queue.RecordingCompleted || status == queue.RecordingStopped
}

func transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return services.Wrap(services.ErrCancelled, stageName, "fetch", "", ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, stageName, "fetch", "", err)
	}
	return services.Wrap(services.ErrTransient, stageName, "fetch", "", err)
}

func urlExtension(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ".mp4"
	}
	return extension(path.Base(parsed.Path), ".mp4")
}

func extension(name, fallback string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" || len(ext) > 6 {
		return fallback
	}
	return ext
}
