package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	WorkDir  string `toml:"work_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Dispatcher contains task scheduling configuration.
type Dispatcher struct {
	Concurrency            int  `toml:"concurrency"`
	PollInterval           int  `toml:"poll_interval"`
	MaxRetries             int  `toml:"max_retries"`
	RetryBackoffSeconds    int  `toml:"retry_backoff_seconds"`
	RetryBackoffMaxSeconds int  `toml:"retry_backoff_max_seconds"`
	HeartbeatInterval      int  `toml:"heartbeat_interval"`
	HeartbeatTimeout       int  `toml:"heartbeat_timeout"`
	ReconcileInterval      int  `toml:"reconcile_interval"`
	ExclusiveLock          bool `toml:"exclusive_lock"`
}

// Recording contains live capture tracking configuration.
type Recording struct {
	StaleWindow            int `toml:"stale_window"`
	SupervisorInterval     int `toml:"supervisor_interval"`
	DefaultExpectedSeconds int `toml:"default_expected_seconds"`
	MaxCaptureSeconds      int `toml:"max_capture_seconds"`
}

// Media contains external media tool configuration.
type Media struct {
	FFmpegBinary    string `toml:"ffmpeg_binary"`
	FFprobeBinary   string `toml:"ffprobe_binary"`
	SegmentSeconds  int    `toml:"segment_seconds"`
	DownloadTimeout int    `toml:"download_timeout"`
	TranscodePreset string `toml:"transcode_preset"`
	MinFreeGiB      int    `toml:"min_free_gib"`
}

// ASR contains speech-to-text service configuration.
type ASR struct {
	BaseURL           string `toml:"base_url"`
	APIKey            string `toml:"api_key"`
	Model             string `toml:"model"`
	Language          string `toml:"language"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
}

// LLM contains shared LLM connection settings used by analysis and reporting.
type LLM struct {
	APIKey            string `toml:"api_key"`
	BaseURL           string `toml:"base_url"`
	Model             string `toml:"model"`
	Referer           string `toml:"referer"`
	Title             string `toml:"title"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic        string `toml:"ntfy_topic"`
	RequestTimeout   int    `toml:"request_timeout"`
	OrderCompleted   bool   `toml:"order_completed"`
	OrderFailed      bool   `toml:"order_failed"`
	RecordingStalled bool   `toml:"recording_stalled"`
}

// Artifacts contains S3-compatible report upload configuration.
type Artifacts struct {
	Enabled   bool   `toml:"enabled"`
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	Endpoint  string `toml:"endpoint"`
	Prefix    string `toml:"prefix"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	PathStyle bool   `toml:"path_style"`
}

// Redis contains the optional cross-process wake bus configuration.
type Redis struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Channel  string `toml:"channel"`
}

// API contains HTTP surface tuning.
type API struct {
	RequestsPerMinute int  `toml:"requests_per_minute"`
	Metrics           bool `toml:"metrics"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for rivalcast.
//
// Configuration sections by subsystem:
//   - Paths: database, working and log directories plus the API bind address
//   - Dispatcher: concurrency ceiling, polling, retries and reconciliation
//   - Recording: live capture staleness and supervision
//   - Media: ffmpeg/ffprobe binaries and segment length
//   - ASR: speech-to-text service
//   - LLM: analysis and report model
//   - Notifications: ntfy push notification settings
//   - Artifacts: S3 report upload
//   - Redis: cross-process dispatcher wake bus
//   - API: rate limiting and metrics exposure
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Dispatcher    Dispatcher    `toml:"dispatcher"`
	Recording     Recording     `toml:"recording"`
	Media         Media         `toml:"media"`
	ASR           ASR           `toml:"asr"`
	LLM           LLM           `toml:"llm"`
	Notifications Notifications `toml:"notifications"`
	Artifacts     Artifacts     `toml:"artifacts"`
	Redis         Redis         `toml:"redis"`
	API           API           `toml:"api"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("rivalcast.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.WorkDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the task store database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "rivalcast.db")
}

// LockPath returns the location of the daemon lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "rivalcastd.lock")
}

// OrderWorkDir returns the working directory holding an order's media.
func (c *Config) OrderWorkDir(orderID int64) string {
	return filepath.Join(c.Paths.WorkDir, fmt.Sprintf("order-%d", orderID))
}

// VideoFileWorkDir returns the working directory holding one participant's media.
func (c *Config) VideoFileWorkDir(orderID, videoFileID int64) string {
	return filepath.Join(c.OrderWorkDir(orderID), fmt.Sprintf("file-%d", videoFileID))
}

// PollInterval returns the dispatcher fallback poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Dispatcher.PollInterval) * time.Second
}

// HeartbeatInterval returns how often in-flight tasks refresh their heartbeat.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Dispatcher.HeartbeatInterval) * time.Second
}

// HeartbeatTimeout returns the age after which a processing task is considered orphaned.
func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.Dispatcher.HeartbeatTimeout) * time.Second
}

// ReconcileInterval returns how often the stale task sweep runs.
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.Dispatcher.ReconcileInterval) * time.Second
}

// RetryBackoff returns the base and maximum retry delay. A zero base disables backoff.
func (c *Config) RetryBackoff() (time.Duration, time.Duration) {
	return time.Duration(c.Dispatcher.RetryBackoffSeconds) * time.Second,
		time.Duration(c.Dispatcher.RetryBackoffMaxSeconds) * time.Second
}

// RecordingStaleWindow returns the heartbeat gap after which a recording is reported stalled.
func (c *Config) RecordingStaleWindow() time.Duration {
	return time.Duration(c.Recording.StaleWindow) * time.Second
}

// FFmpegBinary returns the ffmpeg executable used for capture and transcoding.
func (c *Config) FFmpegBinary() string {
	if v := strings.TrimSpace(c.Media.FFmpegBinary); v != "" {
		return v
	}
	return "ffmpeg"
}

// FFprobeBinary returns the ffprobe executable name used for media validation.
func (c *Config) FFprobeBinary() string {
	if v := strings.TrimSpace(c.Media.FFprobeBinary); v != "" {
		return v
	}
	return "ffprobe"
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := renameio.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// LLMConfig contains common LLM settings used across stages.
type LLMConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	Referer           string
	Title             string
	TimeoutSeconds    int
	RequestsPerMinute int
}

// GetLLM returns the shared LLM connection settings.
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		APIKey:            strings.TrimSpace(c.LLM.APIKey),
		BaseURL:           strings.TrimSpace(c.LLM.BaseURL),
		Model:             strings.TrimSpace(c.LLM.Model),
		Referer:           strings.TrimSpace(c.LLM.Referer),
		Title:             strings.TrimSpace(c.LLM.Title),
		TimeoutSeconds:    c.LLM.TimeoutSeconds,
		RequestsPerMinute: c.LLM.RequestsPerMinute,
	}
}
