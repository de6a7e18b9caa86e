package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDispatcher(); err != nil {
		return err
	}
	if err := c.validateRecording(); err != nil {
		return err
	}
	if err := c.validateMedia(); err != nil {
		return err
	}
	if err := c.validateServices(); err != nil {
		return err
	}
	if err := c.validateArtifacts(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDispatcher() error {
	if err := ensurePositiveMap(map[string]int{
		"dispatcher.concurrency":        c.Dispatcher.Concurrency,
		"dispatcher.poll_interval":      c.Dispatcher.PollInterval,
		"dispatcher.heartbeat_interval": c.Dispatcher.HeartbeatInterval,
		"dispatcher.heartbeat_timeout":  c.Dispatcher.HeartbeatTimeout,
		"dispatcher.reconcile_interval": c.Dispatcher.ReconcileInterval,
	}); err != nil {
		return err
	}
	if c.Dispatcher.MaxRetries < 0 {
		return errors.New("dispatcher.max_retries must be >= 0")
	}
	if c.Dispatcher.HeartbeatTimeout <= c.Dispatcher.HeartbeatInterval {
		return errors.New("dispatcher.heartbeat_timeout must be greater than dispatcher.heartbeat_interval")
	}
	if c.Dispatcher.RetryBackoffSeconds < 0 {
		return errors.New("dispatcher.retry_backoff_seconds must be >= 0")
	}
	if c.Dispatcher.RetryBackoffSeconds > 0 && c.Dispatcher.RetryBackoffMaxSeconds < c.Dispatcher.RetryBackoffSeconds {
		return errors.New("dispatcher.retry_backoff_max_seconds must be >= dispatcher.retry_backoff_seconds")
	}
	return nil
}

func (c *Config) validateRecording() error {
	if err := ensurePositiveMap(map[string]int{
		"recording.stale_window":        c.Recording.StaleWindow,
		"recording.supervisor_interval": c.Recording.SupervisorInterval,
	}); err != nil {
		return err
	}
	if c.Recording.DefaultExpectedSeconds < 0 {
		return errors.New("recording.default_expected_seconds must be >= 0")
	}
	if c.Recording.MaxCaptureSeconds < 0 {
		return errors.New("recording.max_capture_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validateMedia() error {
	if err := ensurePositiveMap(map[string]int{
		"media.segment_seconds":  c.Media.SegmentSeconds,
		"media.download_timeout": c.Media.DownloadTimeout,
	}); err != nil {
		return err
	}
	if c.Media.MinFreeGiB < 0 {
		return errors.New("media.min_free_gib must be >= 0")
	}
	return nil
}

func (c *Config) validateServices() error {
	if err := ensurePositiveMap(map[string]int{
		"asr.timeout_seconds":           c.ASR.TimeoutSeconds,
		"llm.timeout_seconds":           c.LLM.TimeoutSeconds,
		"notifications.request_timeout": c.Notifications.RequestTimeout,
		"api.requests_per_minute":       c.API.RequestsPerMinute,
	}); err != nil {
		return err
	}
	if c.ASR.RequestsPerMinute < 0 {
		return errors.New("asr.requests_per_minute must be >= 0")
	}
	if c.LLM.RequestsPerMinute < 0 {
		return errors.New("llm.requests_per_minute must be >= 0")
	}
	return nil
}

func (c *Config) validateArtifacts() error {
	if !c.Artifacts.Enabled {
		return nil
	}
	if c.Artifacts.Bucket == "" {
		return errors.New("artifacts.bucket must be set when artifacts.enabled is true")
	}
	if c.Artifacts.Region == "" && c.Artifacts.Endpoint == "" {
		return errors.New("artifacts.region or artifacts.endpoint must be set when artifacts.enabled is true")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	var invalid []string
	for key, value := range values {
		if value <= 0 {
			invalid = append(invalid, key)
		}
	}
	if len(invalid) == 0 {
		return nil
	}
	if len(invalid) == 1 {
		return fmt.Errorf("%s must be positive", invalid[0])
	}
	slices.Sort(invalid)
	return fmt.Errorf("%s must be positive", strings.Join(invalid, ", "))
}
