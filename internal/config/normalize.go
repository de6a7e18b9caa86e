package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeDispatcher(); err != nil {
		return err
	}
	c.normalizeMedia()
	c.normalizeASR()
	c.normalizeLLM()
	c.normalizeArtifacts()
	if err := c.normalizeRedis(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	if value, ok := os.LookupEnv("RIVALCAST_API_TOKEN"); ok {
		c.Paths.APIToken = value
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeDispatcher() error {
	overrides := []struct {
		env    string
		target *int
	}{
		{"RIVALCAST_CONCURRENCY", &c.Dispatcher.Concurrency},
		{"RIVALCAST_POLL_INTERVAL", &c.Dispatcher.PollInterval},
		{"RIVALCAST_MAX_RETRIES", &c.Dispatcher.MaxRetries},
	}
	for _, o := range overrides {
		value, ok := os.LookupEnv(o.env)
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%s: %w", o.env, err)
		}
		*o.target = parsed
	}
	return nil
}

func (c *Config) normalizeMedia() {
	c.Media.FFmpegBinary = strings.TrimSpace(c.Media.FFmpegBinary)
	c.Media.FFprobeBinary = strings.TrimSpace(c.Media.FFprobeBinary)
	c.Media.TranscodePreset = strings.TrimSpace(c.Media.TranscodePreset)
	if c.Media.TranscodePreset == "" {
		c.Media.TranscodePreset = defaultTranscodePreset
	}
}

func (c *Config) normalizeASR() {
	if value, ok := os.LookupEnv("RIVALCAST_ASR_API_KEY"); ok {
		c.ASR.APIKey = value
	}
	c.ASR.APIKey = strings.TrimSpace(c.ASR.APIKey)
	c.ASR.BaseURL = strings.TrimSpace(c.ASR.BaseURL)
	if c.ASR.BaseURL == "" {
		c.ASR.BaseURL = defaultASRBaseURL
	}
	c.ASR.Model = strings.TrimSpace(c.ASR.Model)
	if c.ASR.Model == "" {
		c.ASR.Model = defaultASRModel
	}
	c.ASR.Language = strings.ToLower(strings.TrimSpace(c.ASR.Language))
}

func (c *Config) normalizeLLM() {
	if value, ok := os.LookupEnv("RIVALCAST_LLM_API_KEY"); ok {
		c.LLM.APIKey = value
	} else if c.LLM.APIKey == "" {
		if value, ok := os.LookupEnv("OPENROUTER_API_KEY"); ok {
			c.LLM.APIKey = value
		}
	}
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
}

func (c *Config) normalizeArtifacts() {
	c.Artifacts.Bucket = strings.TrimSpace(c.Artifacts.Bucket)
	c.Artifacts.Region = strings.TrimSpace(c.Artifacts.Region)
	c.Artifacts.Endpoint = strings.TrimSpace(c.Artifacts.Endpoint)
	c.Artifacts.Prefix = strings.Trim(strings.TrimSpace(c.Artifacts.Prefix), "/")
}

func (c *Config) normalizeRedis() error {
	if value, ok := os.LookupEnv("RIVALCAST_REDIS_ADDR"); ok && strings.TrimSpace(value) != "" {
		c.Redis.Addr = strings.TrimSpace(value)
		c.Redis.Enabled = true
	}
	c.Redis.Addr = strings.TrimSpace(c.Redis.Addr)
	if c.Redis.Addr == "" {
		c.Redis.Addr = defaultRedisAddr
	}
	c.Redis.Channel = strings.TrimSpace(c.Redis.Channel)
	if c.Redis.Channel == "" {
		c.Redis.Channel = defaultRedisChannel
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
