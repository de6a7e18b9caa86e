package config

const (
	defaultConfigPath               = "~/.config/rivalcast/config.toml"
	defaultDataDir                  = "~/.local/share/rivalcast"
	defaultWorkDir                  = "~/.local/share/rivalcast/work"
	defaultLogDir                   = "~/.local/share/rivalcast/logs"
	defaultAPIBind                  = "127.0.0.1:7591"
	defaultConcurrency              = 4
	defaultPollInterval             = 5
	defaultMaxRetries               = 3
	defaultRetryBackoffMaxSeconds   = 300
	defaultHeartbeatInterval        = 15
	defaultHeartbeatTimeout         = 120
	defaultReconcileInterval        = 30
	defaultRecordingStaleWindow     = 30
	defaultRecordingSupervisor      = 2
	defaultRecordingExpectedSeconds = 3600
	defaultMaxCaptureSeconds        = 4 * 3600
	defaultSegmentSeconds           = 300
	defaultDownloadTimeout          = 1800
	defaultTranscodePreset          = "veryfast"
	defaultMinFreeGiB               = 2
	defaultASRBaseURL               = "https://api.openai.com/v1/audio/transcriptions"
	defaultASRModel                 = "whisper-1"
	defaultASRTimeoutSeconds        = 120
	defaultASRRequestsPerMinute     = 50
	defaultLLMBaseURL               = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel                 = "google/gemini-3-flash-preview"
	defaultLLMReferer               = "https://github.com/rivalcast/rivalcast"
	defaultLLMTitle                 = "rivalcast"
	defaultLLMTimeoutSeconds        = 120
	defaultLLMRequestsPerMinute     = 30
	defaultNotifyRequestTimeout     = 10
	defaultArtifactsPrefix          = "reports"
	defaultRedisAddr                = "127.0.0.1:6379"
	defaultRedisChannel             = "rivalcast:wake"
	defaultAPIRequestsPerMinute     = 600
	defaultLogFormat                = "auto"
	defaultLogLevel                 = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			WorkDir: defaultWorkDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Dispatcher: Dispatcher{
			Concurrency:            defaultConcurrency,
			PollInterval:           defaultPollInterval,
			MaxRetries:             defaultMaxRetries,
			RetryBackoffMaxSeconds: defaultRetryBackoffMaxSeconds,
			HeartbeatInterval:      defaultHeartbeatInterval,
			HeartbeatTimeout:       defaultHeartbeatTimeout,
			ReconcileInterval:      defaultReconcileInterval,
		},
		Recording: Recording{
			StaleWindow:            defaultRecordingStaleWindow,
			SupervisorInterval:     defaultRecordingSupervisor,
			DefaultExpectedSeconds: defaultRecordingExpectedSeconds,
			MaxCaptureSeconds:      defaultMaxCaptureSeconds,
		},
		Media: Media{
			FFmpegBinary:    "ffmpeg",
			FFprobeBinary:   "ffprobe",
			SegmentSeconds:  defaultSegmentSeconds,
			DownloadTimeout: defaultDownloadTimeout,
			TranscodePreset: defaultTranscodePreset,
			MinFreeGiB:      defaultMinFreeGiB,
		},
		ASR: ASR{
			BaseURL:           defaultASRBaseURL,
			Model:             defaultASRModel,
			TimeoutSeconds:    defaultASRTimeoutSeconds,
			RequestsPerMinute: defaultASRRequestsPerMinute,
		},
		LLM: LLM{
			BaseURL:           defaultLLMBaseURL,
			Model:             defaultLLMModel,
			Referer:           defaultLLMReferer,
			Title:             defaultLLMTitle,
			TimeoutSeconds:    defaultLLMTimeoutSeconds,
			RequestsPerMinute: defaultLLMRequestsPerMinute,
		},
		Notifications: Notifications{
			RequestTimeout:   defaultNotifyRequestTimeout,
			OrderCompleted:   true,
			OrderFailed:      true,
			RecordingStalled: true,
		},
		Artifacts: Artifacts{
			Prefix: defaultArtifactsPrefix,
		},
		Redis: Redis{
			Addr:    defaultRedisAddr,
			Channel: defaultRedisChannel,
		},
		API: API{
			RequestsPerMinute: defaultAPIRequestsPerMinute,
			Metrics:           true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
