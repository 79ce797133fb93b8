package config

const (
	defaultDataDir      = "~/.local/share/cardmint"
	defaultLogDir       = "~/.local/share/cardmint/logs"
	defaultCorrectedDir = "~/.local/share/cardmint/corrected"
	defaultProcessedDir = "~/.local/share/cardmint/processed"
	defaultMasterDir    = "~/.local/share/cardmint/masters"
	defaultAPIBind      = "127.0.0.1:8093"

	defaultMatchThreshold      = 0.70
	defaultMaxRetries          = 3
	defaultRetryBackoffSeconds = 2
	defaultCandidateLimit      = 3
	defaultStageTimeoutSeconds = 120

	defaultPrimaryBaseURL         = "https://api.openai.com/v1/chat/completions"
	defaultPrimaryModel           = "gpt-5-mini"
	defaultPrimaryTimeoutSeconds  = 45
	defaultFallbackBaseURL        = "http://127.0.0.1:1234/v1/chat/completions"
	defaultFallbackModel          = "mistral-small"
	defaultFallbackTimeoutSeconds = 90

	defaultRerankTimeoutSeconds = 20
	defaultRerankHigh           = 0.85
	defaultRerankLow            = 0.40

	defaultAutoPauseDepth  = 12
	defaultAutoResumeDepth = 6
	defaultSampleRate      = 0.10

	defaultQueuePollInterval     = 2
	defaultErrorRetryInterval    = 5
	defaultLeaseTimeout          = 300
	defaultIdleKeepwarmSeconds   = 600
	defaultBackCaptureTTLSeconds = 120

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:      defaultDataDir,
			LogDir:       defaultLogDir,
			CorrectedDir: defaultCorrectedDir,
			ProcessedDir: defaultProcessedDir,
			MasterDir:    defaultMasterDir,
			APIBind:      defaultAPIBind,
		},
		Pipeline: Pipeline{
			MatchThreshold:      defaultMatchThreshold,
			MaxRetries:          defaultMaxRetries,
			RetryBackoffSeconds: defaultRetryBackoffSeconds,
			CandidateLimit:      defaultCandidateLimit,
			StageTimeoutSeconds: defaultStageTimeoutSeconds,
		},
		Inference: Inference{
			PrimaryBaseURL:         defaultPrimaryBaseURL,
			PrimaryModel:           defaultPrimaryModel,
			PrimaryTimeoutSeconds:  defaultPrimaryTimeoutSeconds,
			FallbackBaseURL:        defaultFallbackBaseURL,
			FallbackModel:          defaultFallbackModel,
			FallbackTimeoutSeconds: defaultFallbackTimeoutSeconds,
		},
		Rerank: Rerank{
			Enabled:        true,
			TimeoutSeconds: defaultRerankTimeoutSeconds,
			HighConfidence: defaultRerankHigh,
			LowConfidence:  defaultRerankLow,
		},
		ShadowLane: ShadowLane{
			Enabled:         true,
			AutoPauseDepth:  defaultAutoPauseDepth,
			AutoResumeDepth: defaultAutoResumeDepth,
			SampleRate:      defaultSampleRate,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
			OperatorQueue:  true,
			Unmatched:      true,
			Accepted:       true,
			Errors:         true,
		},
		Workflow: Workflow{
			QueuePollInterval:     defaultQueuePollInterval,
			ErrorRetryInterval:    defaultErrorRetryInterval,
			LeaseTimeout:          defaultLeaseTimeout,
			IdleKeepwarmSeconds:   defaultIdleKeepwarmSeconds,
			BackCaptureTTLSeconds: defaultBackCaptureTTLSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
