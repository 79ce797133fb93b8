package testsupport

import (
	"path/filepath"
	"testing"

	"cardmint/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.CorrectedDir = filepath.Join(base, "corrected")
	cfg.Paths.ProcessedDir = filepath.Join(base, "processed")
	cfg.Paths.MasterDir = filepath.Join(base, "masters")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Pipeline.RetryBackoffSeconds = 0

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithMatchThreshold overrides the candidate acceptance cutoff.
func WithMatchThreshold(threshold float64) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Pipeline.MatchThreshold = threshold
	}
}

// WithMaxRetries overrides the transient-failure retry cap.
func WithMaxRetries(retries int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Pipeline.MaxRetries = retries
	}
}

// WithPrimaryInference points Path A at the given endpoint with a test key.
func WithPrimaryInference(baseURL string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Inference.PrimaryAPIKey = "test"
		cfg.Inference.PrimaryBaseURL = baseURL
	}
}

// WithFallbackInference points Path B at the given endpoint.
func WithFallbackInference(baseURL string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Inference.FallbackBaseURL = baseURL
	}
}
