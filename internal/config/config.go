package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir      string `toml:"data_dir"`
	LogDir       string `toml:"log_dir"`
	CorrectedDir string `toml:"corrected_dir"`
	ProcessedDir string `toml:"processed_dir"`
	MasterDir    string `toml:"master_dir"`
	APIBind      string `toml:"api_bind"`
}

// Pipeline contains stage orchestration settings for the scan worker.
type Pipeline struct {
	// MatchThreshold is the minimum best-candidate confidence required to
	// surface a job for operator review instead of marking it unmatched.
	MatchThreshold float64 `toml:"match_threshold"`
	MaxRetries     int     `toml:"max_retries"`
	// RetryBackoffSeconds is the base of the exponential requeue backoff.
	RetryBackoffSeconds int `toml:"retry_backoff_seconds"`
	CandidateLimit      int `toml:"candidate_limit"`
	// StageTimeoutSeconds bounds each external image collaborator call.
	StageTimeoutSeconds int `toml:"stage_timeout_seconds"`
}

// Inference contains dual-path AI provider settings.
type Inference struct {
	// Path A: primary hosted provider (OpenAI-compatible chat completions).
	PrimaryAPIKey         string `toml:"primary_api_key"`
	PrimaryBaseURL        string `toml:"primary_base_url"`
	PrimaryModel          string `toml:"primary_model"`
	PrimaryTimeoutSeconds int    `toml:"primary_timeout_seconds"`

	// Path B: local fallback provider (LM Studio).
	FallbackBaseURL        string `toml:"fallback_base_url"`
	FallbackModel          string `toml:"fallback_model"`
	FallbackTimeoutSeconds int    `toml:"fallback_timeout_seconds"`
}

// Imaging contains the external image stage collaborator commands. Each is a
// script or binary invoked per scan; an empty command skips that stage.
type Imaging struct {
	DistortionCmd string `toml:"distortion_cmd"`
	MasterCropCmd string `toml:"master_crop_cmd"`
	CompressCmd   string `toml:"compress_cmd"`
}

// Rerank contains Path C set-disambiguation settings.
type Rerank struct {
	Enabled        bool    `toml:"enabled"`
	BaseURL        string  `toml:"base_url"`
	APIKey         string  `toml:"api_key"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	// HighConfidence and LowConfidence bound the medium band: results at or
	// above High overwrite the set attribute, results below Low are discarded.
	HighConfidence float64 `toml:"high_confidence"`
	LowConfidence  float64 `toml:"low_confidence"`
}

// ShadowLane contains the queue-depth gated sampling settings.
type ShadowLane struct {
	Enabled         bool    `toml:"enabled"`
	AutoPauseDepth  int     `toml:"auto_pause_depth"`
	AutoResumeDepth int     `toml:"auto_resume_depth"`
	SampleRate      float64 `toml:"sample_rate"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	OperatorQueue  bool   `toml:"operator_queue"`
	Unmatched      bool   `toml:"unmatched"`
	Accepted       bool   `toml:"accepted"`
	Errors         bool   `toml:"errors"`
}

// Workflow contains daemon timing and lease settings.
type Workflow struct {
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	LeaseTimeout       int `toml:"lease_timeout"`
	// IdleKeepwarmSeconds is how long the worker may sit idle before it
	// fires a one-shot fallback-provider health probe.
	IdleKeepwarmSeconds int `toml:"idle_keepwarm_seconds"`
	// BackCaptureTTLSeconds caps how long a front scan waits for its
	// corresponding back-side capture.
	BackCaptureTTLSeconds int `toml:"back_capture_ttl_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for cardmint.
//
// Configuration sections by subsystem:
//   - Paths: directories and API bind address
//   - Pipeline: stage thresholds, retries, and backoff
//   - Inference: dual-path AI provider connections
//   - Imaging: external image stage collaborator commands
//   - Rerank: Path C set disambiguation
//   - ShadowLane: depth-gated comparison sampling
//   - Notifications: ntfy push notification settings
//   - Workflow: polling intervals, lease and correlation timeouts
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Inference     Inference     `toml:"inference"`
	Imaging       Imaging       `toml:"imaging"`
	Rerank        Rerank        `toml:"rerank"`
	ShadowLane    ShadowLane    `toml:"shadow_lane"`
	Notifications Notifications `toml:"notifications"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/cardmint/config.toml")
}

// SampleConfig returns the embedded sample configuration document.
func SampleConfig() string {
	return sampleConfig
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. The second return value
// is the resolved path; the third reports whether a file was found there.
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
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("cardmint.toml")
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
	for _, dir := range []string{
		c.Paths.DataDir,
		c.Paths.LogDir,
		c.Paths.CorrectedDir,
		c.Paths.ProcessedDir,
		c.Paths.MasterDir,
	} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "cardmint.db")
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.CorrectedDir, err = expandPath(c.Paths.CorrectedDir); err != nil {
		return fmt.Errorf("paths.corrected_dir: %w", err)
	}
	if c.Paths.ProcessedDir, err = expandPath(c.Paths.ProcessedDir); err != nil {
		return fmt.Errorf("paths.processed_dir: %w", err)
	}
	if c.Paths.MasterDir, err = expandPath(c.Paths.MasterDir); err != nil {
		return fmt.Errorf("paths.master_dir: %w", err)
	}

	c.Inference.PrimaryAPIKey = strings.TrimSpace(c.Inference.PrimaryAPIKey)
	c.Inference.PrimaryBaseURL = strings.TrimSpace(c.Inference.PrimaryBaseURL)
	c.Inference.FallbackBaseURL = strings.TrimSpace(c.Inference.FallbackBaseURL)
	if c.Inference.FallbackBaseURL == "" {
		c.Inference.FallbackBaseURL = defaultFallbackBaseURL
	}
	c.Imaging.DistortionCmd = strings.TrimSpace(c.Imaging.DistortionCmd)
	c.Imaging.MasterCropCmd = strings.TrimSpace(c.Imaging.MasterCropCmd)
	c.Imaging.CompressCmd = strings.TrimSpace(c.Imaging.CompressCmd)
	c.Rerank.BaseURL = strings.TrimSpace(c.Rerank.BaseURL)

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	return nil
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, path[2:]), nil
	}
	return filepath.Abs(path)
}
