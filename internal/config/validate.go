package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateInference(); err != nil {
		return err
	}
	if err := c.validateRerank(); err != nil {
		return err
	}
	if err := c.validateShadowLane(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.MatchThreshold < 0 || c.Pipeline.MatchThreshold > 1 {
		return errors.New("pipeline.match_threshold must be between 0 and 1")
	}
	if c.Pipeline.MaxRetries < 0 {
		return errors.New("pipeline.max_retries must not be negative")
	}
	if c.Pipeline.RetryBackoffSeconds < 0 {
		return errors.New("pipeline.retry_backoff_seconds must not be negative")
	}
	if c.Pipeline.CandidateLimit <= 0 {
		return errors.New("pipeline.candidate_limit must be positive")
	}
	return nil
}

func (c *Config) validateInference() error {
	// Path A is optional: without an API key the worker runs Path B only.
	if c.Inference.PrimaryAPIKey != "" && c.Inference.PrimaryBaseURL == "" {
		return errors.New("inference.primary_base_url must be set when primary_api_key is configured")
	}
	if c.Inference.FallbackBaseURL == "" {
		return errors.New("inference.fallback_base_url must be set")
	}
	return nil
}

func (c *Config) validateRerank() error {
	if !c.Rerank.Enabled {
		return nil
	}
	if c.Rerank.HighConfidence < 0 || c.Rerank.HighConfidence > 1 {
		return errors.New("rerank.high_confidence must be between 0 and 1")
	}
	if c.Rerank.LowConfidence < 0 || c.Rerank.LowConfidence > 1 {
		return errors.New("rerank.low_confidence must be between 0 and 1")
	}
	if c.Rerank.LowConfidence > c.Rerank.HighConfidence {
		return errors.New("rerank.low_confidence must not exceed rerank.high_confidence")
	}
	return nil
}

func (c *Config) validateShadowLane() error {
	if !c.ShadowLane.Enabled {
		return nil
	}
	if c.ShadowLane.AutoPauseDepth <= 0 {
		return errors.New("shadow_lane.auto_pause_depth must be positive")
	}
	if c.ShadowLane.AutoResumeDepth < 0 {
		return errors.New("shadow_lane.auto_resume_depth must not be negative")
	}
	// Resume must sit below pause or the gate oscillates at the boundary.
	if c.ShadowLane.AutoResumeDepth >= c.ShadowLane.AutoPauseDepth {
		return fmt.Errorf(
			"shadow_lane.auto_resume_depth (%d) must be below auto_pause_depth (%d)",
			c.ShadowLane.AutoResumeDepth, c.ShadowLane.AutoPauseDepth,
		)
	}
	if c.ShadowLane.SampleRate < 0 || c.ShadowLane.SampleRate > 1 {
		return errors.New("shadow_lane.sample_rate must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.QueuePollInterval <= 0 {
		return errors.New("workflow.queue_poll_interval must be positive")
	}
	if c.Workflow.LeaseTimeout <= 0 {
		return errors.New("workflow.lease_timeout must be positive")
	}
	if c.Workflow.BackCaptureTTLSeconds <= 0 {
		return errors.New("workflow.back_capture_ttl_seconds must be positive")
	}
	return nil
}
