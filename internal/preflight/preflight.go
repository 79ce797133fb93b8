// Package preflight validates the environment before the pipeline starts:
// working directories, imaging collaborator commands, and inference
// endpoints. Checks only run for features the configuration enables.
package preflight

import (
	"context"

	"cardmint/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Corrected directory", cfg.Paths.CorrectedDir),
		CheckDirectoryAccess("Processed directory", cfg.Paths.ProcessedDir),
		CheckDirectoryAccess("Master directory", cfg.Paths.MasterDir),
	}

	if cfg.Imaging.DistortionCmd != "" {
		results = append(results, CheckCommand("Distortion stage", cfg.Imaging.DistortionCmd))
	}
	if cfg.Imaging.MasterCropCmd != "" {
		results = append(results, CheckCommand("Master crop stage", cfg.Imaging.MasterCropCmd))
	}
	if cfg.Imaging.CompressCmd != "" {
		results = append(results, CheckCommand("Compress stage", cfg.Imaging.CompressCmd))
	}

	if cfg.Inference.PrimaryBaseURL != "" {
		results = append(results, CheckPrimaryInference(cfg.Inference))
	}
	if cfg.Inference.FallbackBaseURL != "" {
		results = append(results, CheckEndpoint(ctx, "Fallback inference", cfg.Inference.FallbackBaseURL))
	}
	if cfg.Rerank.Enabled && cfg.Rerank.BaseURL != "" {
		results = append(results, CheckEndpoint(ctx, "Rerank service", cfg.Rerank.BaseURL))
	}

	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
