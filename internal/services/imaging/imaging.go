// Package imaging runs the external image stage collaborators: distortion
// correction, master crop, and resize/compress. Each collaborator is a script
// or binary that takes an input path and an output directory and prints a
// single JSON result to stdout. All stages are optional and best-effort.
package imaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

var commandContext = exec.CommandContext

// Result is the collaborator's stdout contract.
type Result struct {
	Success          bool   `json:"success"`
	OutputPath       string `json:"outputPath,omitempty"`
	ProcessingTimeMs int64  `json:"processingTimeMs,omitempty"`
	Error            string `json:"error,omitempty"`
}

// Stage is one image processing step.
type Stage struct {
	name      string
	command   string
	outputDir string
	timeout   time.Duration
}

// NewStage builds a collaborator wrapper. An empty command produces an
// unconfigured stage that Process callers should skip.
func NewStage(name, command, outputDir string, timeout time.Duration) *Stage {
	return &Stage{
		name:      name,
		command:   strings.TrimSpace(command),
		outputDir: strings.TrimSpace(outputDir),
		timeout:   timeout,
	}
}

// Name returns the stage name used for logging and timing keys.
func (s *Stage) Name() string { return s.name }

// Configured reports whether a collaborator command is set.
func (s *Stage) Configured() bool { return s.command != "" }

// Process invokes the collaborator on inputPath and returns its parsed result.
// A non-JSON stdout, a nonzero exit, or success=false all surface as errors;
// the caller decides whether the stage is fatal.
func (s *Stage) Process(ctx context.Context, inputPath string) (Result, error) {
	if !s.Configured() {
		return Result{}, fmt.Errorf("%s stage not configured", s.name)
	}
	if strings.TrimSpace(inputPath) == "" {
		return Result{}, errors.New("input path required")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	args := []string{inputPath}
	if s.outputDir != "" {
		args = append(args, s.outputDir)
	}
	cmd := commandContext(ctx, s.command, args...) //nolint:gosec
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{}, fmt.Errorf("%s collaborator exited: %w: %s", s.name, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return Result{}, fmt.Errorf("run %s collaborator: %w", s.name, err)
	}

	result, err := parseResult(output)
	if err != nil {
		return Result{}, fmt.Errorf("%s collaborator output: %w", s.name, err)
	}
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "collaborator reported failure"
		}
		return result, fmt.Errorf("%s stage failed: %s", s.name, msg)
	}
	if strings.TrimSpace(result.OutputPath) == "" {
		return result, fmt.Errorf("%s stage returned no output path", s.name)
	}
	return result, nil
}

// parseResult finds the JSON result on stdout. Collaborators may print
// progress lines first; the last JSON object wins.
func parseResult(output []byte) (Result, error) {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}
		var result Result
		if err := json.Unmarshal([]byte(line), &result); err == nil {
			return result, nil
		}
	}
	return Result{}, errors.New("no JSON result on stdout")
}
