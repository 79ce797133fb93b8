package inference

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// PathA is the inference path name recorded for the primary provider.
const PathA = "A"

// FallbackError is the typed signal that the primary path is done trying and
// the caller should switch to the fallback provider. It wraps the final
// primary failure.
type FallbackError struct {
	Cause error
}

func (e *FallbackError) Error() string {
	return fmt.Sprintf("primary inference exhausted, fall back: %v", e.Cause)
}

func (e *FallbackError) Unwrap() error { return e.Cause }

// PrimaryConfig holds Path A settings.
type PrimaryConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	TimeoutSeconds int
}

// Primary talks to the hosted vision model. Retryable failures get exactly one
// internal retry before the typed fallback signal is raised.
type Primary struct {
	cfg        PrimaryConfig
	httpClient *http.Client
	sleeper    func(time.Duration)
}

// PrimaryOption customizes the client.
type PrimaryOption func(*Primary)

// WithPrimaryHTTPClient overrides the default HTTP client.
func WithPrimaryHTTPClient(client *http.Client) PrimaryOption {
	return func(p *Primary) {
		if client != nil {
			p.httpClient = client
		}
	}
}

// WithPrimarySleeper overrides how the retry pause is performed.
func WithPrimarySleeper(sleeper func(time.Duration)) PrimaryOption {
	return func(p *Primary) {
		p.sleeper = sleeper
	}
}

// NewPrimary constructs the Path A client.
func NewPrimary(cfg PrimaryConfig, opts ...PrimaryOption) *Primary {
	p := &Primary{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: httpTimeout(cfg.TimeoutSeconds)},
		sleeper:    time.Sleep,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Configured reports whether Path A can be attempted at all.
func (p *Primary) Configured() bool {
	return strings.TrimSpace(p.cfg.APIKey) != "" && strings.TrimSpace(p.cfg.BaseURL) != ""
}

func (p *Primary) Name() string { return PathA }

// Infer extracts attributes via the hosted model. Any terminal failure is
// returned as a *FallbackError so the worker never has to classify it again.
func (p *Primary) Infer(ctx context.Context, imagePath string) (Result, error) {
	if !p.Configured() {
		return Result{}, &FallbackError{Cause: errors.New("primary provider not configured")}
	}

	payload, err := visionRequest(p.cfg.Model, imagePath)
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	content, err := postChat(ctx, p.httpClient, p.cfg.BaseURL, p.cfg.APIKey, payload)
	if err != nil && retryable(err) && ctx.Err() == nil {
		p.sleeper(time.Second)
		content, err = postChat(ctx, p.httpClient, p.cfg.BaseURL, p.cfg.APIKey, payload)
	}
	if err != nil {
		return Result{}, &FallbackError{Cause: err}
	}

	extracted, err := DecodeExtraction(content)
	if err != nil {
		return Result{}, &FallbackError{Cause: err}
	}
	return Result{Extracted: extracted, Elapsed: time.Since(start)}, nil
}

// retryable classifies a primary failure as worth one more attempt: rate
// limits, server errors, and network timeouts. Client errors and malformed
// payloads are not.
func retryable(err error) bool {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusRequestTimeout ||
			statusErr.StatusCode == http.StatusTooManyRequests ||
			statusErr.StatusCode >= http.StatusInternalServerError
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
