package inference

import (
	"context"
	"net/http"
	"time"
)

// PathB is the inference path name recorded for the local fallback provider.
const PathB = "B"

// FallbackConfig holds Path B settings. The endpoint is an OpenAI-compatible
// local server, so no API key is needed.
type FallbackConfig struct {
	BaseURL        string
	Model          string
	TimeoutSeconds int
}

// Fallback talks to the local model. It is treated as always-available: its
// errors propagate to the top-level transient classifier instead of another
// fallback layer.
type Fallback struct {
	cfg        FallbackConfig
	httpClient *http.Client
}

// FallbackOption customizes the client.
type FallbackOption func(*Fallback)

// WithFallbackHTTPClient overrides the default HTTP client.
func WithFallbackHTTPClient(client *http.Client) FallbackOption {
	return func(f *Fallback) {
		if client != nil {
			f.httpClient = client
		}
	}
}

// NewFallback constructs the Path B client.
func NewFallback(cfg FallbackConfig, opts ...FallbackOption) *Fallback {
	f := &Fallback{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: httpTimeout(cfg.TimeoutSeconds)},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fallback) Name() string { return PathB }

// Infer extracts attributes via the local model.
func (f *Fallback) Infer(ctx context.Context, imagePath string) (Result, error) {
	payload, err := visionRequest(f.cfg.Model, imagePath)
	if err != nil {
		return Result{}, err
	}
	start := time.Now()
	content, err := postChat(ctx, f.httpClient, f.cfg.BaseURL, "", payload)
	if err != nil {
		return Result{}, err
	}
	extracted, err := DecodeExtraction(content)
	if err != nil {
		return Result{}, err
	}
	return Result{Extracted: extracted, Elapsed: time.Since(start)}, nil
}

// Warmup sends a tiny text-only completion to pull the model into memory.
// Best-effort: the caller logs failures and moves on.
func (f *Fallback) Warmup(ctx context.Context) error {
	payload := chatRequest{
		Model: f.cfg.Model,
		Messages: []chatMessage{
			{Role: "user", Content: "Respond with the word ready."},
		},
		Temperature: 0,
	}
	_, err := postChat(ctx, f.httpClient, f.cfg.BaseURL, "", payload)
	return err
}
