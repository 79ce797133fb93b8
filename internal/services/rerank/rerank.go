// Package rerank calls the set-disambiguation service (Path C). It runs only
// when the primary inference path succeeded and the set attribute is still
// unresolved; its own confidence is folded into three bands that decide how
// the answer is applied downstream.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cardmint/internal/queue"
)

// Band classifies a disambiguation answer by its confidence.
type Band string

const (
	// BandHigh answers overwrite the resolved set attribute directly.
	BandHigh Band = "high"
	// BandMedium answers pass to candidate retrieval as a non-binding hint.
	BandMedium Band = "medium"
	// BandLow answers are discarded.
	BandLow Band = "low"
)

const (
	defaultHighConfidence = 0.85
	defaultLowConfidence  = 0.40
	defaultTimeout        = 30 * time.Second
)

// Config holds Path C settings.
type Config struct {
	Enabled        bool
	BaseURL        string
	APIKey         string
	TimeoutSeconds int
	HighConfidence float64
	LowConfidence  float64
}

// Outcome is a banded disambiguation answer.
type Outcome struct {
	SetName    string
	Confidence float64
	Band       Band
}

// Client talks to the disambiguation service.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// New constructs a Path C client.
func New(cfg Config, opts ...Option) *Client {
	if cfg.HighConfidence <= 0 {
		cfg.HighConfidence = defaultHighConfidence
	}
	if cfg.LowConfidence <= 0 {
		cfg.LowConfidence = defaultLowConfidence
	}
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	c := &Client{cfg: cfg, httpClient: &http.Client{Timeout: timeout}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether the stage should run at all.
func (c *Client) Enabled() bool {
	return c.cfg.Enabled && strings.TrimSpace(c.cfg.BaseURL) != ""
}

type disambiguateRequest struct {
	CardName        string `json:"card_name"`
	CollectorNumber string `json:"collector_number,omitempty"`
	HPValue         int    `json:"hp_value,omitempty"`
	SetSymbol       string `json:"set_symbol,omitempty"`
	Rarity          string `json:"rarity,omitempty"`
}

type disambiguateResponse struct {
	SetName    string  `json:"set_name"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

// Disambiguate asks the service which set the extracted card belongs to and
// bands the answer. Callers treat any returned error as non-blocking
// telemetry; this stage can never fail a job.
func (c *Client) Disambiguate(ctx context.Context, extracted queue.Extraction) (Outcome, error) {
	if !c.Enabled() {
		return Outcome{}, errors.New("rerank: not enabled")
	}
	if strings.TrimSpace(extracted.CardName) == "" {
		return Outcome{}, errors.New("rerank: card name required")
	}

	encoded, err := json.Marshal(disambiguateRequest{
		CardName:        extracted.CardName,
		CollectorNumber: extracted.CollectorNumber,
		HPValue:         extracted.HPValue,
		SetSymbol:       extracted.SetSymbol,
		Rarity:          extracted.Rarity,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("rerank: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return Outcome{}, fmt.Errorf("rerank: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("rerank: http error: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{}, fmt.Errorf("rerank: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return Outcome{}, fmt.Errorf("rerank: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed disambiguateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Outcome{}, fmt.Errorf("rerank: decode response: %w", err)
	}
	if parsed.Error != "" {
		return Outcome{}, fmt.Errorf("rerank: service error: %s", parsed.Error)
	}

	return Outcome{
		SetName:    strings.TrimSpace(parsed.SetName),
		Confidence: parsed.Confidence,
		Band:       c.band(parsed.Confidence),
	}, nil
}

func (c *Client) band(confidence float64) Band {
	switch {
	case confidence >= c.cfg.HighConfidence:
		return BandHigh
	case confidence >= c.cfg.LowConfidence:
		return BandMedium
	default:
		return BandLow
	}
}
