package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cardmint/internal/config"
)

const userAgent = "CardMint-Go/0.1.0"

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	NotifyOperatorPending(ctx context.Context, cardName string, confidence float64) error
	NotifyUnmatched(ctx context.Context, cardName string, confidence float64) error
	NotifyAccepted(ctx context.Context, cardName, listingSKU string) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		settings: cfg.Notifications,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	settings config.Notifications
}

func (n *ntfyService) NotifyOperatorPending(ctx context.Context, cardName string, confidence float64) error {
	if !n.settings.OperatorQueue {
		return nil
	}
	cardName = strings.TrimSpace(cardName)
	data := payload{
		title:   "CardMint - Review Ready",
		message: fmt.Sprintf("Scan ready for review: %s (%.0f%% match)", cardName, confidence*100),
		tags:    []string{"cardmint", "scan", "review"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyUnmatched(ctx context.Context, cardName string, confidence float64) error {
	if !n.settings.Unmatched {
		return nil
	}
	cardName = strings.TrimSpace(cardName)
	if cardName == "" {
		cardName = "unknown card"
	}
	data := payload{
		title:   "CardMint - No Match",
		message: fmt.Sprintf("No reasonable candidate for %s (best %.0f%%)\nManual identification required", cardName, confidence*100),
		tags:    []string{"cardmint", "scan", "unmatched"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyAccepted(ctx context.Context, cardName, listingSKU string) error {
	if !n.settings.Accepted {
		return nil
	}
	cardName = strings.TrimSpace(cardName)
	message := fmt.Sprintf("Inventoried: %s", cardName)
	if listingSKU = strings.TrimSpace(listingSKU); listingSKU != "" {
		message = fmt.Sprintf("%s\nListing: %s", message, listingSKU)
	}
	data := payload{
		title:    "CardMint - Accepted",
		message:  message,
		tags:     []string{"cardmint", "scan", "accepted"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.settings.Errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "CardMint - Error",
		message:  builder.String(),
		tags:     []string{"cardmint", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "CardMint - Test",
		message:  "Notification system test",
		tags:     []string{"cardmint", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyOperatorPending(context.Context, string, float64) error { return nil }
func (noopService) NotifyUnmatched(context.Context, string, float64) error       { return nil }
func (noopService) NotifyAccepted(context.Context, string, string) error         { return nil }
func (noopService) NotifyError(context.Context, error, string) error             { return nil }
func (noopService) TestNotification(context.Context) error                       { return nil }
