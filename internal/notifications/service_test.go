package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cardmint/internal/config"
	"cardmint/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyAccepted(context.Background(), "Pikachu", "SKU-1"); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		notify         func(notifications.Service) error
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name: "operator pending",
			notify: func(svc notifications.Service) error {
				return svc.NotifyOperatorPending(context.Background(), "Pikachu", 0.92)
			},
			expectTitle:   "CardMint - Review Ready",
			expectMessage: "Scan ready for review: Pikachu (92% match)",
			expectTags:    "cardmint,scan,review",
		},
		{
			name: "unmatched",
			notify: func(svc notifications.Service) error {
				return svc.NotifyUnmatched(context.Background(), "Pikachu", 0.1)
			},
			expectTitle:   "CardMint - No Match",
			expectMessage: "No reasonable candidate for Pikachu (best 10%)\nManual identification required",
			expectTags:    "cardmint,scan,unmatched",
		},
		{
			name: "accepted",
			notify: func(svc notifications.Service) error {
				return svc.NotifyAccepted(context.Background(), "Pikachu", "JUNGLE-060-base-EN-1a2b3c4d-NM")
			},
			expectTitle:    "CardMint - Accepted",
			expectMessage:  "Inventoried: Pikachu\nListing: JUNGLE-060-base-EN-1a2b3c4d-NM",
			expectTags:     "cardmint,scan,accepted",
			expectPriority: "high",
		},
		{
			name: "error",
			notify: func(svc notifications.Service) error {
				return svc.NotifyError(context.Background(), errors.New("mint failed"), "accept")
			},
			expectTitle:    "CardMint - Error",
			expectMessage:  "Error with accept: mint failed",
			expectTags:     "cardmint,error,alert",
			expectPriority: "high",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Fatalf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Fatalf("read body: %v", err)
				}
				captured.body = string(body)
				_ = r.Body.Close()
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5

			svc := notifications.NewService(&cfg)
			if err := tc.notify(svc); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceHonorsSuppressionToggles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected call for suppressed notification: %s", r.URL.String())
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.OperatorQueue = false
	cfg.Notifications.Unmatched = false
	cfg.Notifications.Accepted = false
	cfg.Notifications.Errors = false

	svc := notifications.NewService(&cfg)
	ctx := context.Background()
	if err := svc.NotifyOperatorPending(ctx, "Pikachu", 0.9); err != nil {
		t.Fatalf("suppressed operator pending errored: %v", err)
	}
	if err := svc.NotifyUnmatched(ctx, "Pikachu", 0.1); err != nil {
		t.Fatalf("suppressed unmatched errored: %v", err)
	}
	if err := svc.NotifyAccepted(ctx, "Pikachu", "sku"); err != nil {
		t.Fatalf("suppressed accepted errored: %v", err)
	}
	if err := svc.NotifyError(ctx, errors.New("x"), "y"); err != nil {
		t.Fatalf("suppressed error notification errored: %v", err)
	}
}
