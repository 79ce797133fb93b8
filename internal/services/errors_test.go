package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"cardmint/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "inference", "path-a", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"inference", "path-a", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestIsTransientClassification(t *testing.T) {
	transient := []error{
		services.Wrap(services.ErrTransient, "inference", "path-a", "upstream flapped", nil),
		services.Wrap(services.ErrTimeout, "inference", "path-b", "slow", nil),
		errors.New("dial tcp 127.0.0.1:1234: connection refused"),
		errors.New("Post \"http://host/v1\": context deadline exceeded"),
		errors.New("read: connection reset by peer"),
		fmt.Errorf("call inference: %w", context.DeadlineExceeded),
	}
	for _, err := range transient {
		if !services.IsTransient(err) {
			t.Errorf("expected transient: %v", err)
		}
	}

	terminal := []error{
		nil,
		services.Wrap(services.ErrValidation, "extract", "parse", "bad payload", nil),
		services.Wrap(services.ErrConfiguration, "inference", "path-a", "no api key", nil),
		errors.New("image decode failed"),
	}
	for _, err := range terminal {
		if services.IsTransient(err) {
			t.Errorf("expected terminal: %v", err)
		}
	}
}

func TestErrorCodeMapping(t *testing.T) {
	cases := map[string]error{
		"E_VALIDATION":    services.Wrap(services.ErrValidation, "", "", "bad", nil),
		"E_CONFIGURATION": services.Wrap(services.ErrConfiguration, "", "", "bad", nil),
		"E_NOT_FOUND":     services.Wrap(services.ErrNotFound, "", "", "gone", nil),
		"E_TIMEOUT":       services.Wrap(services.ErrTimeout, "", "", "slow", nil),
		"E_EXTERNAL_TOOL": services.Wrap(services.ErrExternalTool, "", "", "crashed", nil),
		"E_INTERNAL":      errors.New("plain"),
		"":                nil,
	}
	for want, err := range cases {
		if got := services.ErrorCode(err); got != want {
			t.Errorf("ErrorCode(%v) = %q, want %q", err, got, want)
		}
	}
}
