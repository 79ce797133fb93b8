package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runCommand(t *testing.T, srvURL string, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	if srvURL != "" {
		addr := strings.TrimPrefix(srvURL, "http://")
		args = append(args, "--api", addr)
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigInitWritesSample(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")

	out, err := runCommand(t, "", "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, target) {
		t.Fatalf("output %q missing target path", out)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !strings.Contains(string(data), "[pipeline]") {
		t.Fatal("sample config missing pipeline section")
	}

	// Re-running without overwrite must refuse.
	if _, err := runCommand(t, "", "config", "init", "--path", target); err == nil {
		t.Fatal("expected init to refuse overwriting existing config")
	}
}

func TestHealthCommandReportsDaemonState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "ok", "queue_depth": 4})
	}))
	defer srv.Close()

	out, err := runCommand(t, srv.URL, "health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !strings.Contains(out, "daemon ok") || !strings.Contains(out, "4 jobs queued") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestStatusCommandListsCounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]int{
			"queued":           2,
			"operator_pending": 1,
		})
	}))
	defer srv.Close()

	out, err := runCommand(t, srv.URL, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "queued") || !strings.Contains(out, "operator_pending") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestRetryCommandSurfacesDaemonError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "job in status queued cannot be retried"})
	}))
	defer srv.Close()

	_, err := runCommand(t, srv.URL, "retry", "job-123")
	if err == nil {
		t.Fatal("expected error from daemon")
	}
	if !strings.Contains(err.Error(), "cannot be retried") {
		t.Fatalf("error %q missing daemon message", err)
	}
}

func TestEnqueueRequiresExistingImage(t *testing.T) {
	_, err := runCommand(t, "", "enqueue", filepath.Join(t.TempDir(), "missing.jpg"))
	if err == nil {
		t.Fatal("expected error for missing image")
	}
}
