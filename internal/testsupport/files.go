package testsupport

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

// WriteImage writes byte content standing in for a capture and returns its
// path. Identical content produces identical scan fingerprints.
func WriteImage(t testing.TB, dir, name string, content []byte) string {
	t.Helper()

	if dir == "" {
		dir = t.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write image %s: %v", path, err)
	}
	return path
}

// WriteStubBinary drops an executable shell script into dir and returns its
// path. The script prints output and exits with code.
func WriteStubBinary(t testing.TB, dir, name, output string, code int) string {
	t.Helper()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	path := filepath.Join(dir, name)
	script := "#!/bin/sh\ncat <<'PAYLOAD'\n" + output + "\nPAYLOAD\nexit " + strconv.Itoa(code) + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub %s: %v", path, err)
	}
	return path
}
