package inventory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Fingerprinter derives a content fingerprint from a processed image. The
// fingerprint is the idempotency key for resubmission detection.
type Fingerprinter interface {
	Fingerprint(path string) (string, error)
}

// SHA256Fingerprinter hashes the raw file bytes. A perceptual hash of the
// normalized pixel content would catch re-captures of the same physical card,
// not just byte-identical resubmits; this is the placeholder until then.
type SHA256Fingerprinter struct{}

func (SHA256Fingerprinter) Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open image for fingerprint: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash image %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
