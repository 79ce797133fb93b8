package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// CardID builds the canonical print id: set id, collector number zero-padded
// to three digits, then the variant bits.
func CardID(cmSetID string, collectorNo int, variantBits string) string {
	if variantBits == "" {
		variantBits = "base"
	}
	return fmt.Sprintf("%s-%03d-%s", cmSetID, collectorNo, variantBits)
}

// SyntheticID derives a stable UNKNOWN_* identifier from arbitrary name parts.
// Used when no catalog row exists so inventory flow is never blocked by
// catalog gaps.
func SyntheticID(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return "UNKNOWN_" + strings.ToUpper(hex.EncodeToString(sum[:])[:6])
}
