// Package util holds small shared helpers.
package util

import (
	"fmt"
	"strings"
)

// DefaultLogMaxLen is the default maximum length for truncated log output.
const DefaultLogMaxLen = 1024

// MaskSecret renders a secret safe for display: first four and last four
// characters with the middle elided. Short secrets are fully masked.
func MaskSecret(secret string) string {
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

// TruncateLog truncates long strings for verbose logging so log files stay
// manageable.
func TruncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}
