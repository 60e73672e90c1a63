package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// HashString returns a short stable digest of input for use in cache keys.
func HashString(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:16])
}

var healthIDPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9-]{2,63}$`)

// NormalizeHealthID trims and upper-cases a patient identifier.
func NormalizeHealthID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// ValidHealthID reports whether a normalized identifier is well formed.
func ValidHealthID(id string) bool {
	return healthIDPattern.MatchString(id)
}
