// Package idgen provides random ID generation.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// New generates a random (version 4) UUID string.
func New() string {
	return uuid.NewString()
}

// WithPrefix generates a random ID with a prefix (e.g. "cb_", "req_").
// Result is prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	return prefix + Hex(12)
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// OrderReference generates an alphanumeric merchant order reference:
// the UTC creation second followed by 8 random hex digits, e.g.
// 20240315080000A1B2C3D4. The gateway rejects reused references within a
// day, so the random tail must stay.
func OrderReference(now time.Time) string {
	return now.UTC().Format("20060102150405") + strings.ToUpper(Hex(4))
}
