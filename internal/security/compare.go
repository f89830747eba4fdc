// Package security holds the constant-time comparison primitives the
// core's API-key hash check routes through (spec.md §9). Client secrets
// are checked against their bcrypt hash instead, not through this
// package.
package security

import (
	"crypto/sha256"
	"crypto/subtle"
)

// ConstantTimeEqual performs a constant-time comparison of two strings.
// Use it for any secret-vs-stored-secret check where timing differences
// could leak information to an attacker probing byte-by-byte.
func ConstantTimeEqual(provided, expected string) bool {
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// ConstantTimeEqualBytes is the byte-slice form, for HMAC signatures and
// other binary comparisons.
func ConstantTimeEqualBytes(provided, expected []byte) bool {
	return subtle.ConstantTimeCompare(provided, expected) == 1
}

// HashHex returns the lowercase hex-encoded SHA-256 digest of v, the
// format used for the introspection cache key and the API-key lookup
// key (spec.md §6).
func HashHex(v string) string {
	sum := sha256.Sum256([]byte(v))
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(sum)*2)
	for i, b := range sum {
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0x0f]
	}
	return string(out)
}
