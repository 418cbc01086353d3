package hashing

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// NewOpaqueToken returns a hex-encoded token of byteLength random bytes from
// the system CSPRNG. The token is unrelated to any session or identity id.
func NewOpaqueToken(byteLength int) (string, error) {
	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashToken returns the SHA-256 digest of a token as lowercase hex. The
// digest is deterministic so it doubles as the durable lookup key and the
// session-cache key; the plaintext token is never persisted anywhere.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// SecureCompare reports whether two strings are equal. A length mismatch
// short-circuits (that check is content-independent); equal-length inputs are
// compared in constant time regardless of where they differ.
func SecureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
