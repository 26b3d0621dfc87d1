package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// HashPassword returns the lowercase hex SHA-256 of a room password, the
// form stored in the room configuration and sent by the admin endpoint.
func HashPassword(password string) string {
	return hashCode(password)
}

// VerifyPassword compares a plaintext password against a stored hash in
// constant time.
func VerifyPassword(password, storedHash string) bool {
	got := HashPassword(password)
	want := strings.ToLower(strings.TrimSpace(storedHash))
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// ValidHash reports whether s looks like a hex SHA-256 digest.
func ValidHash(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
