package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Ambiguity-safe alphabet: uppercase + digits, minus O/0/I/1/L.
const tokenAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// RoomPasswordLength is the number of random characters in a generated
// room password, before dash grouping.
const RoomPasswordLength = 16

// GenerateRoomPassword creates a readable room password (XXXX-XXXX-...)
// and returns it together with the hash to store. The dashes are part of
// the password hosts and viewers must type.
func GenerateRoomPassword() (password, hash string, err error) {
	code, err := randomCode(RoomPasswordLength)
	if err != nil {
		return "", "", fmt.Errorf("generate room password: %w", err)
	}
	password = formatCode(code)
	return password, HashPassword(password), nil
}

// GenerateAdminKey returns a random key suitable for ADMIN_KEY.
func GenerateAdminKey() string {
	return "relay_" + randomHex(24)
}

func randomCode(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	code := make([]byte, length)
	for i := range b {
		code[i] = tokenAlphabet[int(b[i])%len(tokenAlphabet)]
	}
	return string(code), nil
}

// formatCode inserts dashes every 4 characters for readability.
func formatCode(code string) string {
	var parts []string
	for i := 0; i < len(code); i += 4 {
		end := i + 4
		if end > len(code) {
			end = len(code)
		}
		parts = append(parts, code[i:end])
	}
	return strings.Join(parts, "-")
}

func hashCode(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func randomHex(n int) string {
	b := make([]byte, n)
	rand.Read(b) //nolint:errcheck
	return hex.EncodeToString(b)
}
