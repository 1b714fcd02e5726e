package krypto

import (
	"crypto/rand"
	"encoding/hex"
)

// GenerateSecureToken generates a secure random token from length bytes of
// cryptographic randomness, encoded as hexadecimal. Used for single-use
// values such as CSRF state parameters.
func GenerateSecureToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
