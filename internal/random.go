package internal

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// ResetTokenSize is the entropy of a reset token in bytes.
const ResetTokenSize = 32

// NewResetToken returns ResetTokenSize random bytes, base64url encoded
// without padding.
func NewResetToken() (string, error) {
	var raw [ResetTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("reset token entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// WellFormedResetToken reports whether token decodes to exactly
// ResetTokenSize bytes. Tokens that fail never reach the store.
func WellFormedResetToken(token string) bool {
	if base64.RawURLEncoding.EncodedLen(ResetTokenSize) != len(token) {
		return false
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	return err == nil && len(raw) == ResetTokenSize
}

// EqualSecret compares two secrets in constant time.
func EqualSecret(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
