// Package crypto provides password digest utilities for Quill.
package crypto

import (
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// LegacyPrefix marks a password digest produced by the legacy fold
// checksum. Records imported from the original system carry it; new
// accounts never do.
const LegacyPrefix = "legacy:"

// HashPassword produces a bcrypt digest for a new password.
func HashPassword(password string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}

// VerifyPassword checks password against a stored digest. Digests with the
// legacy prefix are compared against the fold checksum; everything else is
// bcrypt.
func VerifyPassword(storedDigest, password string) bool {
	if legacy, ok := strings.CutPrefix(storedDigest, LegacyPrefix); ok {
		return legacy == LegacyDigest(password)
	}
	return bcrypt.CompareHashAndPassword([]byte(storedDigest), []byte(password)) == nil
}
