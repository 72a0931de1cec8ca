package store

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
)

var identityRe = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

const maxIdentityLen = 50

// ValidateIdentity checks an identity slug: lowercase ASCII, starts with a
// letter, at most 50 characters.
func ValidateIdentity(id string) error {
	if id == "" {
		return fmt.Errorf("identity is required")
	}
	if len(id) > maxIdentityLen {
		return fmt.Errorf("identity must be at most %d characters", maxIdentityLen)
	}
	if !identityRe.MatchString(id) {
		return fmt.Errorf("identity must match ^[a-z][a-z0-9_-]*$")
	}
	return nil
}

// NewSecretToken returns a fresh 64-hex credential string.
func NewSecretToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(b)
}

// NewShortToken returns a short opaque token for ingest capability URLs.
func NewShortToken() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(b)
}
