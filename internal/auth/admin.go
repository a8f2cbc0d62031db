package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
)

// ErrUnauthorized is returned when the admin secret is missing or wrong.
var ErrUnauthorized = errors.New("unauthorized")

// AdminKey verifies the shared admin secret. Keys are compared as SHA-256
// digests so the comparison time does not depend on the secret length.
type AdminKey struct {
	digest  [sha256.Size]byte
	enabled bool
}

// NewAdminKey creates a verifier for secret. An empty secret rejects every
// candidate.
func NewAdminKey(secret string) *AdminKey {
	if secret == "" {
		return &AdminKey{}
	}
	return &AdminKey{
		digest:  sha256.Sum256([]byte(secret)),
		enabled: true,
	}
}

// Enabled reports whether a secret is configured.
func (a *AdminKey) Enabled() bool {
	return a != nil && a.enabled
}

// Verify returns ErrUnauthorized unless candidate equals the secret.
func (a *AdminKey) Verify(candidate string) error {
	if !a.Enabled() || candidate == "" {
		return ErrUnauthorized
	}
	sum := sha256.Sum256([]byte(candidate))
	if subtle.ConstantTimeCompare(sum[:], a.digest[:]) != 1 {
		return ErrUnauthorized
	}
	return nil
}
