package gate

import (
	"errors"

	"github.com/neogan74/certdesk/internal/ratelimit"
	"github.com/neogan74/certdesk/internal/roster"
)

var (
	// ErrRateLimited is returned when the caller exhausted its window.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrInvalidToken is returned for unknown, used or expired security tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrNotFound is returned when no roster row matches name and id.
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable is returned when the roster file is missing.
	ErrStoreUnavailable = roster.ErrStoreUnavailable
	// ErrLookupFailure is returned when the roster exists but cannot be read.
	ErrLookupFailure = errors.New("roster lookup failed")
	// ErrRenderFailure wraps any error raised while rendering.
	ErrRenderFailure = errors.New("certificate generation failed")
)

// RateLimitError carries the decision that rejected a request. It matches
// ErrRateLimited with errors.Is.
type RateLimitError struct {
	Decision ratelimit.Decision
}

func (e *RateLimitError) Error() string {
	return ErrRateLimited.Error()
}

// Is reports whether target is ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}
