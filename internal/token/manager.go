package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/neogan74/certdesk/internal/metrics"
)

// DefaultMaxAge is the validation age used when none is configured.
const DefaultMaxAge = time.Hour

// tokenBytes is the amount of entropy per token (256 bits).
const tokenBytes = 32

var (
	// ErrTokenUnknown is returned for tokens that were never issued or were already used.
	ErrTokenUnknown = errors.New("token unknown")
	// ErrTokenExpired is returned for tokens older than the allowed age.
	ErrTokenExpired = errors.New("token expired")
)

// Manager issues single-use tokens and validates them once.
type Manager struct {
	mu     sync.Mutex
	issued map[string]time.Time
	maxAge time.Duration
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a token manager. A non-positive maxAge means DefaultMaxAge.
func NewManager(maxAge time.Duration, opts ...Option) *Manager {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	m := &Manager{
		issued: make(map[string]time.Time),
		maxAge: maxAge,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Issue generates a fresh token and remembers when it was issued.
func (m *Manager) Issue() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	tok := base64.RawURLEncoding.EncodeToString(buf)

	m.mu.Lock()
	m.issued[tok] = m.now()
	live := len(m.issued)
	m.mu.Unlock()

	metrics.TokensIssuedTotal.Inc()
	metrics.TokensLive.Set(float64(live))
	return tok, nil
}

// Validate consumes tok using the configured max age.
func (m *Manager) Validate(tok string) bool {
	return m.Consume(tok, m.maxAge) == nil
}

// ValidateWithAge consumes tok, accepting it only if it is at most maxAge old.
func (m *Manager) ValidateWithAge(tok string, maxAge time.Duration) bool {
	return m.Consume(tok, maxAge) == nil
}

// Consume removes tok and reports why it was rejected, if it was. A token is
// removed on every lookup that finds it, expired or not.
func (m *Manager) Consume(tok string, maxAge time.Duration) error {
	m.mu.Lock()
	issuedAt, ok := m.issued[tok]
	if ok {
		delete(m.issued, tok)
	}
	live := len(m.issued)
	now := m.now()
	m.mu.Unlock()

	metrics.TokensLive.Set(float64(live))

	if !ok {
		metrics.TokenValidationsTotal.WithLabelValues("unknown").Inc()
		return ErrTokenUnknown
	}
	if now.Sub(issuedAt) > maxAge {
		metrics.TokenValidationsTotal.WithLabelValues("expired").Inc()
		return ErrTokenExpired
	}
	metrics.TokenValidationsTotal.WithLabelValues("valid").Inc()
	return nil
}

// Sweep evicts tokens older than the configured max age and returns how many
// were removed.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for tok, issuedAt := range m.issued {
		if now.Sub(issuedAt) > m.maxAge {
			delete(m.issued, tok)
			removed++
		}
	}
	metrics.TokensLive.Set(float64(len(m.issued)))
	return removed
}

// Len returns the number of outstanding tokens.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.issued)
}

// MaxAge returns the default validation age.
func (m *Manager) MaxAge() time.Duration {
	return m.maxAge
}
