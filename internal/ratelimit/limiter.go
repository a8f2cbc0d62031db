package ratelimit

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Config represents rate limiter configuration
type Config struct {
	Enabled         bool
	MaxRequests     int
	Window          time.Duration
	CleanupInterval time.Duration
}

// Decision is the outcome of one sliding window check.
type Decision struct {
	Allowed   bool
	Remaining int
	Limit     int
	// ResetAt is when the oldest retained hit leaves the window.
	ResetAt time.Time
}

// RetryAfter returns how long a rejected caller should wait, at least one second.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait < time.Second {
		return time.Second
	}
	return wait
}

// Window holds the accepted request timestamps of a single identity/action key.
type Window struct {
	mu       sync.Mutex
	hits     []time.Time
	lastSeen time.Time
	// removed is set once the window is dropped from the store
	removed bool
}

// prune drops hits that are no longer inside the window. hits is ordered,
// so everything before the first fresh hit is stale.
func (w *Window) prune(now time.Time, window time.Duration) {
	i := 0
	for i < len(w.hits) && now.Sub(w.hits[i]) >= window {
		i++
	}
	if i > 0 {
		w.hits = append(w.hits[:0], w.hits[i:]...)
	}
}

func (w *Window) resetAt(window time.Duration, now time.Time) time.Time {
	if len(w.hits) == 0 {
		return now
	}
	return w.hits[0].Add(window)
}

// Store keeps one sliding window per identity/action pair. Windows live for the
// process lifetime and are not persisted.
type Store struct {
	windows     map[string]*Window
	maxRequests int
	window      time.Duration
	cleanup     time.Duration
	now         func() time.Time
	mu          sync.RWMutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, used by tests to move time forward.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithCleanupInterval sets how often idle windows are dropped by Run.
func WithCleanupInterval(d time.Duration) Option {
	return func(s *Store) { s.cleanup = d }
}

// NewStore creates a new sliding window store
func NewStore(maxRequests int, window time.Duration, opts ...Option) *Store {
	s := &Store{
		windows:     make(map[string]*Window),
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewStoreFromConfig builds a store from the rate limit configuration
func NewStoreFromConfig(cfg Config, opts ...Option) *Store {
	opts = append([]Option{WithCleanupInterval(cfg.CleanupInterval)}, opts...)
	return NewStore(cfg.MaxRequests, cfg.Window, opts...)
}

// Key joins identity and action into the window map key.
func Key(identity, action string) string {
	return identity + ":" + action
}

func (s *Store) getWindow(key string) *Window {
	s.mu.RLock()
	w, exists := s.windows[key]
	s.mu.RUnlock()

	if exists {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if w, exists := s.windows[key]; exists {
		return w
	}

	w = &Window{}
	s.windows[key] = w
	return w
}

// Allow reports whether identity may perform action now, and how many
// requests remain in the current window.
func (s *Store) Allow(identity, action string) (bool, int) {
	d := s.Check(identity, action)
	return d.Allowed, d.Remaining
}

// Check prunes the window for identity/action and records the request when
// there is room left. A rejected request is not recorded.
func (s *Store) Check(identity, action string) Decision {
	key := Key(identity, action)
	w := s.getWindow(key)
	w.mu.Lock()
	for w.removed {
		w.mu.Unlock()
		w = s.getWindow(key)
		w.mu.Lock()
	}
	defer w.mu.Unlock()

	now := s.now()

	w.prune(now, s.window)
	w.lastSeen = now

	if len(w.hits) >= s.maxRequests {
		return Decision{
			Allowed:   false,
			Remaining: 0,
			Limit:     s.maxRequests,
			ResetAt:   w.resetAt(s.window, now),
		}
	}

	w.hits = append(w.hits, now)
	return Decision{
		Allowed:   true,
		Remaining: s.maxRequests - len(w.hits),
		Limit:     s.maxRequests,
		ResetAt:   w.resetAt(s.window, now),
	}
}

// splitKey is the inverse of Key. Actions never contain a colon, identities
// (IPv6 addresses) may.
func splitKey(key string) (identity, action string) {
	if i := strings.LastIndex(key, ":"); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}

// drop removes key from the map. The caller holds s.mu.
func (s *Store) drop(key string, w *Window) {
	w.mu.Lock()
	w.removed = true
	w.mu.Unlock()
	delete(s.windows, key)
}

// Reset drops every window that belongs to identity
func (s *Store) Reset(identity string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, w := range s.windows {
		if id, _ := splitKey(key); id == identity {
			s.drop(key, w)
			removed++
		}
	}
	return removed
}

// ResetAll drops all windows
func (s *Store) ResetAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, w := range s.windows {
		s.drop(key, w)
	}
}

// Count returns the number of tracked windows
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.windows)
}

// Limit returns the maximum number of requests per window
func (s *Store) Limit() int {
	return s.maxRequests
}

// WindowSize returns the window duration
func (s *Store) WindowSize() time.Duration {
	return s.window
}

// Run drops idle windows every cleanup interval until ctx is done.
func (s *Store) Run(ctx context.Context) {
	if s.cleanup <= 0 {
		return
	}

	ticker := time.NewTicker(s.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CleanupExpired()
		}
	}
}

// CleanupExpired removes windows whose hits have all aged out. Those windows
// would be emptied by the next check anyway, so dropping them changes no decision.
func (s *Store) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, w := range s.windows {
		w.mu.Lock()
		w.prune(now, s.window)
		if len(w.hits) == 0 {
			w.removed = true
			delete(s.windows, key)
			removed++
		}
		w.mu.Unlock()
	}
	return removed
}

// ClientInfo represents information about a tracked identity/action window
type ClientInfo struct {
	Identity  string `json:"identity"`
	Action    string `json:"action"`
	Hits      int    `json:"hits"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	LastSeen  string `json:"last_seen"`
	ResetAt   string `json:"reset_at"`
}

func (s *Store) info(key string, w *Window, now time.Time) ClientInfo {
	identity, action := splitKey(key)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now, s.window)
	remaining := s.maxRequests - len(w.hits)
	if remaining < 0 {
		remaining = 0
	}
	return ClientInfo{
		Identity:  identity,
		Action:    action,
		Hits:      len(w.hits),
		Limit:     s.maxRequests,
		Remaining: remaining,
		LastSeen:  w.lastSeen.Format(time.RFC3339),
		ResetAt:   w.resetAt(s.window, now).Format(time.RFC3339),
	}
}

// Clients returns information about all tracked windows, ordered by key
func (s *Store) Clients() []ClientInfo {
	s.mu.RLock()
	keys := make([]string, 0, len(s.windows))
	windows := make(map[string]*Window, len(s.windows))
	for key, w := range s.windows {
		keys = append(keys, key)
		windows[key] = w
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	now := s.now()

	clients := make([]ClientInfo, 0, len(keys))
	for _, key := range keys {
		clients = append(clients, s.info(key, windows[key], now))
	}
	return clients
}

// Status returns the window for identity/action, or nil when untracked
func (s *Store) Status(identity, action string) *ClientInfo {
	key := Key(identity, action)

	s.mu.RLock()
	w, exists := s.windows[key]
	s.mu.RUnlock()

	if !exists {
		return nil
	}

	info := s.info(key, w, s.now())
	return &info
}
