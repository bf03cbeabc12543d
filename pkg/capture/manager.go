package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getvergo/autoflow/pkg/boundary"
	"github.com/getvergo/autoflow/pkg/browser"
	"github.com/getvergo/autoflow/pkg/contracts"
)

// ErrTooManySessions is returned only when eviction cannot make room,
// e.g. when a shared slot limiter denies the new session.
var ErrTooManySessions = errors.New("concurrent capture session limit reached")

// ErrSessionExists rejects a duplicate session key.
var ErrSessionExists = errors.New("capture session already active for key")

// Config bounds the manager.
type Config struct {
	MaxSessions int
	IdleTimeout time.Duration
	Screenshots ScreenshotStore // nil disables screenshot capture
	Slots       SlotLimiter     // nil disables the shared ceiling
}

// DefaultConfig allows a handful of concurrent recordings with a
// half-hour idle eviction.
func DefaultConfig() Config {
	return Config{
		MaxSessions: 5,
		IdleTimeout: 30 * time.Minute,
	}
}

// Manager owns the bounded registry of active capture sessions. It is the
// only holder of session state; callers address sessions by key.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	sessions map[string]*Session
	logger   *slog.Logger
	clock    func() time.Time
}

// NewManager creates a session manager.
func NewManager(cfg Config) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultConfig().MaxSessions
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultConfig().IdleTimeout
	}
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		logger:   slog.Default().With("component", "capture"),
		clock:    time.Now,
	}
}

// WithClock overrides the clock for testing.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// StartCapture opens a new recording session over the given page with the
// given destination policy. Above the ceiling it first evicts sessions
// idle past the timeout, then the single oldest session by creation time.
func (m *Manager) StartCapture(ctx context.Context, sessionKey, startURL string, page browser.Page, policy boundary.Policy) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionKey]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, sessionKey)
	}

	if len(m.sessions) >= m.cfg.MaxSessions {
		m.evictIdleLocked()
	}
	if len(m.sessions) >= m.cfg.MaxSessions {
		m.evictOldestLocked()
	}
	if len(m.sessions) >= m.cfg.MaxSessions {
		return nil, ErrTooManySessions
	}

	if m.cfg.Slots != nil {
		ok, err := m.cfg.Slots.Acquire(ctx, sessionKey)
		if err != nil {
			return nil, fmt.Errorf("session slot limiter: %w", err)
		}
		if !ok {
			return nil, ErrTooManySessions
		}
	}

	guard := boundary.NewGuard(policy)
	guard.Decide(startURL) // the start URL itself must be sanctioned

	now := m.clock()
	s := &Session{
		key:         sessionKey,
		startURL:    startURL,
		page:        page,
		guard:       guard,
		createdAt:   now,
		lastTouched: now,
		screenshots: m.cfg.Screenshots,
		clock:       m.clock,
	}
	m.sessions[sessionKey] = s
	m.logger.Info("capture started", "session", sessionKey, "start_url", startURL)
	return s, nil
}

// evictIdleLocked removes every session idle longer than the timeout.
func (m *Manager) evictIdleLocked() {
	cutoff := m.clock().Add(-m.cfg.IdleTimeout)
	for key, s := range m.sessions {
		if s.Meta().LastActivity.Before(cutoff) {
			m.logger.Warn("evicting idle capture session", "session", key)
			s.drain()
			m.releaseSlot(key)
			delete(m.sessions, key)
		}
	}
}

// evictOldestLocked removes the single oldest session by creation time.
func (m *Manager) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, s := range m.sessions {
		created := s.Meta().CreatedAt
		if oldestKey == "" || created.Before(oldest) {
			oldestKey, oldest = key, created
		}
	}
	if oldestKey != "" {
		m.logger.Warn("evicting oldest capture session", "session", oldestKey)
		m.sessions[oldestKey].drain()
		m.releaseSlot(oldestKey)
		delete(m.sessions, oldestKey)
	}
}

func (m *Manager) releaseSlot(sessionKey string) {
	if m.cfg.Slots != nil {
		_ = m.cfg.Slots.Release(context.Background(), sessionKey)
	}
}

// StopCapture flushes and removes a session, returning its ordered action
// log. Idempotent: stopping an unknown or already stopped session returns
// an empty list, never an error.
func (m *Manager) StopCapture(sessionKey string) []contracts.Action {
	m.mu.Lock()
	s, ok := m.sessions[sessionKey]
	if ok {
		delete(m.sessions, sessionKey)
	}
	m.mu.Unlock()

	if !ok {
		return []contracts.Action{}
	}
	m.releaseSlot(sessionKey)
	actions := s.drain()
	m.logger.Info("capture stopped", "session", sessionKey, "actions", len(actions))
	return actions
}

// IsActive reports whether a session key has an active recording.
func (m *Manager) IsActive(sessionKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[sessionKey]
	return ok
}

// GetSession returns the metadata of an active session.
func (m *Manager) GetSession(sessionKey string) (Meta, bool) {
	m.mu.Lock()
	s, ok := m.sessions[sessionKey]
	m.mu.Unlock()
	if !ok {
		return Meta{}, false
	}
	return s.Meta(), true
}

// ActiveCount returns the number of live sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
