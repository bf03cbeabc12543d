package session

import (
	"context"
	"fmt"
	"time"

	"github.com/getvergo/autoflow/pkg/browser"
)

// Snapshot is a captured authenticated browsing state: enough cookies and
// storage to resume without re-submitting credentials. Snapshots are
// read-shared across runs; capture always produces a fresh object and no
// published snapshot is ever mutated.
type Snapshot struct {
	Cookies        []browser.Cookie  `json:"cookies"`
	LocalStorage   map[string]string `json:"local_storage,omitempty"`
	SessionStorage map[string]string `json:"session_storage,omitempty"`
	UserAgent      string            `json:"user_agent"`
	CapturedAtMs   int64             `json:"captured_at_ms"`
	ExpiresAtMs    int64             `json:"expires_at_ms,omitempty"`
}

// Capture lifts cookies, both storage areas, and the user agent from the
// page. Expiry is derived from the earliest expiring session cookie; a
// snapshot with no expiring cookies carries no expiry hint.
func Capture(ctx context.Context, page browser.Page, now time.Time) (*Snapshot, error) {
	cookies, err := page.Cookies(ctx)
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	local, err := page.Storage(ctx, browser.LocalStorage)
	if err != nil {
		return nil, fmt.Errorf("read local storage: %w", err)
	}
	sess, err := page.Storage(ctx, browser.SessionStorage)
	if err != nil {
		return nil, fmt.Errorf("read session storage: %w", err)
	}
	agent, err := page.UserAgent(ctx)
	if err != nil {
		return nil, fmt.Errorf("read user agent: %w", err)
	}

	snap := &Snapshot{
		Cookies:        cookies,
		LocalStorage:   local,
		SessionStorage: sess,
		UserAgent:      agent,
		CapturedAtMs:   now.UnixMilli(),
	}
	if earliest := earliestExpiry(cookies); !earliest.IsZero() {
		snap.ExpiresAtMs = earliest.UnixMilli()
	}
	return snap, nil
}

func earliestExpiry(cookies []browser.Cookie) time.Time {
	var earliest time.Time
	for _, c := range cookies {
		if c.Expires.IsZero() {
			continue
		}
		if earliest.IsZero() || c.Expires.Before(earliest) {
			earliest = c.Expires
		}
	}
	return earliest
}

// Valid reports whether the snapshot can still be trusted at the given
// instant. A snapshot without cookies is never valid.
func (s *Snapshot) Valid(now time.Time) bool {
	if s == nil || len(s.Cookies) == 0 {
		return false
	}
	if s.ExpiresAtMs > 0 && now.UnixMilli() >= s.ExpiresAtMs {
		return false
	}
	return true
}

// Apply restores the snapshot onto a fresh page instance. The snapshot
// itself is not modified.
func (s *Snapshot) Apply(ctx context.Context, page browser.Page) error {
	if err := page.SetCookies(ctx, s.Cookies); err != nil {
		return fmt.Errorf("set cookies: %w", err)
	}
	if len(s.LocalStorage) > 0 {
		if err := page.SetStorage(ctx, browser.LocalStorage, s.LocalStorage); err != nil {
			return fmt.Errorf("set local storage: %w", err)
		}
	}
	if len(s.SessionStorage) > 0 {
		if err := page.SetStorage(ctx, browser.SessionStorage, s.SessionStorage); err != nil {
			return fmt.Errorf("set session storage: %w", err)
		}
	}
	return nil
}
