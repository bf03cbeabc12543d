// Package capture observes live interaction on a page and emits an
// ordered, serializable action log. A bounded manager owns the active
// sessions and evicts idle or stale ones rather than queuing.
package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/getvergo/autoflow/pkg/boundary"
	"github.com/getvergo/autoflow/pkg/browser"
	"github.com/getvergo/autoflow/pkg/contracts"
)

// ScreenshotStore persists screenshot bytes externally and returns an
// opaque reference. Actions carry the reference, never the bytes.
type ScreenshotStore interface {
	Save(ctx context.Context, data []byte) (ref string, err error)
}

// Observed is one raw interaction event reported by the recording
// boundary layer before normalization.
type Observed struct {
	Type        contracts.ActionType
	Selector    string
	Value       string
	URL         string
	Coordinates *contracts.Coordinates
	ElementText string
	TagName     string
	Attributes  map[string]string
	Screenshot  bool
}

// Meta is the externally visible session metadata.
type Meta struct {
	Key          string    `json:"key"`
	StartURL     string    `json:"start_url"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ActionCount  int       `json:"action_count"`
	Paused       bool      `json:"paused"`
	PauseReason  string    `json:"pause_reason,omitempty"`
}

// Session is one active recording. It owns exactly one page handle; all
// appends run under the session lock so Order stays dense and monotonic.
type Session struct {
	mu          sync.Mutex
	key         string
	startURL    string
	page        browser.Page
	guard       *boundary.Guard
	actions     []contracts.Action
	createdAt   time.Time
	lastTouched time.Time
	screenshots ScreenshotStore
	clock       func() time.Time
}

// Observe normalizes a raw event into a recorded action and appends it.
// Navigation events consult the destination guard first; a denied
// navigation is still recorded in the decision history but produces no
// action, and pauses the session.
func (s *Session) Observe(ctx context.Context, ev Observed) (*contracts.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastTouched = s.clock()

	if ev.Type == contracts.ActionNavigate {
		decision := s.guard.Decide(ev.URL)
		if !decision.Allowed {
			return nil, fmt.Errorf("%w: %s", boundary.ErrNavigationDenied, decision.NormalizedDomain)
		}
	}

	action := contracts.Action{
		ID:          uuid.NewString(),
		Type:        ev.Type,
		Selector:    ev.Selector,
		Value:       ev.Value,
		URL:         ev.URL,
		Coordinates: ev.Coordinates,
		Order:       len(s.actions),
		Metadata: contracts.ActionMetadata{
			Confidence:  1.0, // recorded live, not inferred
			ElementText: ev.ElementText,
			TagName:     ev.TagName,
			Attributes:  ev.Attributes,
		},
	}
	if err := action.Validate(); err != nil {
		return nil, err
	}

	if ev.Screenshot && s.screenshots != nil {
		if data, err := s.page.Screenshot(ctx); err == nil {
			if ref, err := s.screenshots.Save(ctx, data); err == nil {
				action.Metadata.ScreenshotRef = ref
			}
		}
	}

	s.actions = append(s.actions, action)
	return &action, nil
}

// Guard exposes the session's destination guard for policy mutation.
func (s *Session) Guard() *boundary.Guard { return s.guard }

// Meta returns a point-in-time copy of the session metadata.
func (s *Session) Meta() Meta {
	s.mu.Lock()
	defer s.mu.Unlock()
	paused, reason := s.guard.IsPaused()
	return Meta{
		Key:          s.key,
		StartURL:     s.startURL,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastTouched,
		ActionCount:  len(s.actions),
		Paused:       paused,
		PauseReason:  reason,
	}
}

// drain returns the recorded log and releases the page handle.
func (s *Session) drain() []contracts.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]contracts.Action, len(s.actions))
	copy(out, s.actions)
	s.actions = nil
	if s.page != nil {
		_ = s.page.Close()
		s.page = nil
	}
	return out
}
