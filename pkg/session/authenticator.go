// Package session establishes an authenticated browsing session and
// captures it as a reusable snapshot: detect the login form, submit
// credentials, verify the logged-in state, then lift cookies and storage.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getvergo/autoflow/pkg/browser"
)

// State is the authenticator lifecycle. FAILED is terminal and reachable
// from every non-terminal state.
type State string

const (
	StateUnauthenticated State = "UNAUTHENTICATED"
	StateDetectingForm   State = "DETECTING_FORM"
	StateSubmitting      State = "SUBMITTING"
	StateVerifying       State = "VERIFYING"
	StateAuthenticated   State = "AUTHENTICATED"
	StateFailed          State = "FAILED"
)

// Stage identifies which phase of authentication failed.
type Stage string

const (
	StageDetect Stage = "detection"
	StageSubmit Stage = "submission"
	StageVerify Stage = "verification"
)

// ErrManualLoginRequired marks an OAuth-classified form: automated
// credential submission against a third-party consent screen is a safety
// boundary the engine does not cross.
var ErrManualLoginRequired = errors.New("oauth login requires manual handling")

// ErrSnapshotExpired means a stored snapshot failed its validity check and
// a fresh authentication pass is required.
var ErrSnapshotExpired = errors.New("session snapshot expired or invalid")

// LoginError is the structured LOGIN_FAILED error. CredentialIssue
// distinguishes "re-enter credentials" failures from transient technical
// ones wherever the underlying signal allows it.
type LoginError struct {
	Stage           Stage
	CredentialIssue bool
	Err             error
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("LOGIN_FAILED at %s: %v", e.Stage, e.Err)
}

func (e *LoginError) Unwrap() error { return e.Err }

// Credentials carries a username/password pair for form submission.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"-"`
}

// Authenticator drives one login flow at a time and holds at most one
// captured snapshot. Starting a new authentication replaces the in-memory
// snapshot reference; externally persisted copies are untouched.
type Authenticator struct {
	mu       sync.Mutex
	state    State
	snapshot *Snapshot
	logger   *slog.Logger
	clock    func() time.Time

	// SubmitTimeout bounds the post-submission settle wait.
	SubmitTimeout time.Duration
}

// NewAuthenticator returns an authenticator in UNAUTHENTICATED state.
func NewAuthenticator() *Authenticator {
	return &Authenticator{
		state:         StateUnauthenticated,
		logger:        slog.Default().With("component", "session"),
		clock:         time.Now,
		SubmitTimeout: 15 * time.Second,
	}
}

// WithClock overrides the clock for testing.
func (a *Authenticator) WithClock(clock func() time.Time) *Authenticator {
	a.clock = clock
	return a
}

// State returns the current lifecycle state.
func (a *Authenticator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Snapshot returns the captured snapshot, or nil before a successful
// authentication. The snapshot is read-shared: callers must not mutate it.
func (a *Authenticator) Snapshot() *Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot
}

func (a *Authenticator) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Authenticate runs detection, submission, and verification against the
// page, then captures a session snapshot. The returned page is the same
// handle, now holding an authenticated session.
func (a *Authenticator) Authenticate(ctx context.Context, page browser.Page, creds Credentials) (browser.Page, error) {
	a.mu.Lock()
	a.state = StateDetectingForm
	a.snapshot = nil // a new pass invalidates the previous in-memory reference
	a.mu.Unlock()

	form, err := DetectLoginForm(ctx, page)
	if err != nil {
		a.setState(StateFailed)
		return nil, &LoginError{Stage: StageDetect, Err: err}
	}
	if form.FormType == FormOAuth {
		a.setState(StateFailed)
		return nil, &LoginError{Stage: StageDetect, Err: ErrManualLoginRequired}
	}

	a.setState(StateSubmitting)
	if err := a.submit(ctx, page, form, creds); err != nil {
		a.setState(StateFailed)
		return nil, &LoginError{Stage: StageSubmit, Err: err}
	}

	a.setState(StateVerifying)
	if err := a.verify(ctx, page); err != nil {
		a.setState(StateFailed)
		return nil, &LoginError{Stage: StageVerify, CredentialIssue: true, Err: err}
	}

	snap, err := Capture(ctx, page, a.clock())
	if err != nil {
		a.setState(StateFailed)
		return nil, &LoginError{Stage: StageVerify, Err: fmt.Errorf("snapshot capture: %w", err)}
	}

	a.mu.Lock()
	a.snapshot = snap
	a.state = StateAuthenticated
	a.mu.Unlock()
	a.logger.Info("authenticated", "form_type", form.FormType, "cookies", len(snap.Cookies))
	return page, nil
}

func (a *Authenticator) submit(ctx context.Context, page browser.Page, form *FormDescriptor, creds Credentials) error {
	if err := page.Type(ctx, form.FieldSelectors.Username, creds.Username); err != nil {
		return fmt.Errorf("fill username: %w", err)
	}
	if err := page.Type(ctx, form.FieldSelectors.Password, creds.Password); err != nil {
		return fmt.Errorf("fill password: %w", err)
	}
	if err := page.Click(ctx, form.FieldSelectors.Submit); err != nil {
		return fmt.Errorf("click submit: %w", err)
	}
	// Give the navigation a moment to settle; verification does the real check.
	settle, cancel := context.WithTimeout(ctx, a.SubmitTimeout)
	defer cancel()
	select {
	case <-settle.Done():
	case <-time.After(500 * time.Millisecond):
	}
	return nil
}

// verify confirms the page no longer looks like a login page: no login
// path segment in the URL and no login keyword in the title.
func (a *Authenticator) verify(ctx context.Context, page browser.Page) error {
	url, err := page.URL(ctx)
	if err != nil {
		return fmt.Errorf("read url: %w", err)
	}
	title, err := page.Title(ctx)
	if err != nil {
		return fmt.Errorf("read title: %w", err)
	}
	if marker := loginMarker(url, title); marker != "" {
		return fmt.Errorf("page still shows login marker %q (url=%s)", marker, url)
	}
	return nil
}

// Restore applies a previously captured snapshot to a fresh page after an
// explicit validity check. Expired or invalid snapshots return
// ErrSnapshotExpired so the caller falls back to a fresh authentication.
func (a *Authenticator) Restore(ctx context.Context, page browser.Page, snap *Snapshot) error {
	if snap == nil || !snap.Valid(a.clock()) {
		return ErrSnapshotExpired
	}
	if err := snap.Apply(ctx, page); err != nil {
		return fmt.Errorf("apply snapshot: %w", err)
	}
	a.mu.Lock()
	a.snapshot = snap
	a.state = StateAuthenticated
	a.mu.Unlock()
	return nil
}
