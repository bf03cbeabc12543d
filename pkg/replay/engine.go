// Package replay deterministically re-executes a captured action log
// against a live page. Steps run strictly sequentially; each step walks
// an explicit pipeline of attempt, selector repair, bounded retry, and
// failure capture, so every stage is independently testable.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/getvergo/autoflow/pkg/boundary"
	"github.com/getvergo/autoflow/pkg/browser"
	"github.com/getvergo/autoflow/pkg/capture"
	"github.com/getvergo/autoflow/pkg/contracts"
	"github.com/getvergo/autoflow/pkg/locator"
	"github.com/getvergo/autoflow/pkg/session"
)

// ErrNavigationDenied aborts the whole replay; a policy violation is
// never retried.
var ErrNavigationDenied = errors.New("navigation denied by destination policy")

// ErrLoginFailed aborts the replay before any action executes.
var ErrLoginFailed = errors.New("login failed before replay")

// Options drives one replay. Settings mirrors the logic specification's
// settings block; ContinueOnError decides whether a non-policy step
// failure aborts the remaining sequence or records the failure and
// moves on.
type Options struct {
	Settings        contracts.Settings
	ContinueOnError bool
	RequireLogin    bool
	Credentials     session.Credentials

	// RetryDelay fixes the inter-attempt delay. Zero means the shared
	// exponential schedule.
	RetryDelay time.Duration
}

// retryDelay returns the delay before retry number attempt.
func (o Options) retryDelay(attempt int) time.Duration {
	if o.RetryDelay > 0 {
		return o.RetryDelay
	}
	return o.Settings.RetryDelayFor(attempt)
}

// Repair is one recorded selector substitution, kept for later
// persistence so the stored action log can be patched.
type Repair struct {
	ActionID    string  `json:"action_id"`
	OldSelector string  `json:"old_selector"`
	NewSelector string  `json:"new_selector"`
	Strategy    string  `json:"strategy"`
	Confidence  float64 `json:"confidence"`
}

// Session is the account of one replay: per-step results, selector
// repairs, and the aborting error if any.
type Session struct {
	ID          string                 `json:"id"`
	Steps       []contracts.StepResult `json:"steps"`
	Repairs     []Repair               `json:"repairs,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  time.Time              `json:"finished_at"`
	Completed   bool                   `json:"completed"`
	AbortReason string                 `json:"abort_reason,omitempty"`
}

// Fatal reports whether the replay ended on an aborting failure.
func (s *Session) Fatal() bool {
	for i := range s.Steps {
		if s.Steps[i].Fatal {
			return true
		}
	}
	return false
}

// Engine replays action logs. One engine serves many replays; each
// replay owns its page handle for the duration of the run.
type Engine struct {
	guard       *boundary.Guard
	resolver    *locator.Resolver
	auth        *session.Authenticator
	screenshots capture.ScreenshotStore
	logger      *slog.Logger
	clock       func() time.Time
	sleep       func(context.Context, time.Duration) error
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithAuthenticator enables pre-replay login for workflows that require
// it.
func WithAuthenticator(a *session.Authenticator) EngineOption {
	return func(e *Engine) { e.auth = a }
}

// WithScreenshots stores failure screenshots by reference.
func WithScreenshots(s capture.ScreenshotStore) EngineOption {
	return func(e *Engine) { e.screenshots = s }
}

// WithEngineClock overrides the time source, for tests.
func WithEngineClock(clock func() time.Time) EngineOption {
	return func(e *Engine) {
		e.clock = clock
		e.sleep = func(context.Context, time.Duration) error { return nil }
	}
}

// NewEngine builds a replay engine around a destination guard and a
// selector resolver.
func NewEngine(guard *boundary.Guard, resolver *locator.Resolver, opts ...EngineOption) *Engine {
	e := &Engine{
		guard:    guard,
		resolver: resolver,
		logger:   slog.Default().With("component", "replay"),
		clock:    time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession starts an empty replay account for callers that drive
// ExecuteStep directly.
func (e *Engine) NewSession() *Session {
	return &Session{ID: "replay-" + uuid.NewString(), StartedAt: e.clock()}
}

// StartReplay executes the action log sequentially against the page.
// Action i+1 never begins before action i completes, because later
// actions assume the DOM state left by earlier ones. Cancellation is
// cooperative: an in-flight step finishes or times out; the engine
// halts before starting the next one.
func (e *Engine) StartReplay(ctx context.Context, page browser.Page, actions []contracts.Action, opts Options) (*Session, error) {
	if err := contracts.ValidateLog(actions); err != nil {
		return nil, fmt.Errorf("action log rejected: %w", err)
	}
	if opts.Settings == (contracts.Settings{}) {
		opts.Settings = contracts.DefaultSettings()
	}

	sess := &Session{
		ID:        "replay-" + uuid.NewString(),
		Steps:     make([]contracts.StepResult, 0, len(actions)),
		StartedAt: e.clock(),
	}

	if opts.RequireLogin {
		if err := e.Login(ctx, page, opts.Credentials); err != nil {
			sess.AbortReason = err.Error()
			sess.FinishedAt = e.clock()
			return sess, err
		}
	}

	for i := range actions {
		if err := ctx.Err(); err != nil {
			sess.AbortReason = "canceled before step " + actions[i].ID
			sess.FinishedAt = e.clock()
			return sess, err
		}

		result, abort := e.ExecuteStep(ctx, page, i, &actions[i], opts, sess)
		sess.Steps = append(sess.Steps, result)

		if abort != nil {
			sess.AbortReason = result.Error
			sess.FinishedAt = e.clock()
			return sess, fmt.Errorf("step %d: %w", i, abort)
		}
	}

	sess.Completed = true
	sess.FinishedAt = e.clock()
	return sess, nil
}

// Login authenticates the page before any action executes. Exposed so
// the orchestrator can run the same pre-replay pass when it drives
// steps individually.
func (e *Engine) Login(ctx context.Context, page browser.Page, creds session.Credentials) error {
	if e.auth == nil {
		return fmt.Errorf("%w: no authenticator configured", ErrLoginFailed)
	}
	if _, err := e.auth.Authenticate(ctx, page, creds); err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	return nil
}

// ExecuteStep walks the per-step pipeline: guard check, attempt,
// locator repair with one retry, bounded retry, then failure capture.
// The caller owns the session and appends the returned result; repairs
// are recorded on the session here. A non-nil abort error means the
// whole run must stop.
func (e *Engine) ExecuteStep(ctx context.Context, page browser.Page, index int, action *contracts.Action, opts Options, sess *Session) (contracts.StepResult, error) {
	started := e.clock()
	result := contracts.StepResult{
		Index:    index,
		ActionID: action.ID,
	}

	// Policy check precedes any interaction. A denial is always fatal
	// regardless of ContinueOnError.
	if action.Type == contracts.ActionNavigate {
		decision := e.guard.Decide(action.URL)
		if !decision.Allowed {
			e.logger.Error("navigation denied",
				"step", index, "url", action.URL, "domain", decision.NormalizedDomain)
			result.Status = contracts.StepFailed
			result.Fatal = true
			result.Error = fmt.Sprintf("%v: %s", ErrNavigationDenied, decision.NormalizedDomain)
			result.Duration = e.clock().Sub(started)
			return result, fmt.Errorf("%w: %s", ErrNavigationDenied, decision.NormalizedDomain)
		}
	}

	attempts := opts.Settings.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	repaired := false
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, opts.retryDelay(attempt-1)); err != nil {
				lastErr = err
				break
			}
		}
		result.Attempts++

		lastErr = e.perform(ctx, page, action, opts.Settings)
		if lastErr == nil {
			if repaired {
				result.Status = contracts.StepRepaired
			} else {
				result.Status = contracts.StepSuccess
			}
			result.Duration = e.clock().Sub(started)
			return result, nil
		}

		// Selector repair runs once, on the first locator miss.
		if !repaired && isLocatorFailure(lastErr) && action.Selector != "" {
			fb := e.resolver.Resolve(ctx, action.Selector, action.Metadata, page)
			if fb.Success {
				e.logger.Info("selector repaired",
					"step", index, "old", action.Selector, "new", fb.Selector,
					"strategy", fb.Strategy, "confidence", fb.Confidence)
				sess.Repairs = append(sess.Repairs, Repair{
					ActionID:    action.ID,
					OldSelector: action.Selector,
					NewSelector: fb.Selector,
					Strategy:    fb.Strategy,
					Confidence:  fb.Confidence,
				})
				action.Selector = fb.Selector
				result.RepairedSelector = fb.Selector
				repaired = true
				result.Attempts++
				if lastErr = e.perform(ctx, page, action, opts.Settings); lastErr == nil {
					result.Status = contracts.StepRepaired
					result.Duration = e.clock().Sub(started)
					return result, nil
				}
			}
		}
	}

	if opts.Settings.ScreenshotOnError && e.screenshots != nil {
		if data, err := page.Screenshot(ctx); err == nil {
			if ref, err := e.screenshots.Save(ctx, data); err == nil {
				result.ScreenshotRef = ref
			}
		}
	}

	result.Status = contracts.StepFailed
	result.Fatal = !opts.ContinueOnError
	result.Error = lastErr.Error()
	result.Duration = e.clock().Sub(started)
	e.logger.Error("step failed",
		"step", index, "action", action.ID, "selector", action.Selector,
		"attempts", result.Attempts, "fatal", result.Fatal, "error", lastErr)
	if result.Fatal {
		return result, fmt.Errorf("action %s failed after %d attempts: %w", action.ID, result.Attempts, lastErr)
	}
	return result, nil
}

// perform executes one action against the page with the step timeout
// applied.
func (e *Engine) perform(ctx context.Context, page browser.Page, action *contracts.Action, settings contracts.Settings) error {
	timeout := time.Duration(settings.TimeoutMs) * time.Millisecond
	if action.TimeoutMs > 0 {
		timeout = time.Duration(action.TimeoutMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch action.Type {
	case contracts.ActionNavigate:
		return page.Navigate(ctx, action.URL)
	case contracts.ActionClick:
		return page.Click(ctx, action.Selector)
	case contracts.ActionTypeText:
		return page.Type(ctx, action.Selector, action.Value)
	case contracts.ActionSelect:
		return page.SelectOption(ctx, action.Selector, action.Value)
	case contracts.ActionScroll:
		x, y := 0, 0
		if action.Coordinates != nil {
			x, y = action.Coordinates.X, action.Coordinates.Y
		}
		return page.Scroll(ctx, x, y)
	case contracts.ActionWait:
		if action.WaitFor != "" {
			return page.WaitFor(ctx, action.WaitFor, timeout)
		}
		return e.sleep(ctx, timeout)
	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}

// isLocatorFailure classifies an interaction error as a selector miss
// eligible for repair, as opposed to a timeout or transport failure.
func isLocatorFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var nf *browser.ElementNotFoundError
	return errors.As(err, &nf)
}
