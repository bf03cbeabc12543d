// Package browsertest provides an in-memory Page implementation for tests.
// Match counts per selector are scripted up front; every interaction is
// recorded so tests can assert call order.
package browsertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/getvergo/autoflow/pkg/browser"
)

// Call records one driver invocation.
type Call struct {
	Method   string
	Selector string
	Value    string
}

// FakePage is a scriptable Page. Zero value is usable; all fields guarded
// by one mutex so concurrent sessions can share the fixture safely.
type FakePage struct {
	mu sync.Mutex

	Matches     map[string]int // selector -> match count; missing = 0
	PageURL     string
	PageTitle   string
	Agent       string
	CookieJar   []browser.Cookie
	Local       map[string]string
	Session     map[string]string
	EvalResults map[string]any // expression -> scripted result

	FailSelectors map[string]error // selector -> interaction error
	NavigateErr   error
	ScreenshotPNG []byte

	Calls  []Call
	closed bool
}

// New returns a FakePage with empty state.
func New() *FakePage {
	return &FakePage{
		Matches:       map[string]int{},
		Local:         map[string]string{},
		Session:       map[string]string{},
		EvalResults:   map[string]any{},
		FailSelectors: map[string]error{},
		Agent:         "autoflow-test/1.0",
	}
}

func (f *FakePage) record(method, selector, value string) {
	f.Calls = append(f.Calls, Call{Method: method, Selector: selector, Value: value})
}

// SetMatch scripts the match count for a selector.
func (f *FakePage) SetMatch(selector string, count int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Matches[selector] = count
}

func (f *FakePage) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("navigate", "", url)
	if f.NavigateErr != nil {
		return f.NavigateErr
	}
	f.PageURL = url
	return nil
}

func (f *FakePage) URL(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.PageURL, nil
}

func (f *FakePage) Title(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.PageTitle, nil
}

func (f *FakePage) UserAgent(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Agent, nil
}

func (f *FakePage) QueryCount(_ context.Context, selector string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("query", selector, "")
	return f.Matches[selector], nil
}

func (f *FakePage) interact(method, selector, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(method, selector, value)
	if err, ok := f.FailSelectors[selector]; ok {
		return err
	}
	if f.Matches[selector] == 0 {
		return &browser.ElementNotFoundError{Selector: selector}
	}
	return nil
}

func (f *FakePage) Click(_ context.Context, selector string) error {
	return f.interact("click", selector, "")
}

func (f *FakePage) Type(_ context.Context, selector, text string) error {
	return f.interact("type", selector, text)
}

func (f *FakePage) SelectOption(_ context.Context, selector, value string) error {
	return f.interact("select", selector, value)
}

func (f *FakePage) Scroll(_ context.Context, x, y int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("scroll", "", fmt.Sprintf("%d,%d", x, y))
	return nil
}

func (f *FakePage) WaitFor(_ context.Context, selector string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("wait", selector, "")
	if f.Matches[selector] == 0 {
		return fmt.Errorf("wait: %w", &browser.ElementNotFoundError{Selector: selector})
	}
	return nil
}

func (f *FakePage) Screenshot(context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("screenshot", "", "")
	if f.ScreenshotPNG != nil {
		return f.ScreenshotPNG, nil
	}
	return []byte("png"), nil
}

func (f *FakePage) Evaluate(_ context.Context, expression string) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("evaluate", "", expression)
	if v, ok := f.EvalResults[expression]; ok {
		return v, nil
	}
	return nil, nil
}

func (f *FakePage) Cookies(context.Context) ([]browser.Cookie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]browser.Cookie, len(f.CookieJar))
	copy(out, f.CookieJar)
	return out, nil
}

func (f *FakePage) SetCookies(_ context.Context, cookies []browser.Cookie) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CookieJar = append(f.CookieJar, cookies...)
	return nil
}

func (f *FakePage) Storage(_ context.Context, kind browser.StorageKind) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	src := f.Local
	if kind == browser.SessionStorage {
		src = f.Session
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out, nil
}

func (f *FakePage) SetStorage(_ context.Context, kind browser.StorageKind, entries map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dst := f.Local
	if kind == browser.SessionStorage {
		dst = f.Session
	}
	for k, v := range entries {
		dst[k] = v
	}
	return nil
}

func (f *FakePage) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (f *FakePage) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// CallsOf returns recorded calls filtered by method.
func (f *FakePage) CallsOf(method string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.Calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}
