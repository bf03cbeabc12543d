// Package browser defines the driver surface the engine automates against:
// a live page handle with navigate/query/interact/screenshot primitives.
// The engine never reaches past this interface; the driver's transport and
// lifecycle belong to the caller.
package browser

import (
	"context"
	"fmt"
	"time"
)

// ElementNotFoundError reports a selector that matched no element.
// Callers use it to tell a repairable locator miss from a timeout or
// transport failure.
type ElementNotFoundError struct {
	Selector string
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("no element matches %q", e.Selector)
}

// Cookie is one browser cookie in driver-neutral form.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	HTTPOnly bool      `json:"http_only,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	SameSite string    `json:"same_site,omitempty"`
}

// StorageKind selects between the page's storage areas.
type StorageKind string

const (
	LocalStorage   StorageKind = "local"
	SessionStorage StorageKind = "session"
)

// Page is a live page handle. Selectors are CSS by default; an "xpath="
// prefix switches the query dialect. Every call is context-bound and may
// block on network or rendering latency.
type Page interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	UserAgent(ctx context.Context) (string, error)

	// QueryCount returns how many elements the selector matches.
	QueryCount(ctx context.Context, selector string) (int, error)
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	SelectOption(ctx context.Context, selector, value string) error
	Scroll(ctx context.Context, x, y int) error
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error

	Screenshot(ctx context.Context) ([]byte, error)
	Evaluate(ctx context.Context, expression string) (any, error)

	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
	Storage(ctx context.Context, kind StorageKind) (map[string]string, error)
	SetStorage(ctx context.Context, kind StorageKind, entries map[string]string) error

	// Close releases the page handle. Safe to call more than once.
	Close() error
}
