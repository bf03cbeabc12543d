package browser

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitedPage wraps a Page so that driver calls against a third-party
// site cannot exceed a per-session rate. Waits respect the caller's context.
type RateLimitedPage struct {
	inner   Page
	limiter *rate.Limiter
}

// RateLimit wraps page with a token bucket of callsPerSec and burst.
func RateLimit(page Page, callsPerSec float64, burst int) *RateLimitedPage {
	return &RateLimitedPage{
		inner:   page,
		limiter: rate.NewLimiter(rate.Limit(callsPerSec), burst),
	}
}

func (r *RateLimitedPage) wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

func (r *RateLimitedPage) Navigate(ctx context.Context, url string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.inner.Navigate(ctx, url)
}

func (r *RateLimitedPage) URL(ctx context.Context) (string, error) {
	if err := r.wait(ctx); err != nil {
		return "", err
	}
	return r.inner.URL(ctx)
}

func (r *RateLimitedPage) Title(ctx context.Context) (string, error) {
	if err := r.wait(ctx); err != nil {
		return "", err
	}
	return r.inner.Title(ctx)
}

func (r *RateLimitedPage) UserAgent(ctx context.Context) (string, error) {
	if err := r.wait(ctx); err != nil {
		return "", err
	}
	return r.inner.UserAgent(ctx)
}

func (r *RateLimitedPage) QueryCount(ctx context.Context, selector string) (int, error) {
	if err := r.wait(ctx); err != nil {
		return 0, err
	}
	return r.inner.QueryCount(ctx, selector)
}

func (r *RateLimitedPage) Click(ctx context.Context, selector string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.inner.Click(ctx, selector)
}

func (r *RateLimitedPage) Type(ctx context.Context, selector, text string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.inner.Type(ctx, selector, text)
}

func (r *RateLimitedPage) SelectOption(ctx context.Context, selector, value string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.inner.SelectOption(ctx, selector, value)
}

func (r *RateLimitedPage) Scroll(ctx context.Context, x, y int) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.inner.Scroll(ctx, x, y)
}

func (r *RateLimitedPage) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.inner.WaitFor(ctx, selector, timeout)
}

func (r *RateLimitedPage) Screenshot(ctx context.Context) ([]byte, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Screenshot(ctx)
}

func (r *RateLimitedPage) Evaluate(ctx context.Context, expression string) (any, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Evaluate(ctx, expression)
}

func (r *RateLimitedPage) Cookies(ctx context.Context) ([]Cookie, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Cookies(ctx)
}

func (r *RateLimitedPage) SetCookies(ctx context.Context, cookies []Cookie) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.inner.SetCookies(ctx, cookies)
}

func (r *RateLimitedPage) Storage(ctx context.Context, kind StorageKind) (map[string]string, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Storage(ctx, kind)
}

func (r *RateLimitedPage) SetStorage(ctx context.Context, kind StorageKind, entries map[string]string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.inner.SetStorage(ctx, kind, entries)
}

func (r *RateLimitedPage) Close() error {
	return r.inner.Close()
}
