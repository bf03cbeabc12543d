package browser_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getvergo/autoflow/pkg/browser"
	"github.com/getvergo/autoflow/pkg/browser/browsertest"
)

func TestRateLimitedPagePassesThrough(t *testing.T) {
	fake := browsertest.New()
	fake.SetMatch("#go", 1)
	page := browser.RateLimit(fake, 100, 10)

	ctx := context.Background()
	require.NoError(t, page.Navigate(ctx, "https://app.getvergo.com/"))
	require.NoError(t, page.Click(ctx, "#go"))

	url, err := page.URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://app.getvergo.com/", url)
	assert.Len(t, fake.CallsOf("click"), 1)
}

func TestRateLimitedPageHonorsCancel(t *testing.T) {
	fake := browsertest.New()
	// zero rate: the first wait beyond the burst blocks until cancel
	page := browser.RateLimit(fake, 0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := page.Click(ctx, "#go")
	require.Error(t, err)
	assert.Empty(t, fake.CallsOf("click"))
}

func TestRateLimitedPageClose(t *testing.T) {
	fake := browsertest.New()
	page := browser.RateLimit(fake, 100, 10)
	require.NoError(t, page.Close())
	assert.True(t, fake.Closed())
}
