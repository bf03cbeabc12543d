package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getvergo/autoflow/pkg/browser"
	"github.com/getvergo/autoflow/pkg/browser/browsertest"
)

func loginPage() *browsertest.FakePage {
	page := browsertest.New()
	page.PageURL = "https://app.getvergo.com/login"
	page.PageTitle = "Sign in to Vergo"
	page.SetMatch(`input[type="password"]`, 1)
	page.SetMatch(`input[type="email"]`, 1)
	page.SetMatch(`button[type="submit"]`, 1)
	return page
}

func TestAuthenticate_TraditionalSuccess(t *testing.T) {
	page := loginPage()
	page.CookieJar = []browser.Cookie{{
		Name:    "vergo_session",
		Value:   "abc",
		Domain:  ".getvergo.com",
		Expires: time.Now().Add(24 * time.Hour),
	}}

	auth := NewAuthenticator()
	auth.SubmitTimeout = 10 * time.Millisecond

	// Clicking submit lands the page on the dashboard.
	page.PageURL = "https://app.getvergo.com/login"
	_, err := DetectLoginForm(context.Background(), page)
	require.NoError(t, err)

	page.PageURL = "https://app.getvergo.com/dashboard"
	page.PageTitle = "Dashboard"

	authed, err := auth.Authenticate(context.Background(), page, Credentials{Username: "ops@getvergo.com", Password: "s3cret"})
	require.NoError(t, err)
	assert.Same(t, browser.Page(page), authed)
	assert.Equal(t, StateAuthenticated, auth.State())

	snap := auth.Snapshot()
	require.NotNil(t, snap)
	assert.Len(t, snap.Cookies, 1)
	assert.Equal(t, "autoflow-test/1.0", snap.UserAgent)
	assert.Positive(t, snap.ExpiresAtMs)

	// Credentials actually reached the form fields.
	types := page.CallsOf("type")
	require.Len(t, types, 2)
	assert.Equal(t, "ops@getvergo.com", types[0].Value)
	assert.Equal(t, "s3cret", types[1].Value)
}

func TestAuthenticate_VerificationFailure(t *testing.T) {
	page := loginPage()
	page.CookieJar = []browser.Cookie{{Name: "s", Value: "v", Domain: "x"}}
	// URL never leaves the login path: wrong credentials.

	auth := NewAuthenticator()
	auth.SubmitTimeout = 10 * time.Millisecond

	_, err := auth.Authenticate(context.Background(), page, Credentials{Username: "u", Password: "bad"})
	require.Error(t, err)

	var loginErr *LoginError
	require.ErrorAs(t, err, &loginErr)
	assert.Equal(t, StageVerify, loginErr.Stage)
	assert.True(t, loginErr.CredentialIssue)
	assert.Equal(t, StateFailed, auth.State())
}

func TestAuthenticate_DetectionFailure(t *testing.T) {
	page := browsertest.New()
	page.PageURL = "https://app.getvergo.com/dashboard"

	auth := NewAuthenticator()
	_, err := auth.Authenticate(context.Background(), page, Credentials{})

	var loginErr *LoginError
	require.ErrorAs(t, err, &loginErr)
	assert.Equal(t, StageDetect, loginErr.Stage)
	assert.ErrorIs(t, err, ErrNoLoginForm)
}

func TestAuthenticate_OAuthIsManual(t *testing.T) {
	page := browsertest.New()
	page.PageURL = "https://accounts.example.com/oauth/authorize?client_id=x&response_type=code"

	auth := NewAuthenticator()
	_, err := auth.Authenticate(context.Background(), page, Credentials{})

	require.ErrorIs(t, err, ErrManualLoginRequired)
	assert.Equal(t, StateFailed, auth.State())
	// No credential ever touched the page.
	assert.Empty(t, page.CallsOf("type"))
}

func TestDetectLoginForm_SSOClassification(t *testing.T) {
	page := browsertest.New()
	page.PageURL = "https://getvergo.okta.com/signin"
	page.SetMatch(`input[type="password"]`, 1)
	page.SetMatch(`input[type="text"]`, 1)
	page.SetMatch(`button[type="submit"]`, 1)

	form, err := DetectLoginForm(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, FormSSO, form.FormType)
	assert.Equal(t, `input[type="text"]`, form.FieldSelectors.Username)
}

func TestRestore_SnapshotRoundTrip(t *testing.T) {
	now := time.Now()
	snap := &Snapshot{
		Cookies:      []browser.Cookie{{Name: "sid", Value: "tok", Domain: ".getvergo.com"}},
		LocalStorage: map[string]string{"theme": "dark"},
		UserAgent:    "ua",
		CapturedAtMs: now.UnixMilli(),
		ExpiresAtMs:  now.Add(time.Hour).UnixMilli(),
	}

	fresh := browsertest.New()
	auth := NewAuthenticator().WithClock(func() time.Time { return now })

	require.NoError(t, auth.Restore(context.Background(), fresh, snap))
	assert.Equal(t, StateAuthenticated, auth.State())
	assert.Len(t, fresh.CookieJar, 1)
	assert.Equal(t, "dark", fresh.Local["theme"])
}

func TestRestore_ExpiredSnapshotForcesFreshAuth(t *testing.T) {
	now := time.Now()
	snap := &Snapshot{
		Cookies:     []browser.Cookie{{Name: "sid", Value: "tok", Domain: "x"}},
		ExpiresAtMs: now.Add(-time.Minute).UnixMilli(),
	}

	auth := NewAuthenticator().WithClock(func() time.Time { return now })
	err := auth.Restore(context.Background(), browsertest.New(), snap)
	assert.ErrorIs(t, err, ErrSnapshotExpired)
	assert.NotEqual(t, StateAuthenticated, auth.State())
}

func TestSnapshot_Valid(t *testing.T) {
	now := time.Now()
	tests := []struct {
		desc  string
		snap  *Snapshot
		valid bool
	}{
		{"nil snapshot", nil, false},
		{"no cookies", &Snapshot{}, false},
		{
			"no expiry hint",
			&Snapshot{Cookies: []browser.Cookie{{Name: "a"}}},
			true,
		},
		{
			"future expiry",
			&Snapshot{Cookies: []browser.Cookie{{Name: "a"}}, ExpiresAtMs: now.Add(time.Hour).UnixMilli()},
			true,
		},
		{
			"past expiry",
			&Snapshot{Cookies: []browser.Cookie{{Name: "a"}}, ExpiresAtMs: now.Add(-time.Hour).UnixMilli()},
			false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.valid, tc.snap.Valid(now))
		})
	}
}

func TestNewAuthInvalidatesPreviousSnapshot(t *testing.T) {
	page := loginPage()
	page.CookieJar = []browser.Cookie{{Name: "sid", Value: "v", Domain: "x"}}
	page.PageURL = "https://app.getvergo.com/home"
	page.PageTitle = "Home"

	auth := NewAuthenticator()
	auth.SubmitTimeout = 10 * time.Millisecond

	_, err := auth.Authenticate(context.Background(), page, Credentials{Username: "u", Password: "p"})
	require.NoError(t, err)
	first := auth.Snapshot()
	require.NotNil(t, first)

	// Second pass fails at detection; the old snapshot reference is gone.
	broken := browsertest.New()
	broken.PageURL = "https://app.getvergo.com/home"
	_, err = auth.Authenticate(context.Background(), broken, Credentials{})
	require.Error(t, err)
	assert.Nil(t, auth.Snapshot())
}
