package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/getvergo/autoflow/pkg/browser"
)

// FormType classifies the login page.
type FormType string

const (
	FormTraditional FormType = "traditional"
	FormOAuth       FormType = "oauth"
	FormSSO         FormType = "sso"
)

// FieldSelectors locates the three interaction points of a login form.
type FieldSelectors struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Submit   string `json:"submit"`
}

// FormDescriptor is the ephemeral result of live login-form detection.
// Never persisted; the page it describes may change at any moment.
type FormDescriptor struct {
	FormType         FormType       `json:"form_type"`
	SubmissionMethod string         `json:"submission_method"`
	FieldSelectors   FieldSelectors `json:"field_selectors"`
}

// ErrNoLoginForm means no recognizable login form is present.
var ErrNoLoginForm = errors.New("no login form detected on page")

// usernameSelectors in preference order.
var usernameSelectors = []string{
	`input[type="email"]`,
	`input[name="email"]`,
	`input[name="username"]`,
	`input[autocomplete="username"]`,
	`input[type="text"]`,
}

var submitSelectors = []string{
	`button[type="submit"]`,
	`input[type="submit"]`,
	`form button`,
}

// oauthMarkers in the page URL indicate a third-party authorization flow.
var oauthMarkers = []string{"/oauth", "/authorize", "response_type=", "client_id="}

// ssoHosts are identity-provider hosts whose presence classifies the form
// as SSO rather than a first-party login.
var ssoHosts = []string{"auth0.com", "okta.com", "onelogin.com", "login.microsoftonline.com", "accounts.google.com"}

// DetectLoginForm inspects the live page and classifies its login shape.
func DetectLoginForm(ctx context.Context, page browser.Page) (*FormDescriptor, error) {
	url, err := page.URL(ctx)
	if err != nil {
		return nil, fmt.Errorf("read url: %w", err)
	}
	lower := strings.ToLower(url)

	for _, marker := range oauthMarkers {
		if strings.Contains(lower, marker) {
			return &FormDescriptor{FormType: FormOAuth, SubmissionMethod: "redirect"}, nil
		}
	}

	formType := FormTraditional
	for _, host := range ssoHosts {
		if strings.Contains(lower, host) {
			formType = FormSSO
			break
		}
	}

	password := `input[type="password"]`
	if n, err := page.QueryCount(ctx, password); err != nil || n == 0 {
		return nil, ErrNoLoginForm
	}

	username, err := firstPresent(ctx, page, usernameSelectors)
	if err != nil {
		return nil, fmt.Errorf("%w: no username field", ErrNoLoginForm)
	}
	submit, err := firstPresent(ctx, page, submitSelectors)
	if err != nil {
		return nil, fmt.Errorf("%w: no submit control", ErrNoLoginForm)
	}

	return &FormDescriptor{
		FormType:         formType,
		SubmissionMethod: "form_post",
		FieldSelectors: FieldSelectors{
			Username: username,
			Password: password,
			Submit:   submit,
		},
	}, nil
}

func firstPresent(ctx context.Context, page browser.Page, selectors []string) (string, error) {
	for _, sel := range selectors {
		if n, err := page.QueryCount(ctx, sel); err == nil && n > 0 {
			return sel, nil
		}
	}
	return "", ErrNoLoginForm
}

// loginPathSegments and loginTitleKeywords are the markers whose absence
// verifies a logged-in state.
var loginPathSegments = []string{"/login", "/signin", "/sign-in", "/auth", "/sso"}

var loginTitleKeywords = []string{"login", "sign in", "log in", "authenticate"}

// loginMarker returns the first login marker found in the URL path or the
// page title, or "" when the page looks logged in.
func loginMarker(url, title string) string {
	lowerURL := strings.ToLower(url)
	for _, seg := range loginPathSegments {
		if strings.Contains(lowerURL, seg) {
			return seg
		}
	}
	lowerTitle := strings.ToLower(title)
	for _, kw := range loginTitleKeywords {
		if strings.Contains(lowerTitle, kw) {
			return kw
		}
	}
	return ""
}
