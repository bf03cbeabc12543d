package boundary

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vergoPolicy() Policy {
	return Policy{
		BaseDomain:          "getvergo.com",
		AllowedDomains:      []string{"vergoerp.io"},
		SSOProviderPatterns: []string{"*.auth0.com"},
	}
}

func TestGuard_Decide(t *testing.T) {
	g := NewGuard(vergoPolicy())

	tests := []struct {
		desc    string
		url     string
		allowed bool
		reason  string
		domain  string
	}{
		{
			desc:    "base domain subdomain",
			url:     "https://app.getvergo.com",
			allowed: true,
			reason:  ReasonBaseDomain,
			domain:  "app.getvergo.com",
		},
		{
			desc:    "base domain exact",
			url:     "https://getvergo.com/dashboard",
			allowed: true,
			reason:  ReasonBaseDomain,
			domain:  "getvergo.com",
		},
		{
			desc:    "explicit allowlist",
			url:     "https://api.vergoerp.io",
			allowed: true,
			reason:  ReasonAllowlist,
			domain:  "api.vergoerp.io",
		},
		{
			desc:    "sso wildcard subdomain",
			url:     "https://login.auth0.com/authorize",
			allowed: true,
			reason:  ReasonSSOProvider,
			domain:  "login.auth0.com",
		},
		{
			desc:    "sso wildcard suffix itself",
			url:     "https://auth0.com",
			allowed: true,
			reason:  ReasonSSOProvider,
			domain:  "auth0.com",
		},
		{
			desc:    "unrelated host denied",
			url:     "https://gmail.com",
			allowed: false,
			reason:  ReasonDenied,
			domain:  "gmail.com",
		},
		{
			desc:    "suffix lookalike denied",
			url:     "https://evilgetvergo.com",
			allowed: false,
			reason:  ReasonDenied,
			domain:  "evilgetvergo.com",
		},
		{
			desc:    "case and trailing dot normalized",
			url:     "HTTPS://App.GetVergo.COM.",
			allowed: true,
			reason:  ReasonBaseDomain,
			domain:  "app.getvergo.com",
		},
		{
			desc:    "port ignored",
			url:     "https://app.getvergo.com:8443/x",
			allowed: true,
			reason:  ReasonBaseDomain,
			domain:  "app.getvergo.com",
		},
		{
			desc:    "empty url denied as invalid",
			url:     "",
			allowed: false,
			reason:  ReasonDenied,
			domain:  InvalidDomain,
		},
		{
			desc:    "garbage url denied as invalid",
			url:     "::::not a url::::",
			allowed: false,
			reason:  ReasonDenied,
			domain:  InvalidDomain,
		},
	}

	for _, tc := range tests {
		t.Run(tc.desc, func(t *testing.T) {
			d := g.Decide(tc.url)
			assert.Equal(t, tc.allowed, d.Allowed)
			assert.Equal(t, tc.reason, d.Reason)
			assert.Equal(t, tc.domain, d.NormalizedDomain)
		})
	}
}

func TestGuard_PauseAndResume(t *testing.T) {
	g := NewGuard(vergoPolicy())

	d := g.Decide("https://gmail.com")
	require.False(t, d.Allowed)
	paused, reason := g.IsPaused()
	assert.True(t, paused)
	assert.Contains(t, reason, "gmail.com")

	d = g.Decide("https://app.getvergo.com")
	require.True(t, d.Allowed)
	paused, reason = g.IsPaused()
	assert.False(t, paused)
	assert.Empty(t, reason)
}

func TestGuard_PolicyMutationNotRetroactive(t *testing.T) {
	g := NewGuard(vergoPolicy())

	before := g.Decide("https://partner.example.com")
	require.False(t, before.Allowed)

	require.NoError(t, g.AddAllowedDomain("example.com"))
	after := g.Decide("https://partner.example.com")
	assert.True(t, after.Allowed)
	assert.Equal(t, ReasonAllowlist, after.Reason)

	// History keeps the original classification.
	history := g.History()
	require.Len(t, history, 2)
	assert.False(t, history[0].Allowed)
	assert.True(t, history[1].Allowed)

	require.NoError(t, g.RemoveAllowedDomain("example.com"))
	assert.False(t, g.Decide("https://partner.example.com").Allowed)
}

func TestGuard_UpdateConfigRequiresBaseDomain(t *testing.T) {
	g := NewGuard(vergoPolicy())
	err := g.UpdateConfig(Policy{AllowedDomains: []string{"x.com"}})
	assert.ErrorIs(t, err, ErrNoBaseDomain)

	require.NoError(t, g.UpdateConfig(Policy{BaseDomain: "other.com"}))
	assert.Equal(t, ReasonBaseDomain, g.Decide("https://other.com").Reason)
	assert.Equal(t, ReasonDenied, g.Decide("https://getvergo.com").Reason)
}

func TestPolicyFromLogin(t *testing.T) {
	p, err := PolicyFromLogin(LoginMetadata{
		BaseDomain:     "GetVergo.com.",
		AllowedDomains: []string{"vergoerp.io"},
		SSOProviders:   []string{"*.Auth0.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "getvergo.com", p.BaseDomain)
	assert.Equal(t, []string{"vergoerp.io"}, p.AllowedDomains)
	assert.Equal(t, []string{"*.auth0.com"}, p.SSOProviderPatterns)

	_, err = PolicyFromLogin(LoginMetadata{})
	assert.ErrorIs(t, err, ErrNoBaseDomain)
}

func TestGuard_RemoveUnknownDomain(t *testing.T) {
	g := NewGuard(vergoPolicy())
	assert.ErrorIs(t, g.RemoveAllowedDomain("never-added.com"), ErrDomainNotInPolicy)
}

// Properties from the destination guard contract: totality, the
// allowed/reason coupling, and subdomain monotonicity of the base domain.
func TestGuard_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("decide is total and allowed == (reason != denied)", prop.ForAll(
		func(raw string) bool {
			g := NewGuard(vergoPolicy())
			d := g.Decide(raw)
			return d.Allowed == (d.Reason != ReasonDenied)
		},
		gen.AnyString(),
	))

	labelGen := gen.RegexMatch(`[a-z][a-z0-9]{0,10}`)

	properties.Property("prepending a subdomain preserves base_domain", prop.ForAll(
		func(label string) bool {
			g := NewGuard(vergoPolicy())
			base := g.Decide("https://" + label + ".getvergo.com")
			if base.Reason != ReasonBaseDomain {
				return false
			}
			deeper := g.Decide("https://" + label + "." + label + ".getvergo.com")
			return deeper.Reason == ReasonBaseDomain
		},
		labelGen,
	))

	properties.TestingRun(t)
}

func TestGuard_DecideIPv6HostReported(t *testing.T) {
	g := NewGuard(vergoPolicy())

	d := g.Decide("https://[::1]:8080/admin")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDenied, d.Reason)
	assert.Equal(t, "::1", d.NormalizedDomain, "denied host is reported, not collapsed to invalid")

	d = g.Decide("https://[2001:db8::1]/")
	assert.False(t, d.Allowed)
	assert.Equal(t, "2001:db8::1", d.NormalizedDomain)
}

func TestNormalizeDomainPorts(t *testing.T) {
	assert.Equal(t, "getvergo.com", normalizeDomain("getvergo.com:8443"))
	assert.Equal(t, "::1", normalizeDomain("[::1]:8080"))
	assert.Equal(t, "::1", normalizeDomain("[::1]"))
}
