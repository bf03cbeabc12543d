// Package boundary classifies navigation targets against the destination
// policy owned by a recording or replay session. Every navigation decision
// is total: malformed input decides "denied", never an error.
package boundary

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Decision reasons.
const (
	ReasonBaseDomain  = "base_domain"
	ReasonAllowlist   = "explicit_allowlist"
	ReasonSSOProvider = "sso_provider"
	ReasonDenied      = "denied"
)

// InvalidDomain is reported for URLs whose host cannot be extracted.
const InvalidDomain = "invalid"

// Policy errors.
var (
	ErrNoBaseDomain      = errors.New("destination policy requires a base domain")
	ErrNavigationDenied  = errors.New("navigation denied by destination policy")
	ErrDomainNotInPolicy = errors.New("domain not present in policy")
	ErrEmptyDomain       = errors.New("domain must not be empty")
)

// Policy is the sanctioned destination set for one session. Mutable only
// through its methods; never shared across sessions.
type Policy struct {
	BaseDomain          string   `json:"base_domain"`
	AllowedDomains      []string `json:"allowed_domains,omitempty"`
	SSOProviderPatterns []string `json:"sso_provider_patterns,omitempty"`
}

// LoginMetadata is the slice of a stored login the policy constructor needs.
type LoginMetadata struct {
	BaseDomain     string   `json:"base_domain"`
	AllowedDomains []string `json:"allowed_domains,omitempty"`
	SSOProviders   []string `json:"sso_providers,omitempty"`
}

// PolicyFromLogin builds a session policy from a stored login's metadata.
// Fails fast when the login carries no base domain.
func PolicyFromLogin(meta LoginMetadata) (*Policy, error) {
	base := normalizeDomain(meta.BaseDomain)
	if base == "" || base == InvalidDomain {
		return nil, fmt.Errorf("%w: login metadata has base domain %q", ErrNoBaseDomain, meta.BaseDomain)
	}
	p := &Policy{BaseDomain: base}
	for _, d := range meta.AllowedDomains {
		if nd := normalizeDomain(d); nd != "" && nd != InvalidDomain {
			p.AllowedDomains = append(p.AllowedDomains, nd)
		}
	}
	for _, s := range meta.SSOProviders {
		if np := normalizePattern(s); np != "" {
			p.SSOProviderPatterns = append(p.SSOProviderPatterns, np)
		}
	}
	return p, nil
}

// normalizeDomain lowercases, strips a single trailing dot, and discards
// scheme and port. Returns InvalidDomain when no host survives.
func normalizeDomain(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil || u.Hostname() == "" {
			return InvalidDomain
		}
		s = u.Hostname()
	}
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	// strip a port without mauling IPv6 literals
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.Trim(s, "[]")
	s = strings.TrimSuffix(s, ".")
	if s == "" {
		return InvalidDomain
	}
	return s
}

// normalizePattern normalizes an SSO provider pattern, preserving a single
// leading "*." wildcard.
func normalizePattern(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	wildcard := strings.HasPrefix(s, "*.")
	if wildcard {
		s = s[2:]
	}
	s = normalizeDomain(s)
	if s == "" || s == InvalidDomain {
		return ""
	}
	if wildcard {
		return "*." + s
	}
	return s
}

// hostFromURL extracts and normalizes the host of a full URL. Inputs
// without a scheme are treated as bare hosts.
func hostFromURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return InvalidDomain
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Hostname() == "" {
		return InvalidDomain
	}
	return normalizeDomain(u.Hostname())
}

// isSubdomainOf reports whether host equals base or is a subdomain of it.
func isSubdomainOf(host, base string) bool {
	return host == base || strings.HasSuffix(host, "."+base)
}

// matchesPattern matches an SSO pattern against a host. A leading "*."
// matches the suffix itself or any subdomain of it; otherwise exact match.
func matchesPattern(pattern, host string) bool {
	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		return isSubdomainOf(host, suffix)
	}
	return pattern == host
}
