package boundary

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Decision is the immutable outcome of classifying one URL. Appended to
// the session-scoped decision log in arrival order.
type Decision struct {
	URL              string `json:"url"`
	NormalizedDomain string `json:"normalized_domain"`
	Allowed          bool   `json:"allowed"`
	Reason           string `json:"reason"`
	TimestampMs      int64  `json:"timestamp_ms"`
}

// Guard owns one session's destination policy, decision history, and pause
// state. Safe for concurrent use.
type Guard struct {
	mu       sync.RWMutex
	policy   Policy
	history  []Decision
	paused   bool
	pauseMsg string
	logger   *slog.Logger
	clock    func() time.Time
}

// NewGuard creates a guard over a copy of the given policy.
func NewGuard(policy Policy) *Guard {
	return &Guard{
		policy: clonePolicy(policy),
		logger: slog.Default().With("component", "boundary"),
		clock:  time.Now,
	}
}

// WithClock overrides the clock for testing.
func (g *Guard) WithClock(clock func() time.Time) *Guard {
	g.clock = clock
	return g
}

func clonePolicy(p Policy) Policy {
	out := Policy{BaseDomain: normalizeDomain(p.BaseDomain)}
	for _, d := range p.AllowedDomains {
		if nd := normalizeDomain(d); nd != "" && nd != InvalidDomain {
			out.AllowedDomains = append(out.AllowedDomains, nd)
		}
	}
	for _, s := range p.SSOProviderPatterns {
		if np := normalizePattern(s); np != "" {
			out.SSOProviderPatterns = append(out.SSOProviderPatterns, np)
		}
	}
	return out
}

// Decide classifies a URL. Total: malformed or empty URLs decide denied
// with the domain reported as "invalid". Recording a denied decision sets
// the pause flag; the next allowed decision clears it.
func (g *Guard) Decide(rawURL string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	d := Decision{
		URL:         rawURL,
		TimestampMs: g.clock().UnixMilli(),
	}
	d.NormalizedDomain = hostFromURL(rawURL)
	d.Reason = g.classify(d.NormalizedDomain)
	d.Allowed = d.Reason != ReasonDenied

	g.history = append(g.history, d)
	if d.Allowed {
		if g.paused {
			g.logger.Info("session resumed", "domain", d.NormalizedDomain)
		}
		g.paused = false
		g.pauseMsg = ""
	} else {
		g.paused = true
		g.pauseMsg = fmt.Sprintf("navigation to %s is outside the sanctioned destination set", d.NormalizedDomain)
		g.logger.Warn("navigation denied", "domain", d.NormalizedDomain, "url", rawURL)
	}
	return d
}

// classify applies decision precedence, first match wins. Caller holds the
// lock.
func (g *Guard) classify(host string) string {
	if host == InvalidDomain {
		return ReasonDenied
	}
	if g.policy.BaseDomain != "" && isSubdomainOf(host, g.policy.BaseDomain) {
		return ReasonBaseDomain
	}
	for _, allowed := range g.policy.AllowedDomains {
		if isSubdomainOf(host, allowed) {
			return ReasonAllowlist
		}
	}
	for _, pattern := range g.policy.SSOProviderPatterns {
		if matchesPattern(pattern, host) {
			return ReasonSSOProvider
		}
	}
	return ReasonDenied
}

// IsPaused reports the session pause state together with its reason.
func (g *Guard) IsPaused() (bool, string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.paused, g.pauseMsg
}

// History returns a copy of the decision log in arrival order.
func (g *Guard) History() []Decision {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Decision, len(g.history))
	copy(out, g.history)
	return out
}

// Policy returns a copy of the active policy.
func (g *Guard) Policy() Policy {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return clonePolicy(g.policy)
}

// AddAllowedDomain adds a domain to the allowlist. Takes effect for
// subsequent decisions only; history is never reclassified.
func (g *Guard) AddAllowedDomain(domain string) error {
	nd := normalizeDomain(domain)
	if nd == "" || nd == InvalidDomain {
		return fmt.Errorf("%w: %q", ErrEmptyDomain, domain)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, existing := range g.policy.AllowedDomains {
		if existing == nd {
			return nil
		}
	}
	g.policy.AllowedDomains = append(g.policy.AllowedDomains, nd)
	return nil
}

// RemoveAllowedDomain removes a domain from the allowlist.
func (g *Guard) RemoveAllowedDomain(domain string) error {
	nd := normalizeDomain(domain)
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, existing := range g.policy.AllowedDomains {
		if existing == nd {
			g.policy.AllowedDomains = append(g.policy.AllowedDomains[:i], g.policy.AllowedDomains[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrDomainNotInPolicy, domain)
}

// UpdateConfig replaces the whole policy at once. The base domain must
// survive the update.
func (g *Guard) UpdateConfig(policy Policy) error {
	next := clonePolicy(policy)
	if next.BaseDomain == "" || next.BaseDomain == InvalidDomain {
		return ErrNoBaseDomain
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.policy = next
	return nil
}
