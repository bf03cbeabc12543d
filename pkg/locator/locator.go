// Package locator re-identifies page elements whose recorded selector no
// longer resolves. Each strategy proposes candidate selectors at a fixed
// confidence weight; candidates are verified against the live page and the
// best survivor wins.
package locator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/getvergo/autoflow/pkg/browser"
	"github.com/getvergo/autoflow/pkg/contracts"
)

// Fixed confidence weights per strategy.
const (
	confidenceText       = 0.8
	confidenceAttribute  = 0.8
	confidenceStructural = 0.7
	confidenceDialect    = 0.7
	confidencePositional = 0.6
	confidenceSuggested  = 0.5
)

// Candidate is one verified alternative selector.
type Candidate struct {
	Selector   string  `json:"selector"`
	Strategy   string  `json:"strategy"`
	Confidence float64 `json:"confidence"`
}

// FallbackResult is the outcome of a resolution attempt. A miss is a
// result with Success=false and a descriptive Error, never a Go error:
// the caller decides whether to abort the step or the run.
type FallbackResult struct {
	Success      bool        `json:"success"`
	Selector     string      `json:"selector,omitempty"`
	Strategy     string      `json:"strategy,omitempty"`
	Confidence   float64     `json:"confidence"`
	Alternatives []Candidate `json:"alternatives,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// Strategy generates candidate selectors for a failed original. Strategies
// are pure; verification against the page happens in the resolver.
type Strategy interface {
	Name() string
	Confidence() float64
	Candidates(original string, hints contracts.ActionMetadata) []string
}

// Suggester is the optional text-completion capability consulted as a
// last-resort strategy. A nil Suggester simply disables that strategy.
type Suggester interface {
	SuggestSelector(ctx context.Context, original string, hints contracts.ActionMetadata) (string, error)
}

// Config selects the enabled strategies and bounds the whole resolution.
type Config struct {
	Strategies []Strategy
	Timeout    time.Duration
	Suggester  Suggester
}

// DefaultConfig enables every deterministic strategy, ordered highest
// confidence first.
func DefaultConfig() Config {
	return Config{
		Strategies: []Strategy{
			TextMatch{},
			AttributeRewrite{},
			StructuralRelaxation{},
			DialectRewrite{},
			Positional{},
		},
		Timeout: 10 * time.Second,
	}
}

// Resolver runs the configured strategies against a live page.
type Resolver struct {
	cfg    Config
	logger *slog.Logger
}

// NewResolver builds a resolver; a zero-strategy config falls back to the
// defaults.
func NewResolver(cfg Config) *Resolver {
	if len(cfg.Strategies) == 0 {
		def := DefaultConfig()
		cfg.Strategies = def.Strategies
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Resolver{
		cfg:    cfg,
		logger: slog.Default().With("component", "locator"),
	}
}

// Resolve tries every enabled strategy and returns the verified candidates
// ranked by confidence. The top candidate is the returned Selector; the
// rest are Alternatives.
func (r *Resolver) Resolve(ctx context.Context, original string, hints contracts.ActionMetadata, page browser.Page) FallbackResult {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	var verified []Candidate
	seen := map[string]bool{original: true}

	for _, strat := range r.cfg.Strategies {
		for _, candidate := range strat.Candidates(original, hints) {
			if seen[candidate] {
				continue
			}
			seen[candidate] = true
			if r.matchesOne(ctx, page, candidate) {
				verified = append(verified, Candidate{
					Selector:   candidate,
					Strategy:   strat.Name(),
					Confidence: strat.Confidence(),
				})
				break // one candidate per strategy
			}
		}
	}

	if r.cfg.Suggester != nil && len(verified) == 0 {
		if suggestion, err := r.cfg.Suggester.SuggestSelector(ctx, original, hints); err == nil && suggestion != "" && !seen[suggestion] {
			if r.matchesOne(ctx, page, suggestion) {
				verified = append(verified, Candidate{
					Selector:   suggestion,
					Strategy:   "llm_suggestion",
					Confidence: confidenceSuggested,
				})
			}
		}
	}

	if len(verified) == 0 {
		return FallbackResult{
			Success: false,
			Error:   fmt.Sprintf("no fallback strategy matched a unique element for selector %q", original),
		}
	}

	sort.SliceStable(verified, func(i, j int) bool {
		return verified[i].Confidence > verified[j].Confidence
	})

	top := verified[0]
	r.logger.Info("selector repaired",
		"original", original,
		"selector", top.Selector,
		"strategy", top.Strategy,
		"confidence", top.Confidence,
	)
	return FallbackResult{
		Success:      true,
		Selector:     top.Selector,
		Strategy:     top.Strategy,
		Confidence:   top.Confidence,
		Alternatives: verified[1:],
	}
}

// matchesOne accepts a candidate only when it identifies exactly one
// element on the live page.
func (r *Resolver) matchesOne(ctx context.Context, page browser.Page, selector string) bool {
	n, err := page.QueryCount(ctx, selector)
	return err == nil && n == 1
}
