package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/getvergo/autoflow/pkg/contracts"
)

// SelectorSuggester adapts a Client to the selector-repair hook: it asks
// the model for a single CSS selector given the failed original and the
// recorded element hints.
type SelectorSuggester struct {
	client Client
}

// NewSelectorSuggester wraps a client. A nil client yields a suggester
// that always errors, which callers treat as a disabled strategy.
func NewSelectorSuggester(c Client) *SelectorSuggester {
	return &SelectorSuggester{client: c}
}

func (s *SelectorSuggester) SuggestSelector(ctx context.Context, original string, hints contracts.ActionMetadata) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("no suggestion client configured")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "The CSS selector %q no longer matches any element.\n", original)
	if hints.ElementText != "" {
		fmt.Fprintf(&sb, "The element's visible text was %q.\n", hints.ElementText)
	}
	if hints.TagName != "" {
		fmt.Fprintf(&sb, "The element was a <%s>.\n", hints.TagName)
	}
	for k, v := range hints.Attributes {
		fmt.Fprintf(&sb, "It had attribute %s=%q.\n", k, v)
	}
	sb.WriteString("Reply with one replacement CSS selector and nothing else.")

	out, err := s.client.Suggest(ctx, Prompt{
		System: "You repair CSS selectors for web automation. Answer with a bare selector only.",
		User:   sb.String(),
	})
	if err != nil {
		return "", fmt.Errorf("suggest selector: %w", err)
	}
	selector := strings.TrimSpace(strings.Trim(strings.TrimSpace(out.Content), "`"))
	if selector == "" {
		return "", fmt.Errorf("empty selector suggestion")
	}
	return selector, nil
}
