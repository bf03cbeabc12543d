// Package llm is the text-completion capability consumed by rule
// compilation and selector repair. It is an optional enrichment: every
// caller carries a deterministic fallback for a nil client or a failed
// call.
package llm

import (
	"context"
)

// Prompt is one suggestion request.
type Prompt struct {
	System string `json:"system,omitempty"`
	User   string `json:"user"`
}

// Suggestion is the structured reply. Content carries the model text;
// structured output is the caller's parsing concern.
type Suggestion struct {
	Content string `json:"content"`
}

// Client produces suggestions. Treated as fallible by every consumer.
type Client interface {
	Suggest(ctx context.Context, prompt Prompt) (*Suggestion, error)
}
