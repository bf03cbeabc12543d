// Package contracts holds the data contracts shared across the automation
// engine: recorded actions, run records, and execution settings. Types here
// are plain data: no driver handles, no engine state.
package contracts

import (
	"fmt"
	"time"
)

// ActionType is the closed set of recordable interaction kinds.
// Unknown kinds are rejected at validation time, never silently carried.
type ActionType string

const (
	ActionClick    ActionType = "click"
	ActionTypeText ActionType = "type"
	ActionSelect   ActionType = "select"
	ActionNavigate ActionType = "navigate"
	ActionScroll   ActionType = "scroll"
	ActionWait     ActionType = "wait"
)

// KnownActionTypes lists every action kind the engine accepts.
func KnownActionTypes() []ActionType {
	return []ActionType{ActionClick, ActionTypeText, ActionSelect, ActionNavigate, ActionScroll, ActionWait}
}

// Coordinates is a viewport position recorded alongside pointer actions.
type Coordinates struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ActionMetadata is the typed metadata bag attached to a recorded action.
type ActionMetadata struct {
	Confidence    float64           `json:"confidence,omitempty"`
	Reasoning     string            `json:"reasoning,omitempty"`
	ScreenshotRef string            `json:"screenshot_ref,omitempty"`
	ElementText   string            `json:"element_text,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	TagName       string            `json:"tag_name,omitempty"`
}

// Action is one recorded interaction. Immutable after capture except for
// selector-repair patches applied in memory before a replay attempt.
type Action struct {
	ID           string         `json:"id"`
	Type         ActionType     `json:"type"`
	Selector     string         `json:"selector,omitempty"`
	Value        string         `json:"value,omitempty"`
	URL          string         `json:"url,omitempty"`
	Coordinates  *Coordinates   `json:"coordinates,omitempty"`
	WaitFor      string         `json:"wait_for,omitempty"`
	TimeoutMs    int            `json:"timeout_ms,omitempty"`
	RetryCount   int            `json:"retry_count,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Metadata     ActionMetadata `json:"metadata"`
	Order        int            `json:"order"`
}

// Validate checks a single action against the closed type set.
func (a *Action) Validate() error {
	switch a.Type {
	case ActionClick, ActionTypeText, ActionSelect, ActionNavigate, ActionScroll, ActionWait:
	default:
		return fmt.Errorf("unknown action type %q (action %s)", a.Type, a.ID)
	}
	if a.Order < 0 {
		return fmt.Errorf("action %s: negative order %d", a.ID, a.Order)
	}
	if a.Type == ActionNavigate && a.URL == "" {
		return fmt.Errorf("action %s: navigate without url", a.ID)
	}
	return nil
}

// ValidateLog validates an ordered action log as a whole: dense 0-based
// ordering and dependencies that only point backwards.
func ValidateLog(actions []Action) error {
	byID := make(map[string]int, len(actions))
	for i := range actions {
		if err := actions[i].Validate(); err != nil {
			return err
		}
		if actions[i].Order != i {
			return fmt.Errorf("action %s: order %d at position %d (log must be dense)", actions[i].ID, actions[i].Order, i)
		}
		byID[actions[i].ID] = actions[i].Order
	}
	for i := range actions {
		for _, dep := range actions[i].Dependencies {
			depOrder, ok := byID[dep]
			if !ok {
				return fmt.Errorf("action %s depends on unknown action %s", actions[i].ID, dep)
			}
			if depOrder >= actions[i].Order {
				return fmt.Errorf("action %s depends on %s which does not precede it", actions[i].ID, dep)
			}
		}
	}
	return nil
}

// Settings mirrors the logic specification's settings block and drives
// replay behavior.
type Settings struct {
	TimeoutMs         int  `json:"timeout_ms"`
	RetryAttempts     int  `json:"retry_attempts"`
	ScreenshotOnError bool `json:"screenshot_on_error"`
	DebugMode         bool `json:"debug_mode"`
}

// DefaultSettings returns the conservative execution defaults.
func DefaultSettings() Settings {
	return Settings{
		TimeoutMs:     30_000,
		RetryAttempts: 3,
	}
}

// RetryDelayFor returns the inter-attempt delay for a retry index using the
// exponential schedule shared by replay and orchestration.
func (s Settings) RetryDelayFor(attempt int) time.Duration {
	base := 500 * time.Millisecond
	if attempt <= 0 {
		return base
	}
	if attempt > 6 {
		attempt = 6
	}
	return base * time.Duration(1<<attempt)
}
