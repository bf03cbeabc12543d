// Package rules compiles free-text governance statements into a
// structured, executable logic specification, validates specifications
// from any source, and evaluates rule conditions against live variable
// bindings.
package rules

import (
	"github.com/getvergo/autoflow/pkg/contracts"
)

// Operator is the closed condition vocabulary.
type Operator string

const (
	OpEq          Operator = "eq"
	OpNeq         Operator = "neq"
	OpGt          Operator = "gt"
	OpLt          Operator = "lt"
	OpGte         Operator = "gte"
	OpLte         Operator = "lte"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
)

// ActionType is the closed rule-action vocabulary.
type ActionType string

const (
	ActSkip      ActionType = "skip"
	ActRetry     ActionType = "retry"
	ActWait      ActionType = "wait"
	ActExecute   ActionType = "execute"
	ActSkipEmpty ActionType = "skip_empty"
)

// SupportedOperators exposes the compiler's condition vocabulary so
// callers never produce an unrecognized token.
func SupportedOperators() []Operator {
	return []Operator{OpEq, OpNeq, OpGt, OpLt, OpGte, OpLte, OpIn, OpNotIn, OpContains, OpNotContains}
}

// SupportedActionTypes exposes the rule-action vocabulary.
func SupportedActionTypes() []ActionType {
	return []ActionType{ActSkip, ActRetry, ActWait, ActExecute, ActSkipEmpty}
}

// VariableType is the declared type of a specification variable.
type VariableType string

const (
	TypeString  VariableType = "string"
	TypeNumber  VariableType = "number"
	TypeBoolean VariableType = "boolean"
	TypeArray   VariableType = "array"
	TypeObject  VariableType = "object"
)

// Variable is one declared specification input. Names are unique within
// a spec; conditions reference variables only by declared name.
type Variable struct {
	Name     string       `json:"name"`
	Type     VariableType `json:"type"`
	Required bool         `json:"required"`
	Default  any          `json:"default,omitempty"`
}

// Condition compares a declared variable against a literal value.
type Condition struct {
	Variable string   `json:"variable"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// RuleAction is what happens when a rule's condition holds.
type RuleAction struct {
	Type   ActionType     `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// Rule gates workflow steps. Higher priority evaluates first.
type Rule struct {
	ID        string     `json:"id"`
	Condition Condition  `json:"condition"`
	Action    RuleAction `json:"action"`
	Priority  int        `json:"priority"`
	Enabled   bool       `json:"enabled"`
}

// Loop repeats referenced actions once per element of an array variable,
// with the element bound to Iterator during each pass.
type Loop struct {
	ID       string   `json:"id"`
	Variable string   `json:"variable"`
	Iterator string   `json:"iterator"`
	Actions  []string `json:"actions"`
}

// SchemaVersion is the current specification schema.
const SchemaVersion = "1.0.0"

// Spec is the whole logic specification: variables, rules, and loops
// wrapped around an action log, plus execution settings. Validated as a
// whole before any execution.
type Spec struct {
	SchemaVersion string             `json:"schema_version"`
	RequireLogin  bool               `json:"require_login,omitempty"`
	Variables     []Variable         `json:"variables"`
	Rules         []Rule             `json:"rules"`
	Loops         []Loop             `json:"loops,omitempty"`
	Actions       []contracts.Action `json:"actions"`
	Settings      contracts.Settings `json:"settings"`
}

// VariableByName looks up a declared variable.
func (s *Spec) VariableByName(name string) (*Variable, bool) {
	for i := range s.Variables {
		if s.Variables[i].Name == name {
			return &s.Variables[i], true
		}
	}
	return nil, false
}

// Bindings merges declared defaults with caller-supplied inputs.
// Supplied values win; defaults fill the gaps.
func (s *Spec) Bindings(inputs map[string]any) map[string]any {
	out := make(map[string]any, len(s.Variables))
	for _, v := range s.Variables {
		if v.Default != nil {
			out[v.Name] = v.Default
		}
	}
	for k, v := range inputs {
		out[k] = v
	}
	return out
}
