package rules

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getvergo/autoflow/pkg/contracts"
	"github.com/getvergo/autoflow/pkg/llm"
)

func fixedClock() func() time.Time {
	t := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func TestCompileEmptyTextFailsFast(t *testing.T) {
	c := NewCompiler(WithCompilerClock(fixedClock()))

	for _, text := range []string{"", "   ", "\n\t"} {
		res := c.Compile(context.Background(), text, []Variable{{Name: "status", Type: TypeString}})
		assert.False(t, res.Success)
		assert.Equal(t, []string{"Natural language rules cannot be empty"}, res.Errors)
		assert.Nil(t, res.Spec)
	}
}

func TestCompileWarnsWithoutVariables(t *testing.T) {
	c := NewCompiler(WithCompilerClock(fixedClock()))

	res := c.Compile(context.Background(), "skip if status is done", nil)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "no variables supplied")
}

func TestCompileDeterministicRules(t *testing.T) {
	vars := []Variable{
		{Name: "status", Type: TypeString},
		{Name: "attempts", Type: TypeNumber},
		{Name: "region", Type: TypeString},
		{Name: "products", Type: TypeArray},
	}
	c := NewCompiler(WithCompilerClock(fixedClock()))

	text := "Skip if status is complete.\n" +
		"Retry up to 3 times if attempts is less than 5.\n" +
		"Wait 10 seconds if region is eu-west.\n" +
		"For each item in products\n" +
		"Skip if region is empty"

	res := c.Compile(context.Background(), text, vars)
	require.True(t, res.Success, "errors: %v", res.Errors)
	require.NotNil(t, res.Spec)

	require.Len(t, res.Spec.Rules, 4)
	require.Len(t, res.Spec.Loops, 1)

	skip := res.Spec.Rules[0]
	assert.Equal(t, Condition{Variable: "status", Operator: OpEq, Value: "complete"}, skip.Condition)
	assert.Equal(t, ActSkip, skip.Action.Type)
	assert.True(t, skip.Enabled)

	retry := res.Spec.Rules[1]
	assert.Equal(t, OpLt, retry.Condition.Operator)
	assert.Equal(t, float64(5), retry.Condition.Value)
	assert.Equal(t, ActRetry, retry.Action.Type)
	assert.Equal(t, 3, retry.Action.Params["attempts"])

	wait := res.Spec.Rules[2]
	assert.Equal(t, ActWait, wait.Action.Type)
	assert.Equal(t, 10, wait.Action.Params["seconds"])

	loop := res.Spec.Loops[0]
	assert.Equal(t, "item", loop.Iterator)
	assert.Equal(t, "products", loop.Variable)

	assert.Equal(t, 4, res.Metadata.RulesCount)
	assert.Equal(t, 4, res.Metadata.VariablesCount)
}

func TestCompileUnparsedSentenceBecomesWarning(t *testing.T) {
	c := NewCompiler(WithCompilerClock(fixedClock()))
	vars := []Variable{{Name: "status", Type: TypeString}}

	res := c.Compile(context.Background(), "do something vague; skip if status is done", vars)
	require.True(t, res.Success)
	require.Len(t, res.Spec.Rules, 1)
	assert.Contains(t, res.Warnings[0], "could not interpret")
}

func TestCompileUndeclaredVariableFails(t *testing.T) {
	c := NewCompiler(WithCompilerClock(fixedClock()))

	res := c.Compile(context.Background(), "skip if nonexistent is empty", []Variable{{Name: "status", Type: TypeString}})
	assert.False(t, res.Success)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "undeclared variable")
}

type scriptedAssist struct {
	content string
	err     error
	calls   int
}

func (s *scriptedAssist) Suggest(_ context.Context, _ llm.Prompt) (*llm.Suggestion, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Suggestion{Content: s.content}, nil
}

func TestCompileAssistedSpecIsUsedWhenValid(t *testing.T) {
	assist := &scriptedAssist{content: "```json\n" + `{
		"rules": [{
			"id": "r-llm",
			"condition": {"variable": "status", "operator": "eq", "value": "done"},
			"action": {"type": "skip"},
			"priority": 1,
			"enabled": true
		}],
		"loops": []
	}` + "\n```"}
	c := NewCompiler(WithAssist(assist), WithCompilerClock(fixedClock()))

	res := c.Compile(context.Background(), "skip finished rows", []Variable{{Name: "status", Type: TypeString}})
	require.True(t, res.Success, "errors: %v", res.Errors)
	require.Len(t, res.Spec.Rules, 1)
	assert.Equal(t, "r-llm", res.Spec.Rules[0].ID)
	assert.Equal(t, 1, assist.calls)
	assert.Equal(t, SchemaVersion, res.Spec.SchemaVersion)
}

func TestCompileFallsBackWhenAssistFails(t *testing.T) {
	vars := []Variable{{Name: "status", Type: TypeString}}

	for name, assist := range map[string]*scriptedAssist{
		"transport error": {err: errors.New("upstream 503")},
		"non-json output": {content: "I think you should skip completed rows."},
		"invalid spec":    {content: `{"rules":[{"id":"x","condition":{"variable":"ghost","operator":"eq","value":1},"action":{"type":"skip"}}]}`},
	} {
		t.Run(name, func(t *testing.T) {
			c := NewCompiler(WithAssist(assist), WithCompilerClock(fixedClock()))
			res := c.Compile(context.Background(), "skip if status is done", vars)
			require.True(t, res.Success, "errors: %v", res.Errors)
			require.Len(t, res.Spec.Rules, 1)
			assert.Equal(t, "status", res.Spec.Rules[0].Condition.Variable)
		})
	}
}

func validSpec() *Spec {
	return &Spec{
		SchemaVersion: SchemaVersion,
		Variables: []Variable{
			{Name: "status", Type: TypeString},
			{Name: "rows", Type: TypeArray},
		},
		Rules: []Rule{{
			ID:        "r1",
			Condition: Condition{Variable: "status", Operator: OpEq, Value: "done"},
			Action:    RuleAction{Type: ActSkip},
			Enabled:   true,
		}},
		Loops: []Loop{{
			ID:       "l1",
			Variable: "rows",
			Iterator: "row",
			Actions:  []string{"a0"},
		}},
		Actions: []contracts.Action{
			{ID: "a0", Type: contracts.ActionClick, Selector: "#submit", Order: 0},
		},
		Settings: contracts.DefaultSettings(),
	}
}

func TestValidateSpecAcceptsWellFormed(t *testing.T) {
	assert.Empty(t, ValidateSpec(validSpec()))
}

func TestValidateSpecCrossReferences(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Spec)
		want   string
	}{
		{
			name:   "rule references undeclared variable",
			mutate: func(s *Spec) { s.Rules[0].Condition.Variable = "ghost" },
			want:   `rule "r1" references undeclared variable "ghost"`,
		},
		{
			name:   "loop variable is not an array",
			mutate: func(s *Spec) { s.Loops[0].Variable = "status" },
			want:   `loop "l1" iterates variable "status" of type string, want array`,
		},
		{
			name:   "loop references unknown action",
			mutate: func(s *Spec) { s.Loops[0].Actions = []string{"missing"} },
			want:   `loop "l1" references unknown action "missing"`,
		},
		{
			name:   "duplicate variable declaration",
			mutate: func(s *Spec) { s.Variables = append(s.Variables, Variable{Name: "status", Type: TypeString}) },
			want:   `variable "status" declared more than once`,
		},
		{
			name:   "unsupported schema version",
			mutate: func(s *Spec) { s.SchemaVersion = "2.1.0" },
			want:   "not supported",
		},
		{
			name:   "malformed schema version",
			mutate: func(s *Spec) { s.SchemaVersion = "banana" },
			want:   "not valid semver",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := validSpec()
			tt.mutate(spec)
			errs := ValidateSpec(spec)
			require.NotEmpty(t, errs)
			found := false
			for _, e := range errs {
				if strings.Contains(e, tt.want) {
					found = true
					break
				}
			}
			assert.True(t, found, "want %q in %v", tt.want, errs)
		})
	}
}

func TestValidateSpecStructural(t *testing.T) {
	spec := validSpec()
	spec.Rules[0].Condition.Operator = "resembles"
	errs := ValidateSpec(spec)
	require.NotEmpty(t, errs)

	spec = validSpec()
	spec.Rules[0].ID = ""
	assert.NotEmpty(t, ValidateSpec(spec))

	spec = validSpec()
	spec.Rules[0].Action.Type = "explode"
	assert.NotEmpty(t, ValidateSpec(spec))
}

func TestSupportedVocabulary(t *testing.T) {
	assert.Len(t, SupportedOperators(), 10)
	assert.Len(t, SupportedActionTypes(), 5)
}

func TestEvaluator(t *testing.T) {
	spec := &Spec{
		SchemaVersion: SchemaVersion,
		Variables: []Variable{
			{Name: "status", Type: TypeString},
			{Name: "count", Type: TypeNumber},
			{Name: "tags", Type: TypeArray},
		},
	}
	ev, err := NewEvaluator(spec)
	require.NoError(t, err)

	bindings := map[string]any{
		"status": "done",
		"count":  4.0,
		"tags":   []any{"eu", "priority"},
	}

	rule := func(v string, op Operator, val any) Rule {
		return Rule{ID: "t", Condition: Condition{Variable: v, Operator: op, Value: val}, Enabled: true}
	}

	tests := []struct {
		name string
		rule Rule
		want bool
	}{
		{"eq true", rule("status", OpEq, "done"), true},
		{"eq false", rule("status", OpNeq, "done"), false},
		{"gt", rule("count", OpGt, 3), true},
		{"lte", rule("count", OpLte, 3), false},
		{"in list", rule("status", OpIn, []any{"done", "failed"}), true},
		{"not in list", rule("status", OpNotIn, []any{"pending"}), true},
		{"string contains", rule("status", OpContains, "on"), true},
		{"array contains", rule("tags", OpContains, "priority"), true},
		{"array not contains", rule("tags", OpNotContains, "apac"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ev.Evaluate(tt.rule, bindings)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluatorDisabledRuleNeverHolds(t *testing.T) {
	ev, err := NewEvaluator(&Spec{Variables: []Variable{{Name: "status", Type: TypeString}}})
	require.NoError(t, err)

	held, err := ev.Evaluate(Rule{
		ID:        "off",
		Condition: Condition{Variable: "status", Operator: OpEq, Value: "done"},
		Enabled:   false,
	}, map[string]any{"status": "done"})
	require.NoError(t, err)
	assert.False(t, held)
}

func TestEvaluatorMissingBindingIsError(t *testing.T) {
	ev, err := NewEvaluator(&Spec{Variables: []Variable{{Name: "status", Type: TypeString}}})
	require.NoError(t, err)

	_, err = ev.Evaluate(Rule{
		ID:        "r",
		Condition: Condition{Variable: "status", Operator: OpEq, Value: "done"},
		Enabled:   true,
	}, map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no binding")
}

func TestBindingsMergesDefaults(t *testing.T) {
	spec := &Spec{Variables: []Variable{
		{Name: "region", Type: TypeString, Default: "us-east"},
		{Name: "status", Type: TypeString},
	}}
	b := spec.Bindings(map[string]any{"status": "done"})
	assert.Equal(t, "us-east", b["region"])
	assert.Equal(t, "done", b["status"])

	b = spec.Bindings(map[string]any{"region": "eu-west"})
	assert.Equal(t, "eu-west", b["region"])
}
