package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/getvergo/autoflow/pkg/contracts"
	"github.com/getvergo/autoflow/pkg/llm"
)

// Result is the outcome of one compilation pass. Errors and Warnings
// are human-readable; Spec is nil whenever Success is false.
type Result struct {
	Success  bool     `json:"success"`
	Spec     *Spec    `json:"spec,omitempty"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Metadata Metadata `json:"metadata"`
}

// Metadata summarizes one compilation pass.
type Metadata struct {
	CompilationTimeMs int64 `json:"compilation_time_ms"`
	RulesCount        int   `json:"rules_count"`
	VariablesCount    int   `json:"variables_count"`
}

// Compiler turns free-text governance statements plus a variable
// catalogue into a validated logic specification. When a suggestion
// client is configured it is consulted first; its output is validated
// and, on any failure, silently replaced by the deterministic parser so
// compilation never depends on a remote service.
type Compiler struct {
	assist llm.Client
	logger *slog.Logger
	clock  func() time.Time
}

// CompilerOption configures a Compiler.
type CompilerOption func(*Compiler)

// WithAssist consults a suggestion client before the deterministic
// parser.
func WithAssist(c llm.Client) CompilerOption {
	return func(cp *Compiler) { cp.assist = c }
}

// WithCompilerClock overrides the time source, for tests.
func WithCompilerClock(clock func() time.Time) CompilerOption {
	return func(cp *Compiler) { cp.clock = clock }
}

// NewCompiler builds a compiler. All options are optional; the
// zero-option compiler is fully deterministic.
func NewCompiler(opts ...CompilerOption) *Compiler {
	c := &Compiler{
		logger: slog.Default().With("component", "rules"),
		clock:  time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Compile interprets rule text against the supplied variable catalogue.
// Empty or whitespace-only text is a contract violation, not a
// best-effort case.
func (c *Compiler) Compile(ctx context.Context, text string, vars []Variable) Result {
	started := c.clock()

	if strings.TrimSpace(text) == "" {
		return Result{
			Success:  false,
			Errors:   []string{"Natural language rules cannot be empty"},
			Metadata: Metadata{CompilationTimeMs: c.clock().Sub(started).Milliseconds()},
		}
	}

	var warnings []string
	if len(vars) == 0 {
		warnings = append(warnings, "no variables supplied; rules typically reference declared variables")
		vars = []Variable{}
	}

	spec, parseWarnings := c.interpret(ctx, text, vars)
	warnings = append(warnings, parseWarnings...)

	if errs := ValidateSpec(spec); len(errs) > 0 {
		return Result{
			Success:  false,
			Errors:   errs,
			Warnings: warnings,
			Metadata: c.metadata(started, spec),
		}
	}

	return Result{
		Success:  true,
		Spec:     spec,
		Warnings: warnings,
		Metadata: c.metadata(started, spec),
	}
}

func (c *Compiler) metadata(started time.Time, spec *Spec) Metadata {
	m := Metadata{CompilationTimeMs: c.clock().Sub(started).Milliseconds()}
	if spec != nil {
		m.RulesCount = len(spec.Rules)
		m.VariablesCount = len(spec.Variables)
	}
	return m
}

// interpret tries the suggestion client first and falls back to the
// deterministic parser on any failure.
func (c *Compiler) interpret(ctx context.Context, text string, vars []Variable) (*Spec, []string) {
	if c.assist != nil {
		if spec, ok := c.interpretAssisted(ctx, text, vars); ok {
			return spec, nil
		}
		c.logger.Warn("assisted compilation unavailable, using deterministic parser")
	}
	return c.interpretDeterministic(text, vars)
}

func (c *Compiler) interpretAssisted(ctx context.Context, text string, vars []Variable) (*Spec, bool) {
	catalogue, err := json.Marshal(vars)
	if err != nil {
		return nil, false
	}
	prompt := llm.Prompt{
		System: compileSystemPrompt,
		User:   fmt.Sprintf("Variables:\n%s\n\nRules:\n%s", catalogue, text),
	}
	suggestion, err := c.assist.Suggest(ctx, prompt)
	if err != nil {
		c.logger.Warn("suggestion request failed", "error", err)
		return nil, false
	}
	var spec Spec
	if err := json.Unmarshal([]byte(extractJSON(suggestion.Content)), &spec); err != nil {
		c.logger.Warn("suggestion was not a parseable specification", "error", err)
		return nil, false
	}
	spec.SchemaVersion = SchemaVersion
	spec.Variables = vars
	if spec.Rules == nil {
		spec.Rules = []Rule{}
	}
	if spec.Actions == nil {
		spec.Actions = []contracts.Action{}
	}
	if spec.Settings == (contracts.Settings{}) {
		spec.Settings = contracts.DefaultSettings()
	}
	if len(ValidateSpec(&spec)) > 0 {
		return nil, false
	}
	return &spec, true
}

const compileSystemPrompt = `You translate plain-English workflow rules into a JSON logic specification.
Respond with a single JSON object containing "rules" and "loops" arrays.
Each rule has id, condition {variable, operator, value}, action {type, params}, priority, enabled.
Operators: eq, neq, gt, lt, gte, lte, in, not_in, contains, not_contains.
Action types: skip, retry, wait, execute, skip_empty.
Reference only the declared variables. No prose, no markdown fences.`

// extractJSON strips markdown fences some completion models wrap
// around JSON output.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if after, ok := strings.CutPrefix(s, "```json"); ok {
		s = after
	} else if after, ok := strings.CutPrefix(s, "```"); ok {
		s = after
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

var (
	skipIfRe    = regexp.MustCompile(`(?i)^skip(?:\s+(?:it|the\s+\w+|this\s+\w+))?\s+(?:if|when)\s+(.+)$`)
	ifSkipRe    = regexp.MustCompile(`(?i)^(?:if|when)\s+(.+?),?\s+skip(?:\s+it|\s+the\s+\w+|\s+this\s+\w+)?$`)
	retryIfRe   = regexp.MustCompile(`(?i)^retry(?:\s+up\s+to\s+(\d+)\s+times?)?\s+(?:if|when)\s+(.+)$`)
	waitRe      = regexp.MustCompile(`(?i)^wait\s+(\d+)\s+seconds?\s+(?:if|when)\s+(.+)$`)
	forEachRe   = regexp.MustCompile(`(?i)^for\s+each\s+(\w+)\s+in\s+(\w+)\s*,?\s*(?:run|repeat|execute)?\s*(.*)$`)
	skipEmptyRe = regexp.MustCompile(`(?i)^skip\s+(?:if\s+)?(\w+)\s+is\s+(?:empty|blank|missing)$`)
)

// conditionPhrases maps spoken comparison phrases to operators, checked
// longest first so "is not" never matches as "is".
var conditionPhrases = []struct {
	phrase string
	op     Operator
}{
	{"is not in", OpNotIn},
	{"does not contain", OpNotContains},
	{"is not equal to", OpNeq},
	{"is greater than or equal to", OpGte},
	{"is less than or equal to", OpLte},
	{"is greater than", OpGt},
	{"is more than", OpGt},
	{"is less than", OpLt},
	{"is at least", OpGte},
	{"is at most", OpLte},
	{"is not", OpNeq},
	{"is in", OpIn},
	{"contains", OpContains},
	{"equals", OpEq},
	{"is", OpEq},
	{">=", OpGte},
	{"<=", OpLte},
	{"!=", OpNeq},
	{"=", OpEq},
	{">", OpGt},
	{"<", OpLt},
}

// interpretDeterministic is the fallback parser: sentence-level pattern
// matching against a fixed phrase table. Sentences it cannot interpret
// become warnings, never silent drops.
func (c *Compiler) interpretDeterministic(text string, vars []Variable) (*Spec, []string) {
	spec := &Spec{
		SchemaVersion: SchemaVersion,
		Variables:     vars,
		Rules:         []Rule{},
		Actions:       []contracts.Action{},
		Settings:      contracts.DefaultSettings(),
	}

	var warnings []string
	priority := 0
	for _, sentence := range splitSentences(text) {
		priority++
		switch {
		case skipEmptyRe.MatchString(sentence):
			m := skipEmptyRe.FindStringSubmatch(sentence)
			spec.Rules = append(spec.Rules, Rule{
				ID:        newRuleID(),
				Condition: Condition{Variable: m[1], Operator: OpEq, Value: ""},
				Action:    RuleAction{Type: ActSkipEmpty},
				Priority:  priority,
				Enabled:   true,
			})

		case skipIfRe.MatchString(sentence), ifSkipRe.MatchString(sentence):
			m := skipIfRe.FindStringSubmatch(sentence)
			if m == nil {
				m = ifSkipRe.FindStringSubmatch(sentence)
			}
			cond, ok := parseCondition(m[1], vars)
			if !ok {
				warnings = append(warnings, fmt.Sprintf("could not interpret condition %q", m[1]))
				continue
			}
			spec.Rules = append(spec.Rules, Rule{
				ID:        newRuleID(),
				Condition: cond,
				Action:    RuleAction{Type: ActSkip},
				Priority:  priority,
				Enabled:   true,
			})

		case retryIfRe.MatchString(sentence):
			m := retryIfRe.FindStringSubmatch(sentence)
			cond, ok := parseCondition(m[2], vars)
			if !ok {
				warnings = append(warnings, fmt.Sprintf("could not interpret condition %q", m[2]))
				continue
			}
			params := map[string]any{}
			if m[1] != "" {
				n, _ := strconv.Atoi(m[1])
				params["attempts"] = n
			}
			spec.Rules = append(spec.Rules, Rule{
				ID:        newRuleID(),
				Condition: cond,
				Action:    RuleAction{Type: ActRetry, Params: params},
				Priority:  priority,
				Enabled:   true,
			})

		case waitRe.MatchString(sentence):
			m := waitRe.FindStringSubmatch(sentence)
			cond, ok := parseCondition(m[2], vars)
			if !ok {
				warnings = append(warnings, fmt.Sprintf("could not interpret condition %q", m[2]))
				continue
			}
			seconds, _ := strconv.Atoi(m[1])
			spec.Rules = append(spec.Rules, Rule{
				ID:        newRuleID(),
				Condition: cond,
				Action:    RuleAction{Type: ActWait, Params: map[string]any{"seconds": seconds}},
				Priority:  priority,
				Enabled:   true,
			})

		case forEachRe.MatchString(sentence):
			m := forEachRe.FindStringSubmatch(sentence)
			spec.Loops = append(spec.Loops, Loop{
				ID:       newLoopID(),
				Iterator: m[1],
				Variable: m[2],
				Actions:  []string{},
			})

		default:
			warnings = append(warnings, fmt.Sprintf("could not interpret %q", sentence))
		}
	}

	return spec, warnings
}

// parseCondition matches "<variable> <phrase> <value>" against the
// phrase table. The variable must be declared; values are coerced to
// the variable's declared type where possible.
func parseCondition(clause string, vars []Variable) (Condition, bool) {
	clause = strings.TrimSpace(strings.TrimSuffix(clause, "."))
	lower := strings.ToLower(clause)
	for _, p := range conditionPhrases {
		needle := " " + p.phrase + " "
		idx := strings.Index(lower, needle)
		if idx < 0 {
			continue
		}
		name := strings.TrimSpace(clause[:idx])
		raw := strings.TrimSpace(clause[idx+len(needle):])
		decl := variableNamed(vars, name)
		if decl == nil {
			continue
		}
		return Condition{
			Variable: decl.Name,
			Operator: p.op,
			Value:    coerceValue(raw, decl.Type, p.op),
		}, true
	}
	return Condition{}, false
}

func variableNamed(vars []Variable, name string) *Variable {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "_")
	for i := range vars {
		if strings.ToLower(vars[i].Name) == name {
			return &vars[i]
		}
	}
	return nil
}

// coerceValue converts the spoken value into the shape the declared
// type and operator expect.
func coerceValue(raw string, t VariableType, op Operator) any {
	raw = strings.Trim(raw, `"'`)
	if op == OpIn || op == OpNotIn {
		parts := strings.Split(raw, ",")
		list := make([]any, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(p), "or "))
			list = append(list, coerceScalar(strings.Trim(p, `"'`), t))
		}
		return list
	}
	return coerceScalar(raw, t)
}

func coerceScalar(raw string, t VariableType) any {
	switch t {
	case TypeNumber:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	case TypeBoolean:
		if b, err := strconv.ParseBool(strings.ToLower(raw)); err == nil {
			return b
		}
	}
	switch strings.ToLower(raw) {
	case "true":
		return true
	case "false":
		return false
	case "empty", "blank":
		return ""
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil && t != TypeString {
		return f
	}
	return raw
}

// splitSentences breaks rule text into individual statements on
// newlines, semicolons, and sentence-final periods.
func splitSentences(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == '\n' || r == ';'
	})
	var out []string
	for _, f := range fields {
		for _, s := range strings.Split(f, ". ") {
			s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "."))
			if s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func newRuleID() string { return "rule-" + uuid.NewString()[:8] }
func newLoopID() string { return "loop-" + uuid.NewString()[:8] }
