package rules

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// Evaluator decides rule conditions against live variable bindings.
// Each condition is translated once into a CEL expression whose
// compiled program is cached for the evaluator's lifetime.
type Evaluator struct {
	env      *cel.Env
	prgCache map[string]cel.Program
	mu       sync.RWMutex
	types    map[string]VariableType
}

// NewEvaluator builds an evaluator scoped to one specification's
// variable catalogue.
func NewEvaluator(spec *Spec) (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("vars", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	types := make(map[string]VariableType, len(spec.Variables))
	for _, v := range spec.Variables {
		types[v.Name] = v.Type
	}
	return &Evaluator{
		env:      env,
		prgCache: make(map[string]cel.Program),
		types:    types,
	}, nil
}

// Evaluate reports whether the rule's condition holds under the given
// bindings. Disabled rules never hold. A missing binding is an error,
// not a silent false, so misconfigured runs surface immediately.
func (e *Evaluator) Evaluate(rule Rule, bindings map[string]any) (bool, error) {
	if !rule.Enabled {
		return false, nil
	}
	if _, ok := bindings[rule.Condition.Variable]; !ok {
		return false, fmt.Errorf("rule %s: no binding for variable %q", rule.ID, rule.Condition.Variable)
	}
	expr, err := e.conditionExpr(rule.Condition)
	if err != nil {
		return false, fmt.Errorf("rule %s: %w", rule.ID, err)
	}
	return e.evaluateExpr(expr, map[string]any{"vars": bindings})
}

// conditionExpr renders a condition as a CEL expression over the
// "vars" map.
func (e *Evaluator) conditionExpr(c Condition) (string, error) {
	ref := fmt.Sprintf("vars[%q]", c.Variable)
	lit, err := celLiteral(c.Value)
	if err != nil {
		return "", err
	}
	switch c.Operator {
	case OpEq:
		return fmt.Sprintf("%s == %s", ref, lit), nil
	case OpNeq:
		return fmt.Sprintf("%s != %s", ref, lit), nil
	case OpGt:
		return fmt.Sprintf("%s > %s", ref, lit), nil
	case OpLt:
		return fmt.Sprintf("%s < %s", ref, lit), nil
	case OpGte:
		return fmt.Sprintf("%s >= %s", ref, lit), nil
	case OpLte:
		return fmt.Sprintf("%s <= %s", ref, lit), nil
	case OpIn:
		return fmt.Sprintf("%s in %s", ref, lit), nil
	case OpNotIn:
		return fmt.Sprintf("!(%s in %s)", ref, lit), nil
	case OpContains:
		if e.types[c.Variable] == TypeArray {
			return fmt.Sprintf("%s in %s", lit, ref), nil
		}
		return fmt.Sprintf("%s.contains(%s)", ref, lit), nil
	case OpNotContains:
		if e.types[c.Variable] == TypeArray {
			return fmt.Sprintf("!(%s in %s)", lit, ref), nil
		}
		return fmt.Sprintf("!%s.contains(%s)", ref, lit), nil
	default:
		return "", fmt.Errorf("unsupported operator %q", c.Operator)
	}
}

// celLiteral renders a Go value as a CEL literal. JSON literal syntax
// for strings, numbers, booleans, and lists is valid CEL.
func celLiteral(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("condition value not representable: %w", err)
	}
	s := string(raw)
	if strings.HasPrefix(s, "{") {
		return "", fmt.Errorf("object-valued conditions are not supported")
	}
	return s, nil
}

func (e *Evaluator) evaluateExpr(expr string, input map[string]any) (bool, error) {
	e.mu.RLock()
	prg, hit := e.prgCache[expr]
	e.mu.RUnlock()

	if !hit {
		e.mu.Lock()
		// Double check
		if prg, hit = e.prgCache[expr]; !hit {
			ast, issues := e.env.Compile(expr)
			if issues != nil && issues.Err() != nil {
				e.mu.Unlock()
				return false, fmt.Errorf("compile: %w", issues.Err())
			}
			p, err := e.env.Program(ast,
				cel.InterruptCheckFrequency(100),
				cel.CostLimit(10000),
			)
			if err != nil {
				e.mu.Unlock()
				return false, fmt.Errorf("program: %w", err)
			}
			e.prgCache[expr] = p
			prg = p
		}
		e.mu.Unlock()
	}

	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not bool")
	}
	return val, nil
}
