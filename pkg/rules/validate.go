package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/getvergo/autoflow/pkg/contracts"
)

// specSchema is the structural contract every specification must meet
// before cross-reference checks run. Vocabulary enums here mirror
// SupportedOperators and SupportedActionTypes.
const specSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["schema_version", "variables", "rules", "actions", "settings"],
  "properties": {
    "schema_version": {"type": "string", "minLength": 1},
    "require_login": {"type": "boolean"},
    "variables": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "type"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "type": {"enum": ["string", "number", "boolean", "array", "object"]},
          "required": {"type": "boolean"}
        }
      }
    },
    "rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "condition", "action"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "condition": {
            "type": "object",
            "required": ["variable", "operator"],
            "properties": {
              "variable": {"type": "string", "minLength": 1},
              "operator": {"enum": ["eq", "neq", "gt", "lt", "gte", "lte", "in", "not_in", "contains", "not_contains"]}
            }
          },
          "action": {
            "type": "object",
            "required": ["type"],
            "properties": {
              "type": {"enum": ["skip", "retry", "wait", "execute", "skip_empty"]},
              "params": {"type": "object"}
            }
          },
          "priority": {"type": "integer"},
          "enabled": {"type": "boolean"}
        }
      }
    },
    "loops": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "variable", "iterator", "actions"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "variable": {"type": "string", "minLength": 1},
          "iterator": {"type": "string", "minLength": 1},
          "actions": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "actions": {"type": "array"},
    "settings": {"type": "object"}
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func structuralSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		const url = "https://autoflow.schemas.local/logic-spec.schema.json"
		if err := c.AddResource(url, strings.NewReader(specSchema)); err != nil {
			schemaErr = fmt.Errorf("spec schema load failed: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(url)
	})
	return compiledSchema, schemaErr
}

// supportedSchemaRange gates which specification schema versions this
// build can execute.
var supportedSchemaRange = semver.MustParse("2.0.0")

// ValidateSpec checks a specification structurally and then
// cross-references: every rule condition names a declared variable,
// every loop iterates a declared array variable, and every loop action
// id exists in the action log. Returns all findings, not just the
// first.
func ValidateSpec(spec *Spec) []string {
	if spec == nil {
		return []string{"specification is nil"}
	}

	var errs []string

	v, err := semver.NewVersion(spec.SchemaVersion)
	if err != nil {
		errs = append(errs, fmt.Sprintf("schema_version %q is not valid semver", spec.SchemaVersion))
	} else if !v.LessThan(supportedSchemaRange) {
		errs = append(errs, fmt.Sprintf("schema_version %s is not supported (< %s required)", spec.SchemaVersion, supportedSchemaRange))
	}

	if structErrs := validateStructure(spec); len(structErrs) > 0 {
		return append(errs, structErrs...)
	}

	declared := make(map[string]VariableType, len(spec.Variables))
	for _, vr := range spec.Variables {
		if _, dup := declared[vr.Name]; dup {
			errs = append(errs, fmt.Sprintf("variable %q declared more than once", vr.Name))
		}
		declared[vr.Name] = vr.Type
	}

	ruleIDs := make(map[string]bool, len(spec.Rules))
	for _, r := range spec.Rules {
		if ruleIDs[r.ID] {
			errs = append(errs, fmt.Sprintf("rule %q declared more than once", r.ID))
		}
		ruleIDs[r.ID] = true
		if _, ok := declared[r.Condition.Variable]; !ok {
			errs = append(errs, fmt.Sprintf("rule %q references undeclared variable %q", r.ID, r.Condition.Variable))
		}
	}

	actionIDs := make(map[string]bool, len(spec.Actions))
	for _, a := range spec.Actions {
		actionIDs[a.ID] = true
	}
	if logErrs := validateActionLog(spec.Actions); len(logErrs) > 0 {
		errs = append(errs, logErrs...)
	}

	for _, l := range spec.Loops {
		t, ok := declared[l.Variable]
		switch {
		case !ok:
			errs = append(errs, fmt.Sprintf("loop %q references undeclared variable %q", l.ID, l.Variable))
		case t != TypeArray:
			errs = append(errs, fmt.Sprintf("loop %q iterates variable %q of type %s, want array", l.ID, l.Variable, t))
		}
		for _, id := range l.Actions {
			if !actionIDs[id] {
				errs = append(errs, fmt.Sprintf("loop %q references unknown action %q", l.ID, id))
			}
		}
	}

	return errs
}

func validateStructure(spec *Spec) []string {
	schema, err := structuralSchema()
	if err != nil {
		return []string{err.Error()}
	}
	raw, err := json.Marshal(spec)
	if err != nil {
		return []string{fmt.Sprintf("specification is not serializable: %v", err)}
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return []string{fmt.Sprintf("specification round-trip failed: %v", err)}
	}
	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return flattenSchemaError(ve)
		}
		return []string{err.Error()}
	}
	return nil
}

// flattenSchemaError collects leaf causes so callers see the concrete
// field failures instead of the root "doesn't validate" summary.
func flattenSchemaError(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []string{fmt.Sprintf("%s: %s", loc, ve.Message)}
	}
	var out []string
	for _, c := range ve.Causes {
		out = append(out, flattenSchemaError(c)...)
	}
	return out
}

func validateActionLog(actions []contracts.Action) []string {
	if err := contracts.ValidateLog(actions); err != nil {
		return []string{fmt.Sprintf("action log invalid: %v", err)}
	}
	return nil
}
