package orchestrator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/getvergo/autoflow/pkg/contracts"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z0-9_]+)*)\s*\}\}`)

// expand substitutes {{name}} and {{name.field}} placeholders in the
// action's string fields from the current bindings. Unresolvable
// placeholders are left intact so the failure surfaces at the page, not
// silently as an empty string.
func expand(action contracts.Action, bindings map[string]any) contracts.Action {
	action.Value = expandString(action.Value, bindings)
	action.URL = expandString(action.URL, bindings)
	action.Selector = expandString(action.Selector, bindings)
	return action
}

func expandString(s string, bindings map[string]any) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		path := placeholderRe.FindStringSubmatch(match)[1]
		if v, ok := lookupPath(bindings, strings.Split(path, ".")); ok {
			return fmt.Sprintf("%v", v)
		}
		return match
	})
}

func lookupPath(bindings map[string]any, path []string) (any, bool) {
	var cur any = bindings
	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[seg]; !ok {
			return nil, false
		}
	}
	return cur, true
}
