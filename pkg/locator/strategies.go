package locator

import (
	"fmt"
	"strings"

	"github.com/getvergo/autoflow/pkg/contracts"
)

// stableAttributes are candidate attributes for rewrites, most stable
// first. Test hooks drift less than styling hooks.
var stableAttributes = []string{
	"data-testid", "data-test", "data-qa", "name", "aria-label", "placeholder", "title", "role",
}

// simpleSelector is one compound token of a CSS selector.
type simpleSelector struct {
	Tag     string
	ID      string
	Classes []string
	Attrs   []attrPredicate
}

type attrPredicate struct {
	Name  string
	Op    string // "=", "^=", "$=", "*=" or "" for bare [attr]
	Value string
}

// splitCompound splits a selector on combinators outside brackets.
// Returns the combinator-joined prefix and the final simple selector text.
func splitCompound(selector string) (prefix, last string) {
	depth := 0
	lastStart := 0
	inQuote := byte(0)
	for i := 0; i < len(selector); i++ {
		c := selector[i]
		switch {
		case inQuote != 0:
			if c == inQuote {
				inQuote = 0
			}
		case c == '\'' || c == '"':
			inQuote = c
		case c == '[':
			depth++
		case c == ']':
			depth--
		case depth == 0 && (c == ' ' || c == '>' || c == '+' || c == '~'):
			lastStart = i + 1
		}
	}
	prefix = strings.TrimRight(selector[:lastStart], " >+~")
	return prefix, strings.TrimSpace(selector[lastStart:])
}

// parseSimple parses one compound token. Best effort: unparseable input
// yields a zero selector, which strategies treat as "no candidates".
func parseSimple(token string) simpleSelector {
	var out simpleSelector
	i := 0
	readName := func() string {
		start := i
		for i < len(token) && token[i] != '#' && token[i] != '.' && token[i] != '[' {
			i++
		}
		return token[start:i]
	}
	if i < len(token) && token[i] != '#' && token[i] != '.' && token[i] != '[' && token[i] != '*' {
		out.Tag = readName()
	} else if i < len(token) && token[i] == '*' {
		i++
	}
	for i < len(token) {
		switch token[i] {
		case '#':
			i++
			out.ID = readName()
		case '.':
			i++
			out.Classes = append(out.Classes, readName())
		case '[':
			end := strings.IndexByte(token[i:], ']')
			if end < 0 {
				return out
			}
			body := token[i+1 : i+end]
			i += end + 1
			out.Attrs = append(out.Attrs, parseAttr(body))
		default:
			i++
		}
	}
	return out
}

func parseAttr(body string) attrPredicate {
	for _, op := range []string{"^=", "$=", "*=", "="} {
		if idx := strings.Index(body, op); idx >= 0 {
			return attrPredicate{
				Name:  strings.TrimSpace(body[:idx]),
				Op:    op,
				Value: strings.Trim(strings.TrimSpace(body[idx+len(op):]), `"'`),
			}
		}
	}
	return attrPredicate{Name: strings.TrimSpace(body)}
}

func (s simpleSelector) render() string {
	var b strings.Builder
	b.WriteString(s.Tag)
	if s.ID != "" {
		b.WriteByte('#')
		b.WriteString(s.ID)
	}
	for _, c := range s.Classes {
		b.WriteByte('.')
		b.WriteString(c)
	}
	for _, a := range s.Attrs {
		if a.Op == "" {
			fmt.Fprintf(&b, "[%s]", a.Name)
		} else {
			fmt.Fprintf(&b, "[%s%s%q]", a.Name, a.Op, a.Value)
		}
	}
	return b.String()
}

func joinPrefix(prefix, token string) string {
	if token == "" {
		return ""
	}
	if prefix == "" {
		return token
	}
	return prefix + " " + token
}

// TextMatch proposes an exact visible-text match recorded at capture time.
type TextMatch struct{}

func (TextMatch) Name() string        { return "text_match" }
func (TextMatch) Confidence() float64 { return confidenceText }

func (TextMatch) Candidates(_ string, hints contracts.ActionMetadata) []string {
	text := strings.TrimSpace(hints.ElementText)
	if text == "" {
		return nil
	}
	tag := hints.TagName
	if tag == "" {
		tag = "*"
	}
	return []string{
		fmt.Sprintf("xpath=//%s[normalize-space(.)=%q]", strings.ToLower(tag), text),
		fmt.Sprintf("xpath=//*[normalize-space(.)=%q]", text),
	}
}

// AttributeRewrite proposes alternate attribute predicates: stable
// attributes captured at record time, then partial matches on the
// original's own attribute values.
type AttributeRewrite struct{}

func (AttributeRewrite) Name() string        { return "attribute_rewrite" }
func (AttributeRewrite) Confidence() float64 { return confidenceAttribute }

func (AttributeRewrite) Candidates(original string, hints contracts.ActionMetadata) []string {
	var out []string
	tag := strings.ToLower(hints.TagName)

	for _, name := range stableAttributes {
		if v, ok := hints.Attributes[name]; ok && v != "" {
			out = append(out, fmt.Sprintf("%s[%s=%q]", tag, name, v))
			if tag != "" {
				out = append(out, fmt.Sprintf("[%s=%q]", name, v))
			}
		}
	}

	_, lastToken := splitCompound(original)
	simple := parseSimple(lastToken)
	for _, a := range simple.Attrs {
		if a.Op != "=" || len(a.Value) < 4 {
			continue
		}
		half := len(a.Value) / 2
		out = append(out,
			fmt.Sprintf("[%s^=%q]", a.Name, a.Value[:half]),
			fmt.Sprintf("[%s$=%q]", a.Name, a.Value[len(a.Value)-half:]),
			fmt.Sprintf("[%s*=%q]", a.Name, a.Value[half/2:len(a.Value)-half/2]),
		)
	}
	if simple.ID != "" {
		trimmed := strings.TrimRight(simple.ID, "0123456789-_")
		if len(trimmed) >= 3 && trimmed != simple.ID {
			out = append(out, fmt.Sprintf("[id^=%q]", trimmed))
		}
		out = append(out, fmt.Sprintf("[id*=%q]", simple.ID))
	}
	return out
}

// StructuralRelaxation drops the most specific fragment of the final
// compound token: attribute predicates first, then classes, then the id.
type StructuralRelaxation struct{}

func (StructuralRelaxation) Name() string        { return "structural_relaxation" }
func (StructuralRelaxation) Confidence() float64 { return confidenceStructural }

func (StructuralRelaxation) Candidates(original string, _ contracts.ActionMetadata) []string {
	prefix, lastToken := splitCompound(original)
	simple := parseSimple(lastToken)
	var out []string

	if len(simple.Attrs) > 0 {
		relaxed := simple
		relaxed.Attrs = nil
		out = append(out, joinPrefix(prefix, relaxed.render()))
	}
	if len(simple.Classes) > 0 {
		relaxed := simple
		relaxed.Attrs = nil
		relaxed.Classes = nil
		out = append(out, joinPrefix(prefix, relaxed.render()))
	}
	if simple.ID != "" {
		relaxed := simple
		relaxed.ID = ""
		out = append(out, joinPrefix(prefix, relaxed.render()))
	}

	var filtered []string
	for _, c := range out {
		if c != "" && c != original {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

// Positional proposes the original target's immediate structural
// neighborhood: a unique child of the recorded parent path, or the
// element following the recorded preceding sibling.
type Positional struct{}

func (Positional) Name() string        { return "positional" }
func (Positional) Confidence() float64 { return confidencePositional }

func (Positional) Candidates(original string, hints contracts.ActionMetadata) []string {
	prefix, lastToken := splitCompound(original)
	if prefix == "" {
		return nil
	}
	var out []string
	simple := parseSimple(lastToken)
	tag := simple.Tag
	if tag == "" {
		tag = strings.ToLower(hints.TagName)
	}
	if tag != "" {
		out = append(out, prefix+" > "+tag)
	}
	out = append(out, prefix+" > *")
	return out
}

// DialectRewrite re-expresses the selector in the XPath dialect, which
// survives some query-engine quirks the CSS path does not.
type DialectRewrite struct{}

func (DialectRewrite) Name() string        { return "dialect_rewrite" }
func (DialectRewrite) Confidence() float64 { return confidenceDialect }

func (DialectRewrite) Candidates(original string, _ contracts.ActionMetadata) []string {
	if strings.HasPrefix(original, "xpath=") {
		return nil
	}
	_, lastToken := splitCompound(original)
	simple := parseSimple(lastToken)

	tag := simple.Tag
	if tag == "" {
		tag = "*"
	}
	var preds []string
	if simple.ID != "" {
		preds = append(preds, fmt.Sprintf("@id=%q", simple.ID))
	}
	for _, c := range simple.Classes {
		preds = append(preds, fmt.Sprintf("contains(concat(' ', normalize-space(@class), ' '), %q)", " "+c+" "))
	}
	for _, a := range simple.Attrs {
		switch a.Op {
		case "=":
			preds = append(preds, fmt.Sprintf("@%s=%q", a.Name, a.Value))
		case "":
			preds = append(preds, "@"+a.Name)
		default:
			preds = append(preds, fmt.Sprintf("contains(@%s, %q)", a.Name, a.Value))
		}
	}
	if len(preds) == 0 && tag == "*" {
		return nil
	}
	expr := "xpath=//" + tag
	if len(preds) > 0 {
		expr += "[" + strings.Join(preds, " and ") + "]"
	}
	return []string{expr}
}
