package binding

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Resolver turns authored step inputs into fully-resolved values against a
// run's Environment. Placeholders use {{path}} syntax.
//
// Resolution rules:
//   - A value that is exactly one placeholder resolves to the referenced
//     value with its native type preserved.
//   - Placeholders embedded in other text substitute stringified; an
//     unresolved path substitutes as the empty string rather than erroring.
//   - Composites resolve recursively, preserving structure.
type Resolver struct{}

// NewResolver creates a Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// ResolveInputs resolves every value of an input map. The input map itself
// is never mutated.
func (r *Resolver) ResolveInputs(inputs map[string]any, env *Environment) map[string]any {
	if inputs == nil {
		return nil
	}
	out := make(map[string]any, len(inputs))
	for k, v := range inputs {
		out[k] = r.resolveValue(v, env)
	}
	return out
}

// ResolveValue resolves a single value.
func (r *Resolver) ResolveValue(v any, env *Environment) any {
	return r.resolveValue(v, env)
}

func (r *Resolver) resolveValue(v any, env *Environment) any {
	switch val := v.(type) {
	case string:
		return r.resolveString(val, env)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = r.resolveValue(item, env)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = r.resolveValue(item, env)
		}
		return out
	default:
		return v
	}
}

// resolveString handles both the whole-placeholder and embedded cases.
func (r *Resolver) resolveString(s string, env *Environment) any {
	if path, ok := wholePlaceholder(s); ok {
		val, _ := env.Lookup(path)
		return val
	}
	if !strings.Contains(s, "{{") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for {
		open := strings.Index(s, "{{")
		if open == -1 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:open])
		rest := s[open+2:]
		closeIdx := strings.Index(rest, "}}")
		if closeIdx == -1 {
			// Unterminated placeholder: keep literal text.
			b.WriteString(s[open:])
			break
		}
		path := strings.TrimSpace(rest[:closeIdx])
		if val, ok := env.Lookup(path); ok {
			b.WriteString(stringify(val))
		}
		// Unresolved paths substitute as "".
		s = rest[closeIdx+2:]
	}
	return b.String()
}

// wholePlaceholder reports whether s is exactly one {{path}} and returns
// the inner path.
func wholePlaceholder(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{{") || !strings.HasSuffix(trimmed, "}}") {
		return "", false
	}
	inner := trimmed[2 : len(trimmed)-2]
	// A second opener means this is embedded text, not a single placeholder.
	if strings.Contains(inner, "{{") || strings.Contains(inner, "}}") {
		return "", false
	}
	return strings.TrimSpace(inner), true
}

// Rewrite converts a predicate with {{path}} placeholders into a plain
// expression referencing environment names, e.g. "{{trigger.x}} > 10"
// becomes "trigger.x > 10". A non-empty prefix is prepended to each path,
// which the CEL engine uses to scope references under its vars map.
func Rewrite(pred, prefix string) string {
	var b strings.Builder
	b.Grow(len(pred))
	s := pred
	for {
		open := strings.Index(s, "{{")
		if open == -1 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:open])
		rest := s[open+2:]
		closeIdx := strings.Index(rest, "}}")
		if closeIdx == -1 {
			b.WriteString(s[open:])
			return b.String()
		}
		b.WriteString(prefix)
		b.WriteString(strings.TrimSpace(rest[:closeIdx]))
		s = rest[closeIdx+2:]
	}
}

// stringify renders a resolved value for embedded substitution. Strings
// embed as-is; composites embed as compact JSON.
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", val)
	case int:
		return fmt.Sprintf("%d", val)
	case int64:
		return fmt.Sprintf("%d", val)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
