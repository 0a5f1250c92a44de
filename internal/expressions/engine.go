package expressions

import "context"

// Engine names, as authored in a step's "engine" field.
const (
	EngineExpr = "expr"
	EngineCEL  = "cel"
)

// Engine evaluates condition predicates and loop source expressions against
// a run's binding environment. Two implementations: Expr (default) and CEL
// (opt-in per step).
type Engine interface {
	Name() string
	// Prefix is prepended to each {{path}} reference when a predicate is
	// rewritten into this engine's syntax ("" when binding names are
	// top-level variables, "vars." when they are scoped under a map).
	Prefix() string
	Evaluate(ctx context.Context, expression string, env map[string]any) (any, error)
}

// Truthy applies the interpreter's truthiness rules to a predicate result:
// nil and zero values are false, non-empty strings, slices and maps are true.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case float32:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	case uint64:
		return val != 0
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}
