package capabilities

import (
	"context"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/flowmate-io/flowmate/pkg/capability"
	"github.com/flowmate-io/flowmate/pkg/schema"
)

// jqCache caches compiled jq programs across calls. Compilation dominates
// evaluation cost for the short filters workflows typically use.
var jqCache = struct {
	mu    sync.RWMutex
	codes map[string]*gojq.Code
}{codes: make(map[string]*gojq.Code)}

// dataJQ is the utilities.data.jq capability: transform an input value with
// a jq filter. Wrapped convention, inputs: {"query": "...", "input": <any>}.
func dataJQ() *capability.Descriptor {
	return &capability.Descriptor{
		Name:    "data.jq",
		Wrapped: true,
		Handler: func(ctx context.Context, args []any) (any, error) {
			inputs, _ := args[0].(map[string]any)
			query, _ := inputs["query"].(string)
			if query == "" {
				return nil, schema.NewError(schema.ErrCodeValidation, "jq query is required")
			}

			code, err := compileJQ(query)
			if err != nil {
				return nil, err
			}

			iter := code.RunWithContext(ctx, normalizeForJQ(inputs["input"]))
			var results []any
			for {
				val, ok := iter.Next()
				if !ok {
					break
				}
				if err, isErr := val.(error); isErr {
					return nil, schema.NewErrorf(schema.ErrCodeCapabilityFailed,
						"jq evaluation failed for %q: %s", query, err.Error()).
						WithCause(err).
						WithDetails(map[string]any{"query": query})
				}
				results = append(results, val)
			}

			switch len(results) {
			case 0:
				return nil, nil
			case 1:
				return results[0], nil
			default:
				return results, nil
			}
		},
	}
}

func compileJQ(query string) (*gojq.Code, error) {
	jqCache.mu.RLock()
	if code, ok := jqCache.codes[query]; ok {
		jqCache.mu.RUnlock()
		return code, nil
	}
	jqCache.mu.RUnlock()

	jqCache.mu.Lock()
	defer jqCache.mu.Unlock()

	// Double-check after acquiring write lock.
	if code, ok := jqCache.codes[query]; ok {
		return code, nil
	}

	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq parse error in %q: %s", query, err.Error()).WithCause(err)
	}
	code, err := gojq.Compile(parsed,
		// Sandbox: empty env blocks $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq compile error in %q: %s", query, err.Error()).WithCause(err)
	}

	jqCache.codes[query] = code
	return code, nil
}

// normalizeForJQ converts Go native numeric types to jq-compatible float64.
func normalizeForJQ(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeForJQ(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeForJQ(item)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}
