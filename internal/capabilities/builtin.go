// Package capabilities provides the builtin pack: small utilities that
// register through the same public registry as external integration packs,
// so workflow authors and tests have working targets for every dispatch
// convention.
package capabilities

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/flowmate-io/flowmate/pkg/capability"
	"github.com/flowmate-io/flowmate/pkg/schema"
)

// Namespace is the pack namespace the builtin capabilities register under.
const Namespace = "builtin"

// RegisterBuiltins registers the builtin pack and maps its categories.
func RegisterBuiltins(reg capability.Registry, httpCfg HTTPConfig) error {
	reg.MapCategory("utilities", Namespace)
	reg.MapCategory("http", Namespace)

	all := []*capability.Descriptor{
		mathAdd(),
		mathMultiply(),
		textConcat(),
		textUpper(),
		timeNow(),
		dataJQ(),
		httpRequest(httpCfg),
	}
	for _, d := range all {
		if err := reg.Register(Namespace, d); err != nil {
			return err
		}
	}
	return nil
}

func mathAdd() *capability.Descriptor {
	return &capability.Descriptor{
		Name:           "math.add",
		ParameterNames: []string{"a", "b"},
		Handler: func(_ context.Context, args []any) (any, error) {
			a, err := numArg(args, 0, "a")
			if err != nil {
				return nil, err
			}
			b, err := numArg(args, 1, "b")
			if err != nil {
				return nil, err
			}
			return a + b, nil
		},
	}
}

func mathMultiply() *capability.Descriptor {
	return &capability.Descriptor{
		Name:           "math.multiply",
		ParameterNames: []string{"a", "b"},
		Handler: func(_ context.Context, args []any) (any, error) {
			a, err := numArg(args, 0, "a")
			if err != nil {
				return nil, err
			}
			b, err := numArg(args, 1, "b")
			if err != nil {
				return nil, err
			}
			return a * b, nil
		},
	}
}

func textConcat() *capability.Descriptor {
	return &capability.Descriptor{
		Name:           "text.concat",
		ParameterNames: []string{"parts", "separator"},
		Handler: func(_ context.Context, args []any) (any, error) {
			list, ok := args[0].([]any)
			if !ok {
				return nil, schema.NewErrorf(schema.ErrCodeValidation,
					"parts must be an array, got %T", args[0])
			}
			sep, _ := args[1].(string)
			strs := make([]string, len(list))
			for i, v := range list {
				strs[i] = fmt.Sprintf("%v", v)
			}
			return strings.Join(strs, sep), nil
		},
	}
}

func textUpper() *capability.Descriptor {
	return &capability.Descriptor{
		Name:           "text.upper",
		ParameterNames: []string{"text"},
		Handler: func(_ context.Context, args []any) (any, error) {
			s, ok := args[0].(string)
			if !ok {
				return nil, schema.NewErrorf(schema.ErrCodeValidation,
					"text must be a string, got %T", args[0])
			}
			return strings.ToUpper(s), nil
		},
	}
}

func timeNow() *capability.Descriptor {
	return &capability.Descriptor{
		Name: "time.now",
		Handler: func(context.Context, []any) (any, error) {
			return time.Now().UTC().Format(time.RFC3339), nil
		},
	}
}

func numArg(args []any, idx int, name string) (float64, error) {
	if idx >= len(args) {
		return 0, schema.NewErrorf(schema.ErrCodeValidation, "missing argument %q", name)
	}
	switch n := args[idx].(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, schema.NewErrorf(schema.ErrCodeValidation,
			"argument %q must be a number, got %T", name, args[idx])
	}
}
