package binding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_NoPlaceholders_Unchanged(t *testing.T) {
	r := NewResolver()
	env := NewEnvironment(nil)

	inputs := map[string]any{
		"url":   "https://example.com",
		"count": float64(42),
		"flags": []any{true, false},
	}
	resolved := r.ResolveInputs(inputs, env)
	assert.Equal(t, inputs, resolved)
}

func TestResolver_WholePlaceholder_NativeType(t *testing.T) {
	r := NewResolver()
	env := NewEnvironment(map[string]any{
		"payload": map[string]any{"id": float64(7), "tags": []any{"a", "b"}},
		"ok":      true,
	})

	resolved := r.ResolveInputs(map[string]any{
		"obj":  "{{payload}}",
		"arr":  "{{payload.tags}}",
		"num":  "{{payload.id}}",
		"bool": "{{ ok }}",
	}, env)

	assert.IsType(t, map[string]any{}, resolved["obj"])
	assert.Equal(t, []any{"a", "b"}, resolved["arr"])
	assert.Equal(t, float64(7), resolved["num"])
	assert.Equal(t, true, resolved["bool"])
}

func TestResolver_WholePlaceholder_Unresolved(t *testing.T) {
	r := NewResolver()
	env := NewEnvironment(nil)

	resolved := r.ResolveInputs(map[string]any{"x": "{{missing.path}}"}, env)
	assert.Nil(t, resolved["x"])
}

func TestResolver_EmbeddedPlaceholders_Stringify(t *testing.T) {
	r := NewResolver()
	env := NewEnvironment(map[string]any{
		"user":  map[string]any{"name": "ada"},
		"count": float64(3),
	})

	resolved := r.ResolveInputs(map[string]any{
		"greeting": "hello {{user.name}}, you have {{count}} items",
	}, env)
	assert.Equal(t, "hello ada, you have 3 items", resolved["greeting"])
}

func TestResolver_EmbeddedUnresolved_EmptyString(t *testing.T) {
	r := NewResolver()
	env := NewEnvironment(nil)

	resolved := r.ResolveInputs(map[string]any{
		"msg": "value=[{{not.there}}]",
	}, env)
	assert.Equal(t, "value=[]", resolved["msg"])
}

func TestResolver_Composites_Recursive(t *testing.T) {
	r := NewResolver()
	env := NewEnvironment(map[string]any{"id": float64(9)})

	resolved := r.ResolveInputs(map[string]any{
		"nested": map[string]any{
			"list": []any{"{{id}}", "literal"},
		},
	}, env)

	nested := resolved["nested"].(map[string]any)
	list := nested["list"].([]any)
	require.Len(t, list, 2)
	assert.Equal(t, float64(9), list[0])
	assert.Equal(t, "literal", list[1])
}

func TestResolver_EmbeddedComposite_JSONEncoded(t *testing.T) {
	r := NewResolver()
	env := NewEnvironment(map[string]any{"tags": []any{"a", "b"}})

	resolved := r.ResolveInputs(map[string]any{"msg": "tags: {{tags}}"}, env)
	assert.Equal(t, `tags: ["a","b"]`, resolved["msg"])
}

func TestRewrite_Predicate(t *testing.T) {
	assert.Equal(t, "trigger.x > 10", Rewrite("{{trigger.x}} > 10", ""))
	assert.Equal(t, "vars.trigger.x > 10", Rewrite("{{trigger.x}} > 10", "vars."))
	assert.Equal(t, "a > b", Rewrite("a > b", ""))
}

func TestResolver_InputMapNotMutated(t *testing.T) {
	r := NewResolver()
	env := NewEnvironment(map[string]any{"v": "resolved"})

	inputs := map[string]any{"x": "{{v}}"}
	_ = r.ResolveInputs(inputs, env)
	assert.Equal(t, "{{v}}", inputs["x"])
}
