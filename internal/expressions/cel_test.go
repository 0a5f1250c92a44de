package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCELEngine_Comparison(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	env := map[string]any{"trigger": map[string]any{"x": 20}}
	out, err := e.Evaluate(context.Background(), "vars.trigger.x > 10", env)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCELEngine_StringOps(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	env := map[string]any{"status": "active"}
	out, err := e.Evaluate(context.Background(), `vars.status == "active"`, env)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCELEngine_CompileError(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "vars.x >", nil)
	assert.Error(t, err)
}

func TestCELEngine_MissingKey_Errors(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	// CEL raises on missing keys; the interpreter treats this as a falsy
	// predicate rather than a run failure.
	_, err = e.Evaluate(context.Background(), "vars.absent.x > 1", map[string]any{})
	assert.Error(t, err)
}

func TestCELEngine_CacheReuse(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		out, evalErr := e.Evaluate(context.Background(), "1 + 2", nil)
		require.NoError(t, evalErr)
		assert.EqualValues(t, 3, out)
	}
	assert.Len(t, e.cache, 1)
}
