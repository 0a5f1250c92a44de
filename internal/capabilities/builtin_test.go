package capabilities

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmate-io/flowmate/internal/dispatch"
	"github.com/flowmate-io/flowmate/pkg/capability"
	"github.com/flowmate-io/flowmate/pkg/schema"
)

func testDispatcher(t *testing.T, httpCfg HTTPConfig) *dispatch.Dispatcher {
	t.Helper()
	reg := capability.NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, httpCfg))
	return dispatch.New(reg, dispatch.Config{}, slog.Default())
}

func TestMathAdd(t *testing.T) {
	d := testDispatcher(t, HTTPConfig{})

	out, err := d.Dispatch(context.Background(), "utilities.math.add",
		map[string]any{"a": 2.0, "b": 3.0}, []string{"a", "b"})
	require.NoError(t, err)
	assert.EqualValues(t, 5, out)
}

func TestMathAdd_NonNumeric(t *testing.T) {
	d := testDispatcher(t, HTTPConfig{})

	_, err := d.Dispatch(context.Background(), "utilities.math.add",
		map[string]any{"a": "two", "b": 3.0}, []string{"a", "b"})
	require.Error(t, err)
}

func TestMathMultiply(t *testing.T) {
	d := testDispatcher(t, HTTPConfig{})

	out, err := d.Dispatch(context.Background(), "utilities.math.multiply",
		map[string]any{"a": 4.0, "b": 2.5}, []string{"a", "b"})
	require.NoError(t, err)
	assert.EqualValues(t, 10, out)
}

func TestTextConcat(t *testing.T) {
	d := testDispatcher(t, HTTPConfig{})

	out, err := d.Dispatch(context.Background(), "utilities.text.concat",
		map[string]any{"parts": []any{"a", "b", "c"}, "separator": "-"},
		[]string{"parts", "separator"})
	require.NoError(t, err)
	assert.Equal(t, "a-b-c", out)
}

func TestTextUpper_SinglePositional(t *testing.T) {
	d := testDispatcher(t, HTTPConfig{})

	// Single non-object input passes positionally regardless of its key name.
	out, err := d.Dispatch(context.Background(), "utilities.text.upper",
		map[string]any{"value": "hello"}, []string{"value"})
	require.NoError(t, err)
	assert.Equal(t, "HELLO", out)
}

func TestTimeNow_ZeroParameters(t *testing.T) {
	d := testDispatcher(t, HTTPConfig{})

	out, err := d.Dispatch(context.Background(), "utilities.time.now", nil, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

func TestDataJQ_Transform(t *testing.T) {
	d := testDispatcher(t, HTTPConfig{})

	out, err := d.Dispatch(context.Background(), "utilities.data.jq",
		map[string]any{
			"query": ".items | map(.price) | add",
			"input": map[string]any{"items": []any{
				map[string]any{"price": 10.0},
				map[string]any{"price": 5.5},
			}},
		}, []string{"query", "input"})
	require.NoError(t, err)
	assert.EqualValues(t, 15.5, out)
}

func TestDataJQ_MultipleOutputs(t *testing.T) {
	d := testDispatcher(t, HTTPConfig{})

	out, err := d.Dispatch(context.Background(), "utilities.data.jq",
		map[string]any{
			"query": ".[] | .name",
			"input": []any{
				map[string]any{"name": "a"},
				map[string]any{"name": "b"},
			},
		}, []string{"query", "input"})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out)
}

func TestDataJQ_InvalidQuery(t *testing.T) {
	d := testDispatcher(t, HTTPConfig{})

	_, err := d.Dispatch(context.Background(), "utilities.data.jq",
		map[string]any{"query": ".[", "input": map[string]any{}},
		[]string{"query", "input"})
	require.Error(t, err)

	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, flowErr.Code)
}

func TestHTTPRequest_JSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"ord-1"}`))
	}))
	defer srv.Close()

	d := testDispatcher(t, HTTPConfig{Client: srv.Client()})

	out, err := d.Dispatch(context.Background(), "http.request", map[string]any{
		"url":     srv.URL,
		"method":  "POST",
		"headers": map[string]any{"Authorization": "Bearer tok"},
		"body":    map[string]any{"sku": "x"},
	}, nil)
	require.NoError(t, err)

	resp, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, http.StatusCreated, resp["status"])
	body, ok := resp["body"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ord-1", body["id"])
}

func TestHTTPRequest_TextResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong"))
	}))
	defer srv.Close()

	d := testDispatcher(t, HTTPConfig{Client: srv.Client()})

	out, err := d.Dispatch(context.Background(), "http.request",
		map[string]any{"url": srv.URL}, nil)
	require.NoError(t, err)

	resp, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "pong", resp["body"])
}

func TestHTTPRequest_MissingURL(t *testing.T) {
	d := testDispatcher(t, HTTPConfig{})

	_, err := d.Dispatch(context.Background(), "http.request", map[string]any{}, nil)
	require.Error(t, err)
}
