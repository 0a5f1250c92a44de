package capabilities

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/flowmate-io/flowmate/pkg/capability"
	"github.com/flowmate-io/flowmate/pkg/schema"
)

// HTTPConfig configures the http.request capability.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
	// Client overrides the default client; used in tests.
	Client *http.Client
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

// httpRequest is the http.request capability. Wrapped convention, inputs:
// {"url": "...", "method": "GET", "headers": {...}, "body": <any>}.
// JSON responses decode into structured output; anything else returns the
// body as text.
func httpRequest(cfg HTTPConfig) *capability.Descriptor {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultHTTPTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.DefaultTimeout}
	}

	return &capability.Descriptor{
		Name:    "request",
		Wrapped: true,
		Timeout: cfg.DefaultTimeout,
		Handler: func(ctx context.Context, args []any) (any, error) {
			inputs, _ := args[0].(map[string]any)
			return doRequest(ctx, client, cfg.MaxResponseBody, inputs)
		},
	}
}

func doRequest(ctx context.Context, client *http.Client, maxBody int64, inputs map[string]any) (any, error) {
	url, _ := inputs["url"].(string)
	if url == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "url is required")
	}
	method, _ := inputs["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	method = strings.ToUpper(method)

	var bodyReader io.Reader
	if body, ok := inputs["body"]; ok && body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"encode request body: %s", err.Error()).WithCause(err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"build request: %s", err.Error()).WithCause(err)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := inputs["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCapabilityFailed,
			"%s %s: %s", method, url, err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCapabilityFailed,
			"read response body: %s", err.Error()).WithCause(err)
	}

	out := map[string]any{
		"status":  resp.StatusCode,
		"headers": flattenHeaders(resp.Header),
	}
	if json.Valid(raw) && strings.Contains(resp.Header.Get("Content-Type"), "json") {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			out["body"] = decoded
			return out, nil
		}
	}
	out["body"] = string(raw)
	return out, nil
}

func flattenHeaders(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for k, vals := range h {
		out[k] = strings.Join(vals, ", ")
	}
	return out
}
