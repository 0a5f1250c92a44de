package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/flowmate-io/flowmate/pkg/capability"
	"github.com/flowmate-io/flowmate/pkg/schema"
)

// DefaultCallTimeout bounds a dispatched call when the capability's
// descriptor declares no timeout of its own.
const DefaultCallTimeout = 30 * time.Second

// aliases maps declared parameter names to accepted input-key fallbacks.
// Capabilities are authored independently; this absorbs the most common
// naming drift without forcing authors to match every client exactly.
var aliases = map[string][]string{
	"limit": {"maxResults", "max_results", "count"},
	"query": {"q", "search"},
	"id":    {"identifier"},
	"text":  {"content", "body"},
}

// Config holds dispatcher tuning.
type Config struct {
	CallTimeout time.Duration   // default per-call timeout (0 = DefaultCallTimeout)
	Breaker     *BreakerConfig  // circuit breaker config (nil = defaults)
	RateLimit   *RateLimitConfig // rate limiter config (nil = defaults)
}

// Dispatcher resolves dotted capability paths and adapts resolved step
// inputs to each capability's declared signature. Every call is wrapped
// with a per-capability timeout, a circuit breaker, and a token-bucket
// rate limiter so a hung or failing external call cannot occupy a queue
// slot indefinitely.
type Dispatcher struct {
	registry capability.Registry
	breakers *BreakerRegistry
	limiters *LimiterRegistry
	timeout  time.Duration
	logger   *slog.Logger
}

// New creates a Dispatcher over the given capability registry.
func New(registry capability.Registry, cfg Config, logger *slog.Logger) *Dispatcher {
	breakerCfg := DefaultBreakerConfig()
	if cfg.Breaker != nil {
		breakerCfg = *cfg.Breaker
	}
	limitCfg := DefaultRateLimitConfig()
	if cfg.RateLimit != nil {
		limitCfg = *cfg.RateLimit
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		breakers: NewBreakerRegistry(breakerCfg),
		limiters: NewLimiterRegistry(limitCfg),
		timeout:  timeout,
		logger:   logger,
	}
}

// Dispatch locates the capability at path and invokes it with arguments
// adapted from the resolved inputs. inputOrder carries the authored key
// order of inputs for the last-resort positional fallback; it may be nil.
func (d *Dispatcher) Dispatch(ctx context.Context, path string, inputs map[string]any, inputOrder []string) (any, error) {
	desc, err := d.registry.Resolve(path)
	if err != nil {
		return nil, err
	}

	args, err := d.adaptArgs(path, desc, inputs, inputOrder)
	if err != nil {
		return nil, err
	}

	if err := d.breakers.Allow(path); err != nil {
		return nil, err
	}
	if err := d.limiters.Wait(ctx, path); err != nil {
		return nil, err
	}

	timeout := desc.Timeout
	if timeout <= 0 {
		timeout = d.timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := desc.Handler(callCtx, args)
	if err != nil {
		d.breakers.RecordFailure(path)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, schema.NewErrorf(schema.ErrCodeTimeout,
				"capability %q timed out after %s", path, timeout).WithCause(err)
		}
		var flowErr *schema.FlowError
		if errors.As(err, &flowErr) {
			return nil, flowErr
		}
		// The message surfaces verbatim in the terminal run record.
		return nil, schema.NewErrorf(schema.ErrCodeCapabilityFailed, "%s", err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"capability": path})
	}

	d.breakers.RecordSuccess(path)
	return out, nil
}

// adaptArgs maps a resolved input map onto a capability's declared
// parameters. Conventions, in order:
//  1. zero declared parameters: invoke with none;
//  2. wrapped convention: the whole input map as one argument;
//  3. one declared parameter with exactly one non-object input: positional;
//  4. name-based matching (with alias fallback) in declared order;
//  5. equal counts but no matching names: positional by authored input
//     order, with a logged warning;
// otherwise the inputs cannot be adapted and the call fails fast.
func (d *Dispatcher) adaptArgs(path string, desc *capability.Descriptor, inputs map[string]any, inputOrder []string) ([]any, error) {
	params := desc.ParameterNames

	if len(params) == 0 && !desc.Wrapped {
		return nil, nil
	}

	if desc.Wrapped {
		if inputs == nil {
			inputs = map[string]any{}
		}
		return []any{inputs}, nil
	}

	if len(params) == 1 && len(inputs) == 1 {
		for _, v := range inputs {
			if _, isObject := v.(map[string]any); !isObject {
				return []any{v}, nil
			}
		}
	}

	// Name-based matching in declared order.
	args := make([]any, 0, len(params))
	matched := 0
	for _, name := range params {
		if v, ok := inputs[name]; ok {
			args = append(args, v)
			matched++
			continue
		}
		if v, ok := lookupAlias(inputs, name); ok {
			args = append(args, v)
			matched++
			continue
		}
		args = append(args, nil)
	}
	if matched == len(params) {
		return args, nil
	}

	// Last resort: equal counts, nothing matched by name.
	if matched == 0 && len(inputs) == len(params) {
		order := inputOrder
		if len(order) != len(inputs) {
			order = sortedKeys(inputs)
		}
		args = args[:0]
		for _, k := range order {
			args = append(args, inputs[k])
		}
		d.logger.Warn("adapting capability call positionally by input order; no parameter names matched",
			slog.String("capability", path),
			slog.Any("declared", params),
			slog.Any("supplied", order),
		)
		return args, nil
	}

	return nil, schema.NewErrorf(schema.ErrCodeParameterMismatch,
		"cannot adapt inputs to capability %q: declared parameters %v, supplied keys %v",
		path, params, sortedKeys(inputs)).
		WithDetails(map[string]any{
			"capability": path,
			"declared":   params,
			"supplied":   sortedKeys(inputs),
		})
}

// lookupAlias checks the alias table for a parameter name.
func lookupAlias(inputs map[string]any, param string) (any, bool) {
	for _, alt := range aliases[param] {
		if v, ok := inputs[alt]; ok {
			return v, true
		}
	}
	return nil, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
