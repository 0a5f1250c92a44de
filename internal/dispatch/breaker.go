package dispatch

import (
	"sync"
	"time"

	"github.com/flowmate-io/flowmate/pkg/schema"
)

// BreakerState represents the state of a circuit breaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // normal operation
	BreakerOpen                         // failing, rejecting calls
	BreakerHalfOpen                     // testing recovery
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures circuit breaker behavior.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before half-open.
	Cooldown time.Duration
	// HalfOpenMax is the number of probe requests allowed in half-open state.
	HalfOpenMax int
}

// DefaultBreakerConfig returns a sensible default configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

// breaker tracks failure state for a single capability path.
type breaker struct {
	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	lastFailureTime     time.Time
	halfOpenAttempts    int
	config              BreakerConfig
}

// BreakerRegistry manages per-capability circuit breakers.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*breaker
	config   BreakerConfig
}

// NewBreakerRegistry creates a registry with the given config.
func NewBreakerRegistry(config BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*breaker),
		config:   config,
	}
}

// Allow checks whether a call to the given capability is permitted.
// Returns nil if allowed, or a FlowError if the circuit is open.
func (r *BreakerRegistry) Allow(path string) error {
	cb := r.getOrCreate(path)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		return nil

	case BreakerOpen:
		if time.Since(cb.lastFailureTime) >= cb.config.Cooldown {
			cb.state = BreakerHalfOpen
			cb.halfOpenAttempts = 1 // this call is the first probe
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeCircuitOpen,
			"circuit breaker open for capability %q: %d consecutive failures, cooldown remaining",
			path, cb.consecutiveFailures).
			WithDetails(map[string]any{
				"capability":           path,
				"consecutive_failures": cb.consecutiveFailures,
				"state":                cb.state.String(),
				"cooldown_remaining":   (cb.config.Cooldown - time.Since(cb.lastFailureTime)).String(),
			})

	case BreakerHalfOpen:
		if cb.halfOpenAttempts >= cb.config.HalfOpenMax {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"circuit breaker half-open for capability %q: max probe requests reached", path)
		}
		cb.halfOpenAttempts++
		return nil
	}

	return nil
}

// RecordSuccess resets the breaker after a successful call.
func (r *BreakerRegistry) RecordSuccess(path string) {
	cb := r.getOrCreate(path)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.halfOpenAttempts = 0
	cb.state = BreakerClosed
}

// RecordFailure records a failed call. Returns the new breaker state.
func (r *BreakerRegistry) RecordFailure(path string) BreakerState {
	cb := r.getOrCreate(path)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.lastFailureTime = time.Now()

	if cb.state == BreakerHalfOpen {
		// Any failure in half-open reopens the circuit.
		cb.state = BreakerOpen
		return BreakerOpen
	}

	if cb.consecutiveFailures >= cb.config.FailureThreshold {
		cb.state = BreakerOpen
		return BreakerOpen
	}

	return cb.state
}

// State returns the current breaker state for a capability.
func (r *BreakerRegistry) State(path string) BreakerState {
	cb := r.getOrCreate(path)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerOpen && time.Since(cb.lastFailureTime) >= cb.config.Cooldown {
		cb.state = BreakerHalfOpen
		cb.halfOpenAttempts = 0
	}
	return cb.state
}

func (r *BreakerRegistry) getOrCreate(path string) *breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[path]
	if !ok {
		cb = &breaker{
			state:  BreakerClosed,
			config: r.config,
		}
		r.breakers[path] = cb
	}
	return cb
}
