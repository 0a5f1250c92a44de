package dispatch

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/flowmate-io/flowmate/pkg/schema"
)

// RateLimitConfig configures the per-capability token-bucket limiters.
type RateLimitConfig struct {
	// Rate is the sustained call budget in calls per second.
	Rate float64
	// Burst is the bucket depth.
	Burst int
	// MaxWaiters bounds the backlog of calls queued behind the bucket.
	// Excess calls beyond the bound are rejected, not queued.
	MaxWaiters int
}

// DefaultRateLimitConfig returns a sensible default configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Rate:       25,
		Burst:      50,
		MaxWaiters: 128,
	}
}

// limiter pairs a token bucket with its waiter count.
type limiter struct {
	bucket  *rate.Limiter
	waiters atomic.Int64
}

// LimiterRegistry manages per-capability token-bucket rate limiters.
// Excess calls queue (block) until a token is available, up to MaxWaiters.
type LimiterRegistry struct {
	mu       sync.Mutex
	limiters map[string]*limiter
	config   RateLimitConfig
}

// NewLimiterRegistry creates a registry with the given config.
func NewLimiterRegistry(config RateLimitConfig) *LimiterRegistry {
	if config.Rate <= 0 {
		config.Rate = DefaultRateLimitConfig().Rate
	}
	if config.Burst <= 0 {
		config.Burst = DefaultRateLimitConfig().Burst
	}
	if config.MaxWaiters <= 0 {
		config.MaxWaiters = DefaultRateLimitConfig().MaxWaiters
	}
	return &LimiterRegistry{
		limiters: make(map[string]*limiter),
		config:   config,
	}
}

// Wait blocks until the capability's bucket grants a token, the context is
// cancelled, or the backlog bound is exceeded.
func (r *LimiterRegistry) Wait(ctx context.Context, path string) error {
	lim := r.getOrCreate(path)

	if lim.waiters.Add(1) > int64(r.config.MaxWaiters) {
		lim.waiters.Add(-1)
		return schema.NewErrorf(schema.ErrCodeRateLimited,
			"rate limiter backlog full for capability %q (%d waiters)", path, r.config.MaxWaiters).
			WithDetails(map[string]any{"capability": path, "max_waiters": r.config.MaxWaiters})
	}
	defer lim.waiters.Add(-1)

	if err := lim.bucket.Wait(ctx); err != nil {
		return schema.NewErrorf(schema.ErrCodeRateLimited,
			"rate limiter wait aborted for capability %q: %s", path, err.Error()).WithCause(err)
	}
	return nil
}

func (r *LimiterRegistry) getOrCreate(path string) *limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	lim, ok := r.limiters[path]
	if !ok {
		lim = &limiter{bucket: rate.NewLimiter(rate.Limit(r.config.Rate), r.config.Burst)}
		r.limiters[path] = lim
	}
	return lim
}
