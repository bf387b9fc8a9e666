package tool

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig controls a tool's per-second/per-minute/burst allowance.
// Adapted from infrastructure/ratelimit.RateLimitConfig for per-tool scope
// instead of a single process-wide HTTP client limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultRateLimitConfig returns a permissive default for tools that don't
// declare their own limits.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 10, Burst: 20}
}

// RateLimiter enforces both a per-second and a derived per-minute ceiling
// for one tool, mirroring infrastructure/ratelimit.RateLimiter's dual
// limiter but keyed per tool instead of per process.
type RateLimiter struct {
	mu        sync.RWMutex
	perSecond *rate.Limiter
	perMinute *rate.Limiter
	cfg       RateLimitConfig
}

// NewRateLimiter builds a RateLimiter from cfg, applying the package
// defaults for non-positive fields.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond * 2)
	}
	return &RateLimiter{
		perSecond: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		perMinute: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond*60), cfg.Burst*2),
		cfg:       cfg,
	}
}

// Wait blocks until both the per-second and per-minute limiters admit one
// more call, or ctx is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if err := r.perSecond.Wait(ctx); err != nil {
		return err
	}
	return r.perMinute.Wait(ctx)
}

// Allow reports whether a call is immediately permitted under both limiters,
// without blocking. A token taken from the per-second limiter is not given
// back when the per-minute limiter then rejects.
func (r *RateLimiter) Allow() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.perSecond.Allow() && r.perMinute.Allow()
}

// Reset rebuilds both limiters from the original config, clearing any
// accumulated burst debt.
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.perSecond = rate.NewLimiter(rate.Limit(r.cfg.RequestsPerSecond), r.cfg.Burst)
	r.perMinute = rate.NewLimiter(rate.Limit(r.cfg.RequestsPerSecond*60), r.cfg.Burst*2)
}

// BackoffMode selects how retry delay grows between tool call attempts.
type BackoffMode string

const (
	BackoffNone        BackoffMode = "none"
	BackoffConstant    BackoffMode = "constant"
	BackoffExponential BackoffMode = "exponential"
)

// RetryPolicy configures tool-call retries, gated on HTTP method idempotency.
type RetryPolicy struct {
	MaxAttempts      int
	Backoff          BackoffMode
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	IdempotentOnly   bool
}

// DefaultRetryPolicy returns a conservative exponential-backoff policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		Backoff:        BackoffExponential,
		BaseDelay:      250 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		IdempotentOnly: true,
	}
}

var idempotentMethods = map[string]bool{
	"GET": true, "HEAD": true, "PUT": true, "DELETE": true, "OPTIONS": true,
}

// IsIdempotent reports whether method is safe to retry automatically.
func IsIdempotent(method string) bool {
	return idempotentMethods[method]
}
