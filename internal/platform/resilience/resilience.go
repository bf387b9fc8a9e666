// Package resilience implements the flow engine's Circuit Breaker & Retry
// Policy component (C15): a per-key circuit breaker backed by gobreaker and
// an exponential-backoff retry helper backed by cenkalti/backoff.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/n3flow/core/internal/platform/svcerr"
)

// Config controls the default breaker and retry behaviour for provider and
// tool calls that don't specify their own override.
type Config struct {
	FailureThreshold uint32        `env:"N3_CB_FAILURE_THRESHOLD,default=5"`
	HalfOpenMax      uint32        `env:"N3_CB_HALF_OPEN_MAX,default=1"`
	OpenTimeout      time.Duration `env:"N3_CB_OPEN_TIMEOUT,default=30s"`
	RetryMaxAttempts int           `env:"N3_RETRY_MAX_ATTEMPTS,default=3"`
	RetryBaseDelay   time.Duration `env:"N3_RETRY_BASE_DELAY,default=200ms"`
	RetryMaxDelay    time.Duration `env:"N3_RETRY_MAX_DELAY,default=10s"`
}

// DefaultConfig returns sane defaults matching the zero-value env tags above.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		HalfOpenMax:      1,
		OpenTimeout:      30 * time.Second,
		RetryMaxAttempts: 3,
		RetryBaseDelay:   200 * time.Millisecond,
		RetryMaxDelay:    10 * time.Second,
	}
}

// BreakerRegistry hands out one *gobreaker.CircuitBreaker per key (provider
// name, tool name) so failures in one downstream don't trip another's
// breaker.
type BreakerRegistry struct {
	mu       sync.Mutex
	cfg      Config
	breakers map[string]*gobreaker.CircuitBreaker[any]
	onState  func(key string, from, to gobreaker.State)
}

// NewBreakerRegistry builds a registry using cfg for every key it creates.
func NewBreakerRegistry(cfg Config) *BreakerRegistry {
	return &BreakerRegistry{cfg: cfg, breakers: make(map[string]*gobreaker.CircuitBreaker[any])}
}

// OnStateChange installs a callback invoked whenever any managed breaker
// transitions state; used to drive the circuit_state gauge.
func (r *BreakerRegistry) OnStateChange(fn func(key string, from, to gobreaker.State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onState = fn
}

func (r *BreakerRegistry) get(key string) *gobreaker.CircuitBreaker[any] {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[key]; ok {
		return cb
	}
	settings := gobreaker.Settings{
		Name:        key,
		MaxRequests: r.cfg.HalfOpenMax,
		Timeout:     r.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if r.onState != nil {
				r.onState(name, from, to)
			}
		},
	}
	cb := gobreaker.NewCircuitBreaker[any](settings)
	r.breakers[key] = cb
	return cb
}

// Execute runs fn through the breaker registered under key, translating a
// tripped breaker into svcerr.ErrCircuitOpen.
func (r *BreakerRegistry) Execute(key string, fn func() (any, error)) (any, error) {
	cb := r.get(key)
	result, err := cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, svcerr.ErrCircuitOpen
	}
	return result, err
}

// State reports the current state of the breaker registered under key,
// creating it (closed) if it does not yet exist.
func (r *BreakerRegistry) State(key string) gobreaker.State {
	return r.get(key).State()
}

// RetryConfig controls one call to Retry.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Retryable   func(error) bool
}

// DefaultRetryConfig builds a RetryConfig from cfg, retrying any non-nil
// error unless overridden.
func DefaultRetryConfig(cfg Config) RetryConfig {
	return RetryConfig{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		Retryable:   func(error) bool { return true },
	}
}

// Retry runs fn with exponential backoff and jitter, stopping early when
// ctx is cancelled, fn succeeds, rc.Retryable rejects the error, or
// rc.MaxAttempts is exhausted.
func Retry(ctx context.Context, rc RetryConfig, fn func() error) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = rc.BaseDelay
	expBackoff.MaxInterval = rc.MaxDelay
	expBackoff.MaxElapsedTime = 0

	var attempts int
	policy := backoff.WithMaxRetries(expBackoff, uint64(max(rc.MaxAttempts-1, 0)))
	bctx := backoff.WithContext(policy, ctx)

	operation := func() error {
		attempts++
		err := fn()
		if err == nil {
			return nil
		}
		if rc.Retryable != nil && !rc.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(operation, bctx)
	if err != nil {
		return &svcerr.ProviderRetryError{Attempts: attempts, LastError: err}
	}
	return nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
