package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllowRespectsBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1000, Burst: 2})
	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
}

func TestRateLimiterWaitSucceeds(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1000, Burst: 5})
	err := rl.Wait(context.Background())
	require.NoError(t, err)
}

func TestRateLimiterDefaultsApplied(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{})
	assert.Equal(t, float64(10), rl.cfg.RequestsPerSecond)
	assert.Equal(t, 20, rl.cfg.Burst)
}

func TestRateLimiterReset(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 1})
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())
	rl.Reset()
	assert.True(t, rl.Allow())
}

func TestIsIdempotent(t *testing.T) {
	assert.True(t, IsIdempotent("GET"))
	assert.True(t, IsIdempotent("DELETE"))
	assert.False(t, IsIdempotent("POST"))
	assert.False(t, IsIdempotent("PATCH"))
}
