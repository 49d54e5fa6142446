package webhooks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewRetryPolicy_Defaults(t *testing.T) {
	tests := []struct {
		name   string
		config RetryConfig
		want   RetryConfig
	}{
		{
			name:   "zero config",
			config: RetryConfig{},
			want:   DefaultRetryConfig(),
		},
		{
			name:   "multiplier at most one",
			config: RetryConfig{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: time.Minute, BackoffMultiplier: 1},
			want:   RetryConfig{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: time.Minute, BackoffMultiplier: 2},
		},
		{
			name:   "explicit values kept",
			config: RetryConfig{MaxAttempts: 2, InitialDelay: 5 * time.Millisecond, MaxDelay: time.Second, BackoffMultiplier: 3},
			want:   RetryConfig{MaxAttempts: 2, InitialDelay: 5 * time.Millisecond, MaxDelay: time.Second, BackoffMultiplier: 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewRetryPolicy(tt.config).config)
		})
	}
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{MaxAttempts: 3})
	failure := errors.New("boom")

	assert.False(t, p.ShouldRetry(1, nil))
	assert.True(t, p.ShouldRetry(1, failure))
	assert.True(t, p.ShouldRetry(2, failure))
	assert.False(t, p.ShouldRetry(3, failure))
}

func TestRetryPolicy_NextRetryDelay(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{InitialDelay: time.Second, MaxDelay: 10 * time.Second, BackoffMultiplier: 2})

	assert.Equal(t, time.Second, p.NextRetryDelay(0))
	assert.Equal(t, time.Second, p.NextRetryDelay(1))
	assert.Equal(t, 2*time.Second, p.NextRetryDelay(2))
	assert.Equal(t, 4*time.Second, p.NextRetryDelay(3))
	assert.Equal(t, 8*time.Second, p.NextRetryDelay(4))
	assert.Equal(t, 10*time.Second, p.NextRetryDelay(5), "capped at MaxDelay")
}

func TestRetryPolicy_WaitHonorsContext(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{InitialDelay: time.Hour, MaxDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, p.Wait(ctx, 1), context.Canceled)

	quick := NewRetryPolicy(RetryConfig{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond})
	assert.NoError(t, quick.Wait(context.Background(), 1))
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "buckets are per key")

	now = now.Add(30 * time.Second)
	assert.True(t, rl.Allow("a"), "one token refilled")
	assert.False(t, rl.Allow("a"))
}
