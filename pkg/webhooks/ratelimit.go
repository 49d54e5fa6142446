package webhooks

import (
	"sync"
	"time"
)

// RateLimiter is a token bucket per endpoint URL
type RateLimiter struct {
	mu           sync.Mutex
	buckets      map[string]*tokenBucket
	maxTokens    int
	refillPeriod time.Duration
	now          func() time.Time
}

type tokenBucket struct {
	tokens     int
	lastRefill time.Time
}

// NewRateLimiter allows maxRequests per endpoint, refilling one token every
// period/maxRequests
func NewRateLimiter(maxRequests int, period time.Duration) *RateLimiter {
	if maxRequests <= 0 {
		maxRequests = 1
	}
	return &RateLimiter{
		buckets:      make(map[string]*tokenBucket),
		maxTokens:    maxRequests,
		refillPeriod: period / time.Duration(maxRequests),
		now:          time.Now,
	}
}

// Allow takes a token for key if one is available
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	bucket, ok := rl.buckets[key]
	if !ok {
		bucket = &tokenBucket{tokens: rl.maxTokens, lastRefill: now}
		rl.buckets[key] = bucket
	}

	if rl.refillPeriod > 0 {
		if elapsed := now.Sub(bucket.lastRefill); elapsed >= rl.refillPeriod {
			periods := int(elapsed / rl.refillPeriod)
			bucket.tokens = min(bucket.tokens+periods, rl.maxTokens)
			bucket.lastRefill = bucket.lastRefill.Add(time.Duration(periods) * rl.refillPeriod)
		}
	}

	if bucket.tokens > 0 {
		bucket.tokens--
		return true
	}
	return false
}
