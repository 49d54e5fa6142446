package permissions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const premiumKeyPrefix = "murmur:premium:"

// RedisSharedCache stores premium status in Redis so every replica sees
// invalidations from subscription webhooks.
type RedisSharedCache struct {
	client *redis.Client
}

// NewRedisSharedCache creates a shared cache on client
func NewRedisSharedCache(client *redis.Client) *RedisSharedCache {
	return &RedisSharedCache{client: client}
}

// GetPremiumStatus returns the cached status, or nil on a miss
func (c *RedisSharedCache) GetPremiumStatus(ctx context.Context, userID string) (*PremiumStatus, error) {
	raw, err := c.client.Get(ctx, premiumKeyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read premium status for %s: %w", userID, err)
	}

	var status PremiumStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, fmt.Errorf("failed to decode premium status for %s: %w", userID, err)
	}
	return &status, nil
}

// SetPremiumStatus stores status for userID with ttl
func (c *RedisSharedCache) SetPremiumStatus(ctx context.Context, userID string, status PremiumStatus, ttl time.Duration) error {
	raw, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to encode premium status: %w", err)
	}
	if err := c.client.Set(ctx, premiumKeyPrefix+userID, raw, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write premium status for %s: %w", userID, err)
	}
	return nil
}

// Invalidate deletes the cached status for every userID
func (c *RedisSharedCache) Invalidate(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = premiumKeyPrefix + id
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate premium status: %w", err)
	}
	return nil
}
