package permissions

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/murmur/pkg/observability"
)

// DefaultPermissionTTL is the cache lifetime for permission bundles
const DefaultPermissionTTL = 5 * time.Minute

// CacheEntryData is the per-user value held by PermissionCache. Either field
// may be nil when only one projection was loaded.
type CacheEntryData struct {
	Permissions   *UserPermissions
	PremiumStatus *PremiumStatus
}

type cacheEntry struct {
	data      CacheEntryData
	timestamp time.Time
	ttl       time.Duration
}

func (e cacheEntry) expired(now time.Time) bool {
	return now.Sub(e.timestamp) >= e.ttl
}

// PermissionCache is a process-local TTL cache keyed by user ID. Entries expire
// lazily on read and are swept periodically once StartCleanup is called.
type PermissionCache struct {
	mu         sync.RWMutex
	entries    map[string]cacheEntry
	defaultTTL time.Duration
	now        func() time.Time

	logger  *logrus.Logger
	metrics *observability.Metrics

	cronMu sync.Mutex
	cron   *cron.Cron
}

// CacheOption configures a PermissionCache
type CacheOption func(*PermissionCache)

// WithCacheClock overrides the cache's time source
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *PermissionCache) { c.now = now }
}

// WithCacheLogger sets the logger used by the background sweep
func WithCacheLogger(logger *logrus.Logger) CacheOption {
	return func(c *PermissionCache) { c.logger = logger }
}

// WithCacheMetrics records entry counts after each sweep
func WithCacheMetrics(metrics *observability.Metrics) CacheOption {
	return func(c *PermissionCache) { c.metrics = metrics }
}

// NewPermissionCache creates an empty cache. A non-positive defaultTTL uses DefaultPermissionTTL.
func NewPermissionCache(defaultTTL time.Duration, opts ...CacheOption) *PermissionCache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultPermissionTTL
	}
	c := &PermissionCache{
		entries:    make(map[string]cacheEntry),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logrus.New()
	}
	return c
}

// Get returns the entry for userID, evicting it if it has expired
func (c *PermissionCache) Get(userID string) (CacheEntryData, bool) {
	now := c.now()

	c.mu.RLock()
	entry, ok := c.entries[userID]
	c.mu.RUnlock()
	if !ok {
		return CacheEntryData{}, false
	}
	if entry.expired(now) {
		c.evictIfExpired(userID, now)
		return CacheEntryData{}, false
	}
	return entry.data, true
}

// Has reports whether a live entry exists for userID
func (c *PermissionCache) Has(userID string) bool {
	_, ok := c.Get(userID)
	return ok
}

// Set stores data for userID, replacing any previous entry. A non-positive
// ttl uses the cache default.
func (c *PermissionCache) Set(userID string, data CacheEntryData, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	c.entries[userID] = cacheEntry{data: data, timestamp: c.now(), ttl: ttl}
	c.mu.Unlock()
}

// Merge stores the non-nil fields of data into the live entry for userID,
// keeping that entry's timestamp and ttl. Without a live entry it behaves
// like Set.
func (c *PermissionCache) Merge(userID string, data CacheEntryData, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[userID]
	if !ok || entry.expired(now) {
		c.entries[userID] = cacheEntry{data: data, timestamp: now, ttl: ttl}
		return
	}
	if data.Permissions != nil {
		entry.data.Permissions = data.Permissions
	}
	if data.PremiumStatus != nil {
		entry.data.PremiumStatus = data.PremiumStatus
	}
	c.entries[userID] = entry
}

// Invalidate removes the entry for userID
func (c *PermissionCache) Invalidate(userID string) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}

// InvalidateMultiple removes the entries for all userIDs
func (c *PermissionCache) InvalidateMultiple(userIDs []string) {
	c.mu.Lock()
	for _, id := range userIDs {
		delete(c.entries, id)
	}
	c.mu.Unlock()
}

// Clear drops every entry
func (c *PermissionCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// Len returns the number of stored entries, including expired ones not yet swept
func (c *PermissionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Cleanup removes all expired entries and returns how many were removed
func (c *PermissionCache) Cleanup() int {
	now := c.now()

	c.mu.Lock()
	removed := 0
	for id, entry := range c.entries {
		if entry.expired(now) {
			delete(c.entries, id)
			removed++
		}
	}
	remaining := len(c.entries)
	c.mu.Unlock()

	c.metrics.SetCacheEntries(remaining)
	return removed
}

// StartCleanup schedules Cleanup on a cron schedule such as "@every 2m"
func (c *PermissionCache) StartCleanup(schedule string) error {
	c.cronMu.Lock()
	defer c.cronMu.Unlock()

	if c.cron != nil {
		return fmt.Errorf("cache cleanup already started")
	}

	scheduler := cron.New()
	_, err := scheduler.AddFunc(schedule, func() {
		if removed := c.Cleanup(); removed > 0 {
			c.logger.WithField("removed", removed).Debug("Swept expired permission cache entries")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule cache cleanup: %w", err)
	}

	scheduler.Start()
	c.cron = scheduler
	return nil
}

// Stop halts the background sweep, waiting for a running pass to finish
func (c *PermissionCache) Stop() {
	c.cronMu.Lock()
	scheduler := c.cron
	c.cron = nil
	c.cronMu.Unlock()

	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
}

func (c *PermissionCache) evictIfExpired(userID string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Another writer may have refreshed the entry since the read lock was released
	if entry, ok := c.entries[userID]; ok && entry.expired(now) {
		delete(c.entries, userID)
	}
}
