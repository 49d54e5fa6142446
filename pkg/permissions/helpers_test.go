package permissions

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func timePtr(t time.Time) *time.Time {
	return &t
}

type testEnv struct {
	service *Service
	store   *MemoryStore
	clock   *fakeClock
	hook    *test.Hook
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	clock := newFakeClock()
	store := NewMemoryStore()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	cache := NewPermissionCache(DefaultPermissionTTL, WithCacheClock(clock.Now))
	opts = append([]Option{WithClock(clock.Now), WithLogger(logger)}, opts...)

	return &testEnv{
		service: NewService(store, store, cache, opts...),
		store:   store,
		clock:   clock,
		hook:    hook,
	}
}

// seed adds the users and posts shared by most tests
func (e *testEnv) seed() {
	now := e.clock.Now()
	e.store.PutProfile(Profile{ID: "free-user"})
	e.store.PutProfile(Profile{ID: "premium-user", IsPremium: true, PremiumExpiresAt: timePtr(now.AddDate(1, 0, 0)), PremiumSince: timePtr(now.AddDate(-1, 0, 0))})
	e.store.PutProfile(Profile{ID: "lifetime-user", IsPremium: true})
	e.store.PutProfile(Profile{ID: "expired-user", IsPremium: true, PremiumExpiresAt: timePtr(now.Add(-24 * time.Hour))})
	e.store.PutProfile(Profile{ID: "free-author"})
	e.store.PutProfile(Profile{ID: "premium-author", IsPremium: true})

	e.store.PutPost(Post{ID: "free-post", AuthorID: "free-author"})
	e.store.PutPost(Post{ID: "premium-post", AuthorID: "free-author", IsPremiumContent: true})
	e.store.PutPost(Post{ID: "free-post-premium-author", AuthorID: "premium-author"})
	e.store.PutPost(Post{ID: "premium-post-premium-author", AuthorID: "premium-author", IsPremiumContent: true})
	e.store.PutPost(Post{ID: "own-premium-post", AuthorID: "free-user", IsPremiumContent: true})
}
