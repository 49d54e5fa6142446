package permissions

import (
	"context"
	"sync"
	"sync/atomic"
)

// MemoryStore is an in-process ProfileStore and PostStore for development
// mode and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	posts    map[string]Post
	err      error

	profileLoads atomic.Int64
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]Profile),
		posts:    make(map[string]Post),
	}
}

// PutProfile inserts or replaces a profile
func (m *MemoryStore) PutProfile(p Profile) {
	m.mu.Lock()
	m.profiles[p.ID] = p
	m.mu.Unlock()
}

// PutPost inserts or replaces a post
func (m *MemoryStore) PutPost(p Post) {
	m.mu.Lock()
	m.posts[p.ID] = p
	m.mu.Unlock()
}

// SetError makes every subsequent lookup fail with err (nil restores normal behavior)
func (m *MemoryStore) SetError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// ProfileLoads returns how many GetProfile and GetAuthorsPremium calls were made
func (m *MemoryStore) ProfileLoads() int64 {
	return m.profileLoads.Load()
}

// GetProfile implements ProfileStore
func (m *MemoryStore) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	m.profileLoads.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.profiles[userID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return &p, nil
}

// GetPost implements PostStore
func (m *MemoryStore) GetPost(ctx context.Context, postID string) (*Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.posts[postID]
	if !ok {
		return nil, ErrPostNotFound
	}
	return &p, nil
}

// GetPostWithAuthor implements PostStore
func (m *MemoryStore) GetPostWithAuthor(ctx context.Context, postID string) (*PostWithAuthor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.posts[postID]
	if !ok {
		return nil, ErrPostNotFound
	}
	out := &PostWithAuthor{Post: p}
	if author, ok := m.profiles[p.AuthorID]; ok {
		out.AuthorIsPremium = author.IsPremium
		out.AuthorPremiumExpiresAt = author.PremiumExpiresAt
	}
	return out, nil
}

// GetAuthorsPremium implements PostStore
func (m *MemoryStore) GetAuthorsPremium(ctx context.Context, authorIDs []string) (map[string]Profile, error) {
	m.profileLoads.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]Profile, len(authorIDs))
	for _, id := range authorIDs {
		if p, ok := m.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}
