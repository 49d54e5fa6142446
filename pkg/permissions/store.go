package permissions

import (
	"context"
	"time"
)

// ProfileStore looks up subscription fields by user ID
type ProfileStore interface {
	// GetProfile returns ErrProfileNotFound when no row exists
	GetProfile(ctx context.Context, userID string) (*Profile, error)
}

// PostStore looks up access-relevant post fields
type PostStore interface {
	// GetPost returns ErrPostNotFound when no row exists
	GetPost(ctx context.Context, postID string) (*Post, error)
	// GetPostWithAuthor loads the post and its author's subscription fields in one fetch
	GetPostWithAuthor(ctx context.Context, postID string) (*PostWithAuthor, error)
	// GetAuthorsPremium returns the subscription fields for each known author ID
	GetAuthorsPremium(ctx context.Context, authorIDs []string) (map[string]Profile, error)
}

// SharedCache is an optional cross-process cache for premium status.
// A miss is reported as (nil, nil).
type SharedCache interface {
	GetPremiumStatus(ctx context.Context, userID string) (*PremiumStatus, error)
	SetPremiumStatus(ctx context.Context, userID string, status PremiumStatus, ttl time.Duration) error
	Invalidate(ctx context.Context, userIDs ...string) error
}
