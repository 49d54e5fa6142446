package permissions

import (
	"context"

	"github.com/sirupsen/logrus"
)

// PostFilter applies the post-access and reflection predicates to lists of
// posts, loading the viewer's permissions once per call.
type PostFilter struct {
	service *Service
}

// NewPostFilter creates a filter backed by service
func NewPostFilter(service *Service) *PostFilter {
	return &PostFilter{service: service}
}

// CheckPostsAccess returns the access decision for each post, keyed by post ID
func (f *PostFilter) CheckPostsAccess(ctx context.Context, userID string, posts []Post) map[string]AccessResult {
	perms := f.service.GetUserPermissions(ctx, userID)

	results := make(map[string]AccessResult, len(posts))
	for i := range posts {
		results[posts[i].ID] = evaluatePostAccess(userID, &posts[i], perms)
	}
	return results
}

// FilterAccessible returns the posts userID may view, preserving order
func (f *PostFilter) FilterAccessible(ctx context.Context, userID string, posts []Post) []Post {
	perms := f.service.GetUserPermissions(ctx, userID)

	visible := make([]Post, 0, len(posts))
	for i := range posts {
		if evaluatePostAccess(userID, &posts[i], perms).Allowed {
			visible = append(visible, posts[i])
		}
	}
	return visible
}

// ReflectablePosts reports, per post ID, whether userID may reflect on it.
// Author subscription state is batch-loaded; if that fails every non-owned
// post is treated as authored by a premium user (RestrictiveDefault).
func (f *PostFilter) ReflectablePosts(ctx context.Context, userID string, posts []Post) map[string]bool {
	s := f.service
	perms := s.GetUserPermissions(ctx, userID)
	result := make(map[string]bool, len(posts))

	if perms.Tier == TierPremium {
		for _, p := range posts {
			result[p.ID] = true
		}
		return result
	}

	authorIDs := make([]string, 0, len(posts))
	seen := make(map[string]struct{}, len(posts))
	for _, p := range posts {
		if p.AuthorID == userID {
			continue
		}
		if _, ok := seen[p.AuthorID]; !ok {
			seen[p.AuthorID] = struct{}{}
			authorIDs = append(authorIDs, p.AuthorID)
		}
	}

	authors, err := s.posts.GetAuthorsPremium(ctx, authorIDs)
	if err != nil {
		RestrictiveDefault.Record(s.log(ctx).WithFields(logrus.Fields{"user_id": userID, "post_count": len(posts)}),
			s.metrics, "reflectable_posts", err)
	}

	now := s.now()
	for _, p := range posts {
		if p.AuthorID == userID {
			result[p.ID] = true
			continue
		}
		authorIsPremium := true
		if err == nil {
			author := authors[p.AuthorID]
			authorIsPremium = IsPremiumActive(author.IsPremium, author.PremiumExpiresAt, now)
		}
		result[p.ID] = perms.CanCreateReflectionOnPost(p.IsPremiumContent, authorIsPremium)
	}
	return result
}
