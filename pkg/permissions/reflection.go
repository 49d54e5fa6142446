package permissions

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/murmur/pkg/observability"
)

const (
	upgradeMessagePremiumContent = "Atualize para Premium para refletir em conteúdo premium"
	upgradeMessagePremiumAuthor  = "Atualize para Premium para refletir em posts de autores premium"
)

// ReflectionChecker decides whether a user may create a reflection on a post,
// taking the post author's premium status into account.
type ReflectionChecker struct {
	service *Service
}

// NewReflectionChecker creates a checker backed by service
func NewReflectionChecker(service *Service) *ReflectionChecker {
	return &ReflectionChecker{service: service}
}

// RestrictionInfo explains reflection eligibility for UI messaging. It is not
// an authorization decision.
type RestrictionInfo struct {
	CanReflect        bool   `json:"canReflect"`
	IsOwnPost         bool   `json:"isOwnPost"`
	PostIsPremium     bool   `json:"postIsPremium"`
	AuthorIsPremium   bool   `json:"authorIsPremium"`
	UserIsPremium     bool   `json:"userIsPremium"`
	RestrictionReason string `json:"restrictionReason,omitempty"`
	UpgradeMessage    string `json:"upgradeMessage,omitempty"`
}

// CanCreateReflection decides whether userID may reflect on postID. Authors may
// always reflect on their own posts. Lookup errors deny under RestrictiveDefault.
func (c *ReflectionChecker) CanCreateReflection(ctx context.Context, userID, postID string) AccessResult {
	s := c.service
	ctx, span := observability.Tracer().Start(ctx, "permissions.CanCreateReflection")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID), attribute.String("post.id", postID))

	post, err := s.posts.GetPostWithAuthor(ctx, postID)
	if errors.Is(err, ErrPostNotFound) {
		s.metrics.ObserveDecision("create_reflection", "post", false)
		return Denied(ReasonPostNotFound, false)
	}
	if err != nil {
		span.RecordError(err)
		RestrictiveDefault.Record(s.log(ctx).WithFields(logrus.Fields{"user_id": userID, "post_id": postID}),
			s.metrics, "can_create_reflection", err)
		return Denied(ReasonReflectionCheckError, false)
	}

	result := c.evaluate(ctx, userID, post)
	s.metrics.ObserveDecision("create_reflection", "post", result.Allowed)
	return result
}

func (c *ReflectionChecker) evaluate(ctx context.Context, userID string, post *PostWithAuthor) AccessResult {
	if post.AuthorID == userID {
		return Allowed()
	}

	perms := c.service.GetUserPermissions(ctx, userID)
	authorIsPremium := post.AuthorPremiumAt(c.service.now())
	if perms.CanCreateReflectionOnPost(post.IsPremiumContent, authorIsPremium) {
		return Allowed()
	}

	// Premium content takes priority over a premium author
	if post.IsPremiumContent {
		return Denied(ReasonReflectionPremiumContent, true)
	}
	return Denied(ReasonReflectionPremiumAuthor, true)
}

// GetReflectionRestrictionInfo reports the flags behind a reflection decision
// together with display messages.
func (c *ReflectionChecker) GetReflectionRestrictionInfo(ctx context.Context, userID, postID string) (*RestrictionInfo, error) {
	s := c.service

	post, err := s.posts.GetPostWithAuthor(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to load post for restriction info: %w", err)
	}

	perms := s.GetUserPermissions(ctx, userID)
	info := &RestrictionInfo{
		IsOwnPost:       post.AuthorID == userID,
		PostIsPremium:   post.IsPremiumContent,
		AuthorIsPremium: post.AuthorPremiumAt(s.now()),
		UserIsPremium:   perms.Tier == TierPremium,
	}

	result := c.evaluate(ctx, userID, post)
	info.CanReflect = result.Allowed
	if !result.Allowed {
		info.RestrictionReason = result.Reason
		if info.PostIsPremium {
			info.UpgradeMessage = upgradeMessagePremiumContent
		} else {
			info.UpgradeMessage = upgradeMessagePremiumAuthor
		}
	}
	return info, nil
}
