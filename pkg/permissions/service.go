package permissions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/murmur/pkg/observability"
)

// DefaultPremiumStatusTTL is the cache lifetime for premium-status-only reads
const DefaultPremiumStatusTTL = 10 * time.Minute

// sharedLoadTimeout bounds a profile load shared by concurrent callers
const sharedLoadTimeout = 10 * time.Second

// Service computes user permissions and answers point-in-time access checks.
// It is the only reader and writer of its PermissionCache.
type Service struct {
	profiles ProfileStore
	posts    PostStore
	cache    *PermissionCache
	shared   SharedCache

	permissionTTL time.Duration
	premiumTTL    time.Duration

	loads   singleflight.Group
	now     func() time.Time
	logger  *logrus.Logger
	metrics *observability.Metrics
}

// Option configures a Service
type Option func(*Service)

// WithSharedCache adds a cross-process premium-status cache
func WithSharedCache(shared SharedCache) Option {
	return func(s *Service) { s.shared = shared }
}

// WithLogger sets the service logger
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the service metrics
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Service) { s.metrics = metrics }
}

// WithClock overrides the time source used for premium expiry checks
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTTLs overrides the permission and premium-status cache lifetimes
func WithTTLs(permissionTTL, premiumStatusTTL time.Duration) Option {
	return func(s *Service) {
		if permissionTTL > 0 {
			s.permissionTTL = permissionTTL
		}
		if premiumStatusTTL > 0 {
			s.premiumTTL = premiumStatusTTL
		}
	}
}

// NewService creates a permission service. A nil cache gets a default one.
func NewService(profiles ProfileStore, posts PostStore, cache *PermissionCache, opts ...Option) *Service {
	s := &Service{
		profiles:      profiles,
		posts:         posts,
		cache:         cache,
		permissionTTL: DefaultPermissionTTL,
		premiumTTL:    DefaultPremiumStatusTTL,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logrus.New()
	}
	if s.cache == nil {
		s.cache = NewPermissionCache(s.permissionTTL, WithCacheClock(s.now))
	}
	return s
}

// Cache exposes the service's cache for the background sweep
func (s *Service) Cache() *PermissionCache {
	return s.cache
}

// Posts exposes the post store used by the service
func (s *Service) Posts() PostStore {
	return s.posts
}

// Now returns the service clock's current time
func (s *Service) Now() time.Time {
	return s.now()
}

func (s *Service) log(ctx context.Context) *logrus.Entry {
	return observability.WithTraceContext(ctx, observability.FromContext(ctx, s.logger))
}

// GetUserPermissions returns the user's permission bundle. It never fails:
// lookup errors yield the free bundle under PermissiveDefault.
func (s *Service) GetUserPermissions(ctx context.Context, userID string) UserPermissions {
	perms, err := s.LoadUserPermissions(ctx, userID)
	if err != nil {
		PermissiveDefault.Record(s.log(ctx).WithField("user_id", userID), s.metrics, "get_user_permissions", err)
		return PermissionsFor(TierFree)
	}
	return perms
}

// LoadUserPermissions is GetUserPermissions without the fallback, for
// callers that apply their own policy. Failed loads are not cached.
func (s *Service) LoadUserPermissions(ctx context.Context, userID string) (UserPermissions, error) {
	if data, ok := s.cache.Get(userID); ok && data.Permissions != nil {
		s.metrics.ObserveCacheLookup("permissions", true)
		return *data.Permissions, nil
	}
	s.metrics.ObserveCacheLookup("permissions", false)

	v, err := s.share(ctx, "permissions:"+userID, func(ctx context.Context) (interface{}, error) {
		profile, err := s.profiles.GetProfile(ctx, userID)
		if err != nil {
			return nil, err
		}

		now := s.now()
		perms := PermissionsFor(profile.TierAt(now))
		status := profile.StatusAt(now)
		s.cache.Set(userID, CacheEntryData{Permissions: &perms, PremiumStatus: &status}, s.permissionTTL)
		return perms, nil
	})
	if err != nil {
		return UserPermissions{}, fmt.Errorf("failed to load permissions for %s: %w", userID, err)
	}
	return v.(UserPermissions), nil
}

// GetUserPremiumStatus returns the user's premium status, consulting the local
// cache, then the shared cache, then the profile store. Lookup errors yield a
// non-premium status under PermissiveDefault.
func (s *Service) GetUserPremiumStatus(ctx context.Context, userID string) PremiumStatus {
	now := s.now()

	if data, ok := s.cache.Get(userID); ok && data.PremiumStatus != nil {
		s.metrics.ObserveCacheLookup("premium_status", true)
		return reevaluate(*data.PremiumStatus, now)
	}
	s.metrics.ObserveCacheLookup("premium_status", false)

	v, err := s.share(ctx, "premium:"+userID, func(ctx context.Context) (interface{}, error) {
		if s.shared != nil {
			cached, err := s.shared.GetPremiumStatus(ctx, userID)
			if err != nil {
				s.log(ctx).WithError(err).WithField("user_id", userID).Warn("Shared premium cache read failed")
			} else if cached != nil {
				s.metrics.ObserveCacheLookup("shared_premium_status", true)
				s.cache.Merge(userID, CacheEntryData{PremiumStatus: cached}, s.premiumTTL)
				return *cached, nil
			} else {
				s.metrics.ObserveCacheLookup("shared_premium_status", false)
			}
		}

		profile, err := s.profiles.GetProfile(ctx, userID)
		if err != nil {
			return nil, err
		}

		status := profile.StatusAt(now)
		s.cache.Merge(userID, CacheEntryData{PremiumStatus: &status}, s.premiumTTL)
		if s.shared != nil {
			if err := s.shared.SetPremiumStatus(ctx, userID, status, s.premiumTTL); err != nil {
				s.log(ctx).WithError(err).WithField("user_id", userID).Warn("Shared premium cache write failed")
			}
		}
		return status, nil
	})
	if err != nil {
		PermissiveDefault.Record(s.log(ctx).WithField("user_id", userID), s.metrics, "get_user_premium_status", err)
		return PremiumStatus{}
	}
	return reevaluate(v.(PremiumStatus), now)
}

// share collapses concurrent loads for key. The load runs detached from any
// single caller so one caller's cancellation cannot fail the others; each
// caller still stops waiting when its own ctx is done.
func (s *Service) share(ctx context.Context, key string, load func(context.Context) (interface{}, error)) (interface{}, error) {
	ch := s.loads.DoChan(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLoadTimeout)
		defer cancel()
		return load(loadCtx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// reevaluate re-applies the expiry check to a cached status
func reevaluate(status PremiumStatus, now time.Time) PremiumStatus {
	status.IsPremium = IsPremiumActive(status.IsPremium, status.ExpiresAt, now)
	return status
}

// CheckPostAccess decides whether userID may view postID. Public posts and the
// author's own posts are always visible; premium posts need premium viewing
// rights. Lookup errors deny under RestrictiveDefault.
func (s *Service) CheckPostAccess(ctx context.Context, userID, postID string) AccessResult {
	ctx, span := observability.Tracer().Start(ctx, "permissions.CheckPostAccess")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID), attribute.String("post.id", postID))

	var (
		perms UserPermissions
		post  *Post
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// ctx, not gctx: a failed post lookup must not cancel a permission
		// load other requests may be sharing
		perms = s.GetUserPermissions(ctx, userID)
		return nil
	})
	g.Go(func() error {
		var err error
		post, err = s.posts.GetPost(gctx, postID)
		return err
	})

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrPostNotFound) {
			s.metrics.ObserveDecision("view_post", "post", false)
			return Denied(ReasonPostNotFound, false)
		}
		span.SetStatus(codes.Error, "post access check failed")
		RestrictiveDefault.Record(s.log(ctx).WithFields(logrus.Fields{"user_id": userID, "post_id": postID}),
			s.metrics, "check_post_access", err)
		return Denied(ReasonAccessCheckError, false)
	}

	result := evaluatePostAccess(userID, post, perms)
	span.SetAttributes(attribute.Bool("access.allowed", result.Allowed))
	s.metrics.ObserveDecision("view_post", "post", result.Allowed)
	return result
}

func evaluatePostAccess(userID string, post *Post, perms UserPermissions) AccessResult {
	if !post.IsPremiumContent || post.AuthorID == userID || perms.CanViewPremiumContent {
		return Allowed()
	}
	return Denied(ReasonPremiumContent, true)
}

// CheckConnectionPermission decides whether userID may perform action.
// Responding is open to everyone; requesting requires premium.
func (s *Service) CheckConnectionPermission(ctx context.Context, userID string, action ConnectionAction) AccessResult {
	var result AccessResult
	switch action {
	case ConnectionRespond:
		result = Allowed()
	case ConnectionRequest:
		if s.GetUserPermissions(ctx, userID).CanRequestConnection {
			result = Allowed()
		} else {
			result = Denied(ReasonConnectionRequiresPlan, true)
		}
	default:
		result = Denied(ReasonActionNotRecognized, false)
	}

	s.metrics.ObserveDecision("connection_"+string(action), "connection", result.Allowed)
	return result
}

// InvalidateUserCache drops cached state for userID
func (s *Service) InvalidateUserCache(ctx context.Context, userID string) {
	s.InvalidateMultipleUsersCache(ctx, []string{userID})
}

// InvalidateMultipleUsersCache drops cached state for every user in userIDs
func (s *Service) InvalidateMultipleUsersCache(ctx context.Context, userIDs []string) {
	s.cache.InvalidateMultiple(userIDs)
	if s.shared != nil {
		if err := s.shared.Invalidate(ctx, userIDs...); err != nil {
			s.log(ctx).WithError(err).WithField("user_count", len(userIDs)).Warn("Shared premium cache invalidation failed")
		}
	}
}

// ClearPermissionCache drops every locally cached entry
func (s *Service) ClearPermissionCache() {
	s.cache.Clear()
}

// HandleSubscriptionEvent invalidates cached state for the users affected by a
// subscription transition.
func (s *Service) HandleSubscriptionEvent(ctx context.Context, event SubscriptionEvent) error {
	if !event.Valid() {
		return fmt.Errorf("unknown subscription event type %q", event.Type)
	}
	if len(event.UserIDs) == 0 {
		return fmt.Errorf("subscription event has no users")
	}

	s.InvalidateMultipleUsersCache(ctx, event.UserIDs)
	s.log(ctx).WithFields(logrus.Fields{
		"event":      string(event.Type),
		"user_count": len(event.UserIDs),
	}).Info("Invalidated permissions after subscription change")
	return nil
}
