package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/murmur/pkg/async"
	"github.com/platinummonkey/murmur/pkg/audit"
	"github.com/platinummonkey/murmur/pkg/auth"
	"github.com/platinummonkey/murmur/pkg/contextkeys"
	"github.com/platinummonkey/murmur/pkg/observability"
	"github.com/platinummonkey/murmur/pkg/permissions"
)

// DefaultAuditTimeout bounds a single background audit write
const DefaultAuditTimeout = 5 * time.Second

// AuditSink receives audit entries and usage counters. Record must not
// fail the caller; it is invoked off the request path.
type AuditSink interface {
	Record(ctx context.Context, entry *audit.AuditLogEntry)
	TrackUsageMetrics(ctx context.Context, userID, userType, actionKey string, count int) error
}

// PermissionContext is what a wrapped handler learns about the caller
type PermissionContext struct {
	User        *auth.User
	Permissions permissions.UserPermissions
	IsPremium   bool

	// Set by WithPostPermissions
	PostID     string
	PostAccess permissions.AccessResult
	Reflection permissions.AccessResult

	// Set by WithConnectionPermissions
	CanRequestConnection   bool
	CanRespondToConnection bool
}

// UserID returns the caller's id, or "" when anonymous
func (pc *PermissionContext) UserID() string {
	if pc == nil || pc.User == nil {
		return ""
	}
	return pc.User.ID
}

// FromContext returns the permission context attached by the middleware
func FromContext(ctx context.Context) *PermissionContext {
	pc, _ := ctx.Value(contextkeys.PermissionContextKey).(*PermissionContext)
	return pc
}

// HandlerFunc is a handler that runs after the permission checks. A
// returned error becomes a 500 INTERNAL_ERROR response.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, pc *PermissionContext) error

// Options configures WithPermissions
type Options struct {
	RequireAuth bool
	LogAccess   bool
	Action      string
	Resource    string
}

// PostOptions selects which post gates are enforced
type PostOptions struct {
	RequireAccess               bool
	RequireReflectionPermission bool
}

// ConnectionOptions selects which connection gates are enforced
type ConnectionOptions struct {
	RequireRequestPermission  bool
	RequireResponsePermission bool
}

// PermissionMiddleware authenticates requests, loads the caller's
// permissions, applies resource checks and records every decision in the
// audit trail without blocking the response.
type PermissionMiddleware struct {
	authn        auth.Authenticator
	perms        *permissions.Service
	reflections  *permissions.ReflectionChecker
	audit        AuditSink
	tracker      *async.Tracker
	logger       *logrus.Logger
	auditTimeout time.Duration
}

// Option configures a PermissionMiddleware
type Option func(*PermissionMiddleware)

// WithLogger sets the logger
func WithLogger(logger *logrus.Logger) Option {
	return func(m *PermissionMiddleware) { m.logger = logger }
}

// WithAuditTimeout bounds each background audit write
func WithAuditTimeout(d time.Duration) Option {
	return func(m *PermissionMiddleware) { m.auditTimeout = d }
}

// NewPermissionMiddleware creates the middleware
func NewPermissionMiddleware(authn auth.Authenticator, perms *permissions.Service, reflections *permissions.ReflectionChecker,
	sink AuditSink, opts ...Option) *PermissionMiddleware {

	m := &PermissionMiddleware{
		authn:        authn,
		perms:        perms,
		reflections:  reflections,
		audit:        sink,
		auditTimeout: DefaultAuditTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logrus.New()
	}
	m.tracker = async.NewTracker(m.logger)
	return m
}

// Flush waits for in-flight audit writes
func (m *PermissionMiddleware) Flush(ctx context.Context) error {
	return m.tracker.Wait(ctx)
}

func (m *PermissionMiddleware) log(ctx context.Context) *logrus.Entry {
	return observability.WithTraceContext(ctx, observability.FromContext(ctx, m.logger))
}

// WithPermissions authenticates the request and invokes next with the
// caller's permission context. With RequireAuth unset, anonymous callers
// and callers with an invalid token proceed without a user.
func (m *PermissionMiddleware) WithPermissions(opts Options, next HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := m.authn.CurrentUser(r)
		if err != nil {
			m.log(r.Context()).WithError(err).Warn("authentication failed")
			user = nil
		}

		if user == nil && opts.RequireAuth {
			m.record(r, "", opts.Action, opts.Resource, "", false, MessageAuthRequired)
			WriteDenial(w, http.StatusUnauthorized, CodeUnauthorized, MessageAuthRequired, false)
			return
		}

		pc := &PermissionContext{User: user, Permissions: permissions.PermissionsFor(permissions.TierFree)}
		if user != nil {
			pc.Permissions = m.perms.GetUserPermissions(r.Context(), user.ID)
			pc.IsPremium = m.perms.GetUserPremiumStatus(r.Context(), user.ID).IsPremium
		}

		ctx := contextkeys.WithPermissionContext(r.Context(), pc)
		if user != nil {
			ctx = contextkeys.WithUser(ctx, user)
		}
		r = r.WithContext(ctx)

		if opts.LogAccess {
			m.record(r, pc.UserID(), opts.Action, opts.Resource, "", true, "")
		}

		m.invoke(w, r, pc, opts, next)
	})
}

// invoke runs next, turning an error or panic into a 500
func (m *PermissionMiddleware) invoke(w http.ResponseWriter, r *http.Request, pc *PermissionContext, opts Options, next HandlerFunc) {
	fail := func(cause error) {
		m.log(r.Context()).WithError(cause).WithFields(logrus.Fields{
			"user_id":  pc.UserID(),
			"action":   opts.Action,
			"resource": opts.Resource,
		}).Error("permission-wrapped handler failed")
		if opts.LogAccess {
			m.record(r, pc.UserID(), opts.Action, opts.Resource, pc.PostID, false, reasonHandlerFailure)
		}
		WriteDenial(w, http.StatusInternalServerError, CodeInternalError, MessageInternalError, false)
	}

	defer func() {
		if rec := recover(); rec != nil {
			fail(fmt.Errorf("panic: %v", rec))
		}
	}()

	if err := next(w, r, pc); err != nil {
		fail(err)
	}
}

// WithPostPermissions requires authentication, then checks post access and
// reflection permission for the post named by postID. Both checks always
// run; only the gates selected in opts are enforced.
func (m *PermissionMiddleware) WithPostPermissions(postID func(*http.Request) string, opts PostOptions, next HandlerFunc) http.Handler {
	base := Options{RequireAuth: true, Action: "view_post", Resource: "post"}

	return m.WithPermissions(base, func(w http.ResponseWriter, r *http.Request, pc *PermissionContext) error {
		ctx := r.Context()
		id := postID(r)
		pc.PostID = id

		g, gctx := errgroup.WithContext(ctx)
		g.Go(guard(func() error {
			pc.PostAccess = m.perms.CheckPostAccess(gctx, pc.UserID(), id)
			return nil
		}))
		g.Go(guard(func() error {
			pc.Reflection = m.reflections.CanCreateReflection(gctx, pc.UserID(), id)
			return nil
		}))
		if err := g.Wait(); err != nil {
			m.checkFailed(w, r, pc, base, id, err)
			return nil
		}

		switch {
		case opts.RequireAccess && !pc.PostAccess.Allowed:
			m.record(r, pc.UserID(), "view_post", "post", id, false, pc.PostAccess.Reason)
			WriteDenial(w, http.StatusForbidden, CodePostAccessDenied, pc.PostAccess.Reason, pc.PostAccess.UpgradePrompt)
			return nil
		case opts.RequireReflectionPermission && !pc.Reflection.Allowed:
			m.record(r, pc.UserID(), "create_reflection", "post", id, false, pc.Reflection.Reason)
			WriteDenial(w, http.StatusForbidden, CodeReflectionDenied, pc.Reflection.Reason, pc.Reflection.UpgradePrompt)
			return nil
		}

		m.record(r, pc.UserID(), "view_post", "post", id, pc.PostAccess.Allowed, pc.PostAccess.Reason)
		if pc.PostAccess.Allowed {
			m.trackUsage(r, pc, "posts_viewed")
		}
		return next(w, r, pc)
	})
}

// WithConnectionPermissions requires authentication, then resolves the
// caller's connection request and response rights.
func (m *PermissionMiddleware) WithConnectionPermissions(opts ConnectionOptions, next HandlerFunc) http.Handler {
	base := Options{RequireAuth: true, Action: "connection", Resource: "connection"}

	return m.WithPermissions(base, func(w http.ResponseWriter, r *http.Request, pc *PermissionContext) error {
		ctx := r.Context()

		var request, respond permissions.AccessResult
		err := guard(func() error {
			request = m.perms.CheckConnectionPermission(ctx, pc.UserID(), permissions.ConnectionRequest)
			respond = m.perms.CheckConnectionPermission(ctx, pc.UserID(), permissions.ConnectionRespond)
			return nil
		})()
		if err != nil {
			m.checkFailed(w, r, pc, base, "", err)
			return nil
		}
		pc.CanRequestConnection = request.Allowed
		pc.CanRespondToConnection = respond.Allowed

		switch {
		case opts.RequireRequestPermission && !request.Allowed:
			m.record(r, pc.UserID(), "connection_request", "connection", "", false, request.Reason)
			WriteDenial(w, http.StatusForbidden, CodeConnectionRequestDenied, request.Reason, request.UpgradePrompt)
			return nil
		case opts.RequireResponsePermission && !respond.Allowed:
			m.record(r, pc.UserID(), "connection_respond", "connection", "", false, respond.Reason)
			WriteDenial(w, http.StatusForbidden, CodeConnectionResponseDenied, respond.Reason, respond.UpgradePrompt)
			return nil
		}

		if opts.RequireRequestPermission {
			m.record(r, pc.UserID(), "connection_request", "connection", "", true, "")
			m.trackUsage(r, pc, "connection_requests")
		}
		if opts.RequireResponsePermission {
			m.record(r, pc.UserID(), "connection_respond", "connection", "", true, "")
		}
		return next(w, r, pc)
	})
}

func (m *PermissionMiddleware) checkFailed(w http.ResponseWriter, r *http.Request, pc *PermissionContext, opts Options, resourceID string, err error) {
	m.log(r.Context()).WithError(err).WithFields(logrus.Fields{
		"user_id":  pc.UserID(),
		"resource": opts.Resource,
	}).Error("permission check failed")
	m.record(r, pc.UserID(), opts.Action, opts.Resource, resourceID, false, reasonPermissionFailure)
	WriteDenial(w, http.StatusInternalServerError, CodePermissionCheckError, MessagePermissionCheck, false)
}

// guard converts a panic in fn into an error
func guard(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic: %v", rec)
			}
		}()
		return fn()
	}
}

// record dispatches one audit entry in the background. The request context
// is detached so the write outlives the response.
func (m *PermissionMiddleware) record(r *http.Request, userID, action, resource, resourceID string, allowed bool, reason string) {
	if m.audit == nil {
		return
	}

	entry := &audit.AuditLogEntry{
		UserID:     userID,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Allowed:    allowed,
		Reason:     reason,
		UserAgent:  r.UserAgent(),
		IP:         clientIP(r),
		SessionID:  contextkeys.GetSessionID(r.Context()),
		Metadata: map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
		},
	}
	if requestID := contextkeys.GetRequestID(r.Context()); requestID != "" {
		entry.Metadata["request_id"] = requestID
	}

	m.tracker.Go(context.WithoutCancel(r.Context()), m.auditTimeout, "audit log", func(ctx context.Context) error {
		m.audit.Record(ctx, entry)
		return nil
	})
}

func (m *PermissionMiddleware) trackUsage(r *http.Request, pc *PermissionContext, actionKey string) {
	if m.audit == nil {
		return
	}
	userID, userType := pc.UserID(), pc.Permissions.Tier.String()
	m.tracker.Go(context.WithoutCancel(r.Context()), m.auditTimeout, "usage metrics", func(ctx context.Context) error {
		return m.audit.TrackUsageMetrics(ctx, userID, userType, actionKey, 1)
	})
}

// clientIP prefers the first X-Forwarded-For hop over the socket address
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
