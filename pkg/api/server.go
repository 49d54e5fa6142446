package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/murmur/pkg/audit"
	"github.com/platinummonkey/murmur/pkg/httputil"
	"github.com/platinummonkey/murmur/pkg/middleware"
	"github.com/platinummonkey/murmur/pkg/moderation"
	"github.com/platinummonkey/murmur/pkg/observability"
	"github.com/platinummonkey/murmur/pkg/permissions"
	"github.com/platinummonkey/murmur/pkg/webhooks"
)

// maxBodyBytes caps request bodies; moderation text is the largest input
const maxBodyBytes = 1 << 20

// Deps are the services the API is built from
type Deps struct {
	Permissions *permissions.Service
	Reflections *permissions.ReflectionChecker
	Connections *permissions.ConnectionManager
	PostFilter  *permissions.PostFilter
	Middleware  *middleware.PermissionMiddleware
	Moderation  *moderation.Service
	Audit       *audit.Service
	Notifier    *webhooks.Notifier

	Health   *observability.HealthChecker
	Metrics  *observability.Metrics
	Registry *prometheus.Registry
	Logger   *logrus.Logger

	// AdminUserIDs may read the audit trail and resolve alerts
	AdminUserIDs  []string
	// WebhookSecret, when set, verifies subscription callback signatures
	WebhookSecret string
}

// Server is the HTTP API
type Server struct {
	deps    Deps
	router  *mux.Router
	admins  map[string]struct{}
	handler http.Handler
}

// NewServer creates the API server and registers its routes
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}

	s := &Server{
		deps:   deps,
		router: mux.NewRouter(),
		admins: make(map[string]struct{}, len(deps.AdminUserIDs)),
	}
	for _, id := range deps.AdminUserIDs {
		s.admins[id] = struct{}{}
	}

	s.setupRoutes()
	s.router.Use(observability.HTTPMetricsMiddleware(deps.Metrics, routeName), nameSpan)

	s.handler = httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(deps.Logger),
		httputil.LoggingMiddleware(deps.Logger),
		httputil.MaxBytesMiddleware(maxBodyBytes),
	)(otelhttp.NewHandler(s.router, "murmur-api"))
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	mw := s.deps.Middleware

	// Posts
	s.router.Handle("/api/posts/accessible", mw.WithPermissions(
		middleware.Options{RequireAuth: true, Action: "filter_posts", Resource: "post"}, s.filterPosts)).Methods("POST")
	s.router.Handle("/api/posts/{postID}", mw.WithPostPermissions(postIDVar,
		middleware.PostOptions{RequireAccess: true}, s.getPost)).Methods("GET")
	s.router.Handle("/api/posts/{postID}/reflections", mw.WithPostPermissions(postIDVar,
		middleware.PostOptions{RequireAccess: true, RequireReflectionPermission: true}, s.createReflection)).Methods("POST")
	s.router.Handle("/api/posts/{postID}/reflection-restrictions", mw.WithPermissions(
		middleware.Options{RequireAuth: true, Action: "reflection_restrictions", Resource: "post"}, s.reflectionRestrictions)).Methods("GET")

	// Connections
	s.router.Handle("/api/connections/request", mw.WithConnectionPermissions(
		middleware.ConnectionOptions{RequireRequestPermission: true}, s.requestConnection)).Methods("POST")
	s.router.Handle("/api/connections/respond", mw.WithConnectionPermissions(
		middleware.ConnectionOptions{RequireResponsePermission: true}, s.respondConnection)).Methods("POST")
	s.router.Handle("/api/connections/actions", mw.WithPermissions(
		middleware.Options{RequireAuth: true, Action: "connection_actions", Resource: "connection"}, s.connectionActions)).Methods("GET")

	// Moderation
	s.router.Handle("/api/moderation/check", mw.WithPermissions(
		middleware.Options{RequireAuth: true, Action: "moderation_check", Resource: "content"}, s.checkModeration)).Methods("POST")

	// Subscription provider callbacks
	s.router.HandleFunc("/api/webhooks/subscription", s.subscriptionWebhook).Methods("POST")

	// Admin
	admin := middleware.Options{RequireAuth: true, LogAccess: true, Resource: "admin"}
	s.router.Handle("/api/admin/audit-logs", mw.WithPermissions(withAction(admin, "read_audit_logs"), s.requireAdmin(s.listAuditLogs))).Methods("GET")
	s.router.Handle("/api/admin/security-alerts", mw.WithPermissions(withAction(admin, "read_security_alerts"), s.requireAdmin(s.listSecurityAlerts))).Methods("GET")
	s.router.Handle("/api/admin/security-alerts/{alertID}/resolve", mw.WithPermissions(withAction(admin, "resolve_security_alert"), s.requireAdmin(s.resolveSecurityAlert))).Methods("POST")
	s.router.Handle("/api/admin/usage-metrics", mw.WithPermissions(withAction(admin, "read_usage_metrics"), s.requireAdmin(s.listUsageMetrics))).Methods("GET")
	if s.deps.Notifier != nil {
		s.router.Handle("/api/admin/alert-deliveries", mw.WithPermissions(withAction(admin, "read_alert_deliveries"), s.requireAdmin(s.listAlertDeliveries))).Methods("GET")
	}

	// Operations
	if s.deps.Health != nil {
		s.router.HandleFunc("/health/live", s.deps.Health.Liveness).Methods("GET")
		s.router.HandleFunc("/health/ready", s.deps.Health.Readiness).Methods("GET")
	}
	if s.deps.Registry != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(s.deps.Registry)).Methods("GET")
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func postIDVar(r *http.Request) string {
	return mux.Vars(r)["postID"]
}

func withAction(opts middleware.Options, action string) middleware.Options {
	opts.Action = action
	return opts
}

// nameSpan renames the request span after the matched route
func nameSpan(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		trace.SpanFromContext(r.Context()).SetName(r.Method + " " + routeName(r))
		next.ServeHTTP(w, r)
	})
}

// routeName labels metrics and spans with the route template, not the raw
// path, to keep label cardinality bounded
func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
