package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/murmur/pkg/audit"
	"github.com/platinummonkey/murmur/pkg/auth"
	"github.com/platinummonkey/murmur/pkg/middleware"
	"github.com/platinummonkey/murmur/pkg/moderation"
	"github.com/platinummonkey/murmur/pkg/observability"
	"github.com/platinummonkey/murmur/pkg/permissions"
	"github.com/platinummonkey/murmur/pkg/webhooks"
)

const testWebhookSecret = "s3cret"

type testEnv struct {
	server   *Server
	mw       *middleware.PermissionMiddleware
	perms    *permissions.Service
	profiles *permissions.MemoryStore
	audit    *audit.Service
	notifier *webhooks.Notifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger, _ := test.NewNullLogger()
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	store := permissions.NewMemoryStore()
	store.PutProfile(permissions.Profile{ID: "free"})
	store.PutProfile(permissions.Profile{ID: "premium", IsPremium: true})
	store.PutProfile(permissions.Profile{ID: "admin", IsPremium: true})
	store.PutPost(permissions.Post{ID: "public", AuthorID: "free"})
	store.PutPost(permissions.Post{ID: "exclusive", AuthorID: "premium", IsPremiumContent: true})

	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(receiver.Close)
	notifier := webhooks.NewNotifier([]webhooks.Endpoint{{URL: receiver.URL, Secret: "alerts"}},
		webhooks.WithLogger(logger), webhooks.WithMetrics(metrics))

	perms := permissions.NewService(store, store, nil, permissions.WithLogger(logger), permissions.WithMetrics(metrics))
	reflections := permissions.NewReflectionChecker(perms)
	auditSvc := audit.NewService(audit.NewMemoryStore(), audit.DefaultDetectorConfig(),
		audit.WithLogger(logger), audit.WithMetrics(metrics), audit.WithAlertHook(notifier.NotifyAlert))

	checker := moderation.NewChecker(moderation.DefaultRuleSet(), logger)
	router := moderation.NewRouter(perms, checker, logger, moderation.WithRouterMetrics(metrics))

	mw := middleware.NewPermissionMiddleware(auth.NewHeaderAuthenticator(""), perms, reflections, auditSvc,
		middleware.WithLogger(logger))

	server := NewServer(Deps{
		Permissions:   perms,
		Reflections:   reflections,
		Connections:   permissions.NewConnectionManager(perms),
		PostFilter:    permissions.NewPostFilter(perms),
		Middleware:    mw,
		Moderation:    moderation.NewService(router, checker, nil, logger),
		Audit:         auditSvc,
		Notifier:      notifier,
		Health:        observability.NewHealthChecker(nil, nil, "test"),
		Metrics:       metrics,
		Registry:      registry,
		Logger:        logger,
		AdminUserIDs:  []string{"admin"},
		WebhookSecret: testWebhookSecret,
	})

	return &testEnv{server: server, mw: mw, perms: perms, profiles: store, audit: auditSvc, notifier: notifier}
}

func (e *testEnv) do(t *testing.T, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)
	return w
}

func (e *testEnv) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.mw.Flush(ctx))
}

func decodeInto(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestGetPost(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/posts/exclusive", "free", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	var denial middleware.ErrorResponse
	decodeInto(t, w, &denial)
	assert.Equal(t, middleware.CodePostAccessDenied, denial.Code)
	assert.Equal(t, permissions.ReasonPremiumContent, denial.Error)
	assert.True(t, denial.UpgradePrompt)

	w = env.do(t, "GET", "/api/posts/exclusive", "premium", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp PostResponse
	decodeInto(t, w, &resp)
	assert.Equal(t, "exclusive", resp.Post.ID)
	assert.True(t, resp.Access.Allowed)
	assert.True(t, resp.Reflection.Allowed)

	w = env.do(t, "GET", "/api/posts/exclusive", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestGetPost_NotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/posts/missing", "free", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	var denial middleware.ErrorResponse
	decodeInto(t, w, &denial)
	assert.Equal(t, permissions.ReasonPostNotFound, denial.Error)
	assert.False(t, denial.UpgradePrompt)
}

func TestCreateReflection(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/posts/public/reflections", "free", CreateReflectionRequest{Content: "Gostei muito"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp ReflectionResponse
	decodeInto(t, w, &resp)
	assert.Equal(t, ReflectionPublished, resp.Status)
	assert.Equal(t, "free", resp.AuthorID)
	assert.Equal(t, moderation.Mandatory, resp.Moderation.Decision.ModerationType)

	w = env.do(t, "POST", "/api/posts/public/reflections", "free", CreateReflectionRequest{Content: "que idiota"})
	require.Equal(t, http.StatusCreated, w.Code)
	decodeInto(t, w, &resp)
	assert.Equal(t, ReflectionPendingReview, resp.Status)

	w = env.do(t, "POST", "/api/posts/exclusive/reflections", "free", CreateReflectionRequest{Content: "olá"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, "POST", "/api/posts/public/reflections", "free", CreateReflectionRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "POST", "/api/posts/public/reflections", "free", CreateReflectionRequest{ContentType: "video", Content: "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReflectionRestrictions(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/posts/exclusive/reflection-restrictions", "free", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var info permissions.RestrictionInfo
	decodeInto(t, w, &info)
	assert.False(t, info.CanReflect)
	assert.True(t, info.PostIsPremium)
	assert.NotEmpty(t, info.UpgradeMessage)

	w = env.do(t, "GET", "/api/posts/missing/reflection-restrictions", "free", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFilterPosts(t *testing.T) {
	env := newTestEnv(t)

	body := FilterPostsRequest{Posts: []permissions.Post{
		{ID: "public", AuthorID: "free"},
		{ID: "exclusive", AuthorID: "premium", IsPremiumContent: true},
	}}
	w := env.do(t, "POST", "/api/posts/accessible", "free", body)
	require.Equal(t, http.StatusOK, w.Code)

	var resp FilterPostsResponse
	decodeInto(t, w, &resp)
	require.Len(t, resp.Posts, 1)
	assert.Equal(t, "public", resp.Posts[0].ID)
	assert.True(t, resp.Reflectable["public"])
}

func TestConnections(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/connections/request", "free", ConnectionRequest{TargetUserID: "premium"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	var denial middleware.ErrorResponse
	decodeInto(t, w, &denial)
	assert.Equal(t, middleware.CodeConnectionRequestDenied, denial.Code)
	assert.True(t, denial.UpgradePrompt)

	w = env.do(t, "POST", "/api/connections/request", "premium", ConnectionRequest{TargetUserID: "free"})
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = env.do(t, "POST", "/api/connections/request", "premium", ConnectionRequest{TargetUserID: "premium"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "POST", "/api/connections/respond", "free", ConnectionResponse{RequesterID: "premium", Action: "accept"})
	require.Equal(t, http.StatusOK, w.Code)
	var result ConnectionResult
	decodeInto(t, w, &result)
	assert.Equal(t, string(permissions.ConnectionAccepted), result.Status)

	w = env.do(t, "POST", "/api/connections/respond", "free", ConnectionResponse{RequesterID: "premium", Action: "block"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	decodeInto(t, w, &denial)
	assert.Equal(t, permissions.ReasonActionNotRecognized, denial.Error)
}

func TestConnectionActions(t *testing.T) {
	env := newTestEnv(t)

	var resp struct {
		Actions []permissions.AvailableAction `json:"actions"`
	}

	w := env.do(t, "GET", "/api/connections/actions", "free", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeInto(t, w, &resp)
	require.Len(t, resp.Actions, 1)
	assert.Equal(t, permissions.ActionRequest, resp.Actions[0].Action)
	assert.False(t, resp.Actions[0].Enabled)
	assert.True(t, resp.Actions[0].UpgradePrompt)

	w = env.do(t, "GET", "/api/connections/actions?status=pending&isRequester=true", "free", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeInto(t, w, &resp)
	require.Len(t, resp.Actions, 1)
	assert.Equal(t, permissions.ActionCancel, resp.Actions[0].Action)

	w = env.do(t, "GET", "/api/connections/actions?status=blocked", "free", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestModerationCheck(t *testing.T) {
	env := newTestEnv(t)

	var result moderation.Result

	w := env.do(t, "POST", "/api/moderation/check", "premium", ModerationCheckRequest{Content: "bom dia"})
	require.Equal(t, http.StatusOK, w.Code)
	decodeInto(t, w, &result)
	assert.Equal(t, moderation.Bypassed, result.Decision.ModerationType)
	assert.False(t, result.Decision.ShouldModerate)

	w = env.do(t, "POST", "/api/moderation/check", "premium", ModerationCheckRequest{Content: "és um idiota"})
	require.Equal(t, http.StatusOK, w.Code)
	decodeInto(t, w, &result)
	assert.Equal(t, moderation.Intelligent, result.Decision.ModerationType)
	assert.True(t, result.Flagged)

	w = env.do(t, "POST", "/api/moderation/check", "free", ModerationCheckRequest{ContentType: moderation.ContentAudio})
	require.Equal(t, http.StatusOK, w.Code)
	decodeInto(t, w, &result)
	assert.Equal(t, moderation.Mandatory, result.Decision.ModerationType)
}

func TestSubscriptionWebhook(t *testing.T) {
	env := newTestEnv(t)

	// Warm the cache with the free bundle
	assert.False(t, env.perms.GetUserPermissions(context.Background(), "free").CanViewPremiumContent)
	env.profiles.PutProfile(permissions.Profile{ID: "free", IsPremium: true})

	send := func(secret string, event interface{}) *httptest.ResponseRecorder {
		body, err := json.Marshal(event)
		require.NoError(t, err)
		req := httptest.NewRequest("POST", "/api/webhooks/subscription", bytes.NewReader(body))
		req.Header.Set(webhooks.SignatureHeader, webhooks.Sign(body, secret))
		w := httptest.NewRecorder()
		env.server.ServeHTTP(w, req)
		return w
	}

	event := permissions.SubscriptionEvent{Type: permissions.SubscriptionUpgraded, UserIDs: []string{"free"}}
	assert.Equal(t, http.StatusUnauthorized, send("wrong", event).Code)
	assert.False(t, env.perms.GetUserPermissions(context.Background(), "free").CanViewPremiumContent)

	assert.Equal(t, http.StatusNoContent, send(testWebhookSecret, event).Code)
	assert.True(t, env.perms.GetUserPermissions(context.Background(), "free").CanViewPremiumContent)

	bad := permissions.SubscriptionEvent{Type: "paused", UserIDs: []string{"free"}}
	assert.Equal(t, http.StatusBadRequest, send(testWebhookSecret, bad).Code)
}

func TestAdminAuditLogs(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 3; i++ {
		env.do(t, "GET", "/api/posts/exclusive", "free", nil)
	}
	env.flush(t)

	w := env.do(t, "GET", "/api/admin/audit-logs", "free", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	env.flush(t)

	w = env.do(t, "GET", "/api/admin/audit-logs?userId=free&allowed=false", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Logs []*audit.AuditLogEntry `json:"logs"`
	}
	decodeInto(t, w, &resp)
	assert.Len(t, resp.Logs, 3)
	for _, e := range resp.Logs {
		assert.Equal(t, "view_post", e.Action)
		assert.False(t, e.Allowed)
	}

	w = env.do(t, "GET", "/api/admin/audit-logs?userId=free&action=view_post&format=csv", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	assert.Len(t, lines, 4)

	w = env.do(t, "GET", "/api/admin/audit-logs?format=xml", "admin", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "GET", "/api/admin/audit-logs?start=yesterday", "admin", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminSecurityAlerts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alert := &audit.SecurityAlert{
		UserID:      "free",
		AlertType:   audit.AlertPermissionBypassAttempt,
		Severity:    audit.SeverityHigh,
		Description: "teste",
	}
	require.NoError(t, env.audit.CreateSecurityAlert(ctx, alert))

	w := env.do(t, "GET", "/api/admin/security-alerts?severity=high&resolved=false", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Alerts []*audit.SecurityAlert `json:"alerts"`
	}
	decodeInto(t, w, &resp)
	require.Len(t, resp.Alerts, 1)
	assert.Equal(t, alert.ID, resp.Alerts[0].ID)

	w = env.do(t, "GET", "/api/admin/security-alerts?severity=extreme", "admin", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "POST", "/api/admin/security-alerts/"+alert.ID+"/resolve", "admin", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "POST", "/api/admin/security-alerts/"+alert.ID+"/resolve", "admin", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, "POST", "/api/admin/security-alerts/"+alert.ID+"/resolve", "premium", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	ctx2, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, env.notifier.Flush(ctx2))

	w = env.do(t, "GET", "/api/admin/alert-deliveries", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var deliveries struct {
		Deliveries []webhooks.DeliveryLog `json:"deliveries"`
	}
	decodeInto(t, w, &deliveries)
	require.Len(t, deliveries.Deliveries, 1)
	assert.Equal(t, webhooks.DeliverySuccess, deliveries.Deliveries[0].Status)
	assert.Equal(t, webhooks.EventSecurityAlert, deliveries.Deliveries[0].EventType)
}

func TestAdminUsageMetrics(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, "GET", "/api/posts/exclusive", "premium", nil)
	env.flush(t)

	w := env.do(t, "GET", "/api/admin/usage-metrics?userId=premium", "admin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Metrics []*audit.UsageMetrics `json:"metrics"`
	}
	decodeInto(t, w, &resp)
	require.Len(t, resp.Metrics, 1)
	assert.Equal(t, "premium", resp.Metrics[0].UserType)
	assert.Equal(t, int64(1), resp.Metrics[0].Counters["posts_viewed"])
}

func TestOperationalEndpoints(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusOK, env.do(t, "GET", "/health/live", "", nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, "GET", "/health/ready", "", nil).Code)

	env.do(t, "GET", "/api/posts/public", "free", nil)
	w := env.do(t, "GET", "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `murmur_http_requests_total{method="GET",route="/api/posts/{postID}",status="200"}`)
	assert.Contains(t, w.Body.String(), "murmur_permission_decisions_total")
}
