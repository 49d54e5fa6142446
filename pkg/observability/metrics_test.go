package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveDecision("view_post", "post", true)
		m.ObserveFallback("restrictive_default", "check_post_access")
		m.ObserveCacheLookup("permissions", true)
		m.SetCacheEntries(3)
		m.ObserveAuditWrite("store")
		m.SetFallbackBufferSize(1)
		m.ObserveSecurityAlert("suspicious_activity", "medium")
		m.ObserveAlertNotification("success")
		m.ObserveModeration("mandatory", "free")
	})
}

func TestMetrics_Recording(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveDecision("view_post", "post", false)
	m.ObserveDecision("view_post", "post", false)
	m.ObserveDecision("view_post", "post", true)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PermissionDecisionsTotal.WithLabelValues("view_post", "post", "denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PermissionDecisionsTotal.WithLabelValues("view_post", "post", "allowed")))

	m.ObserveCacheLookup("permissions", false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PermissionCacheLookups.WithLabelValues("permissions", "miss")))

	m.SetCacheEntries(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(m.PermissionCacheEntries))

	m.ObserveAlertNotification("dropped")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertNotificationsTotal.WithLabelValues("dropped")))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	handler := HTTPMetricsMiddleware(m, func(*http.Request) string { return "/api/posts/{postID}" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/posts/p1", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/posts/{postID}", "403")))

	w := httptest.NewRecorder()
	MetricsHandler(registry).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(w.Body.String(), "murmur_http_requests_total"))
}
