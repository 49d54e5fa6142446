package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
//
// All recording helpers are safe to call on a nil *Metrics, so components can
// be constructed without metrics in tests.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Permission metrics
	PermissionDecisionsTotal *prometheus.CounterVec
	PermissionFallbacksTotal *prometheus.CounterVec
	PermissionCacheLookups   *prometheus.CounterVec
	PermissionCacheEntries   prometheus.Gauge

	// Audit metrics
	AuditWritesTotal        *prometheus.CounterVec
	AuditFallbackBufferSize prometheus.Gauge
	SecurityAlertsTotal     *prometheus.CounterVec
	AlertNotificationsTotal *prometheus.CounterVec

	// Moderation metrics
	ModerationDecisionsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "murmur_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "murmur_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		PermissionDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "murmur_permission_decisions_total",
				Help: "Total number of permission decisions",
			},
			[]string{"action", "resource", "outcome"},
		),
		PermissionFallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "murmur_permission_fallbacks_total",
				Help: "Total number of decisions produced by an error fallback policy",
			},
			[]string{"policy", "operation"},
		),
		PermissionCacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "murmur_permission_cache_lookups_total",
				Help: "Permission cache lookups by result",
			},
			[]string{"cache", "result"},
		),
		PermissionCacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "murmur_permission_cache_entries",
				Help: "Number of entries in the process-local permission cache",
			},
		),

		AuditWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "murmur_audit_writes_total",
				Help: "Audit log writes by destination",
			},
			[]string{"destination"},
		),
		AuditFallbackBufferSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "murmur_audit_fallback_buffer_entries",
				Help: "Audit entries held in the in-memory fallback buffer",
			},
		),
		SecurityAlertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "murmur_security_alerts_total",
				Help: "Security alerts raised by the audit detector",
			},
			[]string{"alert_type", "severity"},
		),

		AlertNotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "murmur_alert_notifications_total",
				Help: "Security alert webhook deliveries by final status",
			},
			[]string{"status"},
		),

		ModerationDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "murmur_moderation_decisions_total",
				Help: "Moderation routing decisions",
			},
			[]string{"moderation_type", "user_type"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PermissionDecisionsTotal,
		m.PermissionFallbacksTotal,
		m.PermissionCacheLookups,
		m.PermissionCacheEntries,
		m.AuditWritesTotal,
		m.AuditFallbackBufferSize,
		m.SecurityAlertsTotal,
		m.AlertNotificationsTotal,
		m.ModerationDecisionsTotal,
	)

	return m
}

// ObserveDecision records an allow/deny decision
func (m *Metrics) ObserveDecision(action, resource string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.PermissionDecisionsTotal.WithLabelValues(action, resource, outcome).Inc()
}

// ObserveFallback records a decision produced by an error fallback policy
func (m *Metrics) ObserveFallback(policy, operation string) {
	if m == nil {
		return
	}
	m.PermissionFallbacksTotal.WithLabelValues(policy, operation).Inc()
}

// ObserveCacheLookup records a cache hit or miss
func (m *Metrics) ObserveCacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.PermissionCacheLookups.WithLabelValues(cache, result).Inc()
}

// SetCacheEntries sets the current number of cached permission entries
func (m *Metrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.PermissionCacheEntries.Set(float64(n))
}

// ObserveAuditWrite records where an audit entry ended up ("store" or "fallback")
func (m *Metrics) ObserveAuditWrite(destination string) {
	if m == nil {
		return
	}
	m.AuditWritesTotal.WithLabelValues(destination).Inc()
}

// SetFallbackBufferSize sets the current fallback buffer occupancy
func (m *Metrics) SetFallbackBufferSize(n int) {
	if m == nil {
		return
	}
	m.AuditFallbackBufferSize.Set(float64(n))
}

// ObserveSecurityAlert records a raised security alert
func (m *Metrics) ObserveSecurityAlert(alertType, severity string) {
	if m == nil {
		return
	}
	m.SecurityAlertsTotal.WithLabelValues(alertType, severity).Inc()
}

// ObserveAlertNotification records the final status of an alert delivery
func (m *Metrics) ObserveAlertNotification(status string) {
	if m == nil {
		return
	}
	m.AlertNotificationsTotal.WithLabelValues(status).Inc()
}

// ObserveModeration records a moderation routing decision
func (m *Metrics) ObserveModeration(moderationType, userType string) {
	if m == nil {
		return
	}
	m.ModerationDecisionsTotal.WithLabelValues(moderationType, userType).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// routeName maps a request to a low-cardinality route label.
func HTTPMetricsMiddleware(metrics *Metrics, routeName func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if routeName != nil {
				route = routeName(r)
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler returns the /metrics handler for registry
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
