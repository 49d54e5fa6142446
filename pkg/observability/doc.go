// Package observability provides structured logging, Prometheus metrics, health checks
// and OpenTelemetry tracing for the permission engine.
//
// # Structured Logging
//
// Services log through logrus with structured fields:
//
//	logger := observability.NewLogger(observability.ParseLevel("info"), os.Stdout)
//	logger.WithFields(logrus.Fields{"user_id": id, "action": "view_post"}).Info("access denied")
//
// Request-scoped logging picks up the request and session IDs from the context:
//
//	observability.FromContext(r.Context(), logger).Warn("audit write failed")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.ObserveDecision("view_post", "post", false)
//
// Recording helpers accept a nil *Metrics.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	checker.AddCheck("audit_fallback", false, auditSvc.FallbackHealth)
//	router.HandleFunc("/health/live", checker.Liveness)
//	router.HandleFunc("/health/ready", checker.Readiness)
//
// The database is required for readiness. Redis and other non-critical
// checks only degrade it.
package observability
