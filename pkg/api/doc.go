// Package api exposes the permission engine over HTTP.
//
// Routes are registered on a gorilla/mux router and wrapped with the
// permission middleware:
//
//	GET  /api/posts/{postID}                           post access (POST_ACCESS_DENIED)
//	POST /api/posts/{postID}/reflections               reflection + moderation (REFLECTION_DENIED)
//	GET  /api/posts/{postID}/reflection-restrictions   UI messaging for reflections
//	POST /api/posts/accessible                         bulk visibility filter
//	POST /api/connections/request                      CONNECTION_REQUEST_DENIED for free users
//	POST /api/connections/respond                      accept or decline
//	GET  /api/connections/actions                      actions available for a connection state
//	POST /api/moderation/check                         moderation routing and local checks
//	POST /api/webhooks/subscription                    signed; cache invalidation on subscription changes
//	GET  /api/admin/audit-logs                         ?format=csv|ndjson|json
//	GET  /api/admin/security-alerts
//	POST /api/admin/security-alerts/{alertID}/resolve
//	GET  /api/admin/usage-metrics
//	GET  /api/admin/alert-deliveries                   when an alert notifier is configured
//	GET  /health/live, /health/ready, /metrics
//
// Admin routes are limited to the configured admin user ids.
package api
