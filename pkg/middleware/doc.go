// Package middleware wraps HTTP handlers with authentication, permission
// checks and audit logging.
//
// Handlers are composed explicitly:
//
//	mw := middleware.NewPermissionMiddleware(authn, perms, reflections, auditSvc)
//	router.Handle("/api/posts/{postID}", mw.WithPostPermissions(postIDVar,
//		middleware.PostOptions{RequireAccess: true}, showPost))
//
// Denials are written as {error, upgradePrompt, code} with one of the fixed
// codes (UNAUTHORIZED, POST_ACCESS_DENIED, REFLECTION_DENIED,
// CONNECTION_REQUEST_DENIED, CONNECTION_RESPONSE_DENIED, INTERNAL_ERROR,
// PERMISSION_CHECK_ERROR).
//
// Every decision is sent to the audit sink in the background. Audit failures
// never change the response; Flush waits for pending writes on shutdown.
package middleware
