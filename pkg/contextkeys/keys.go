// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/murmur/pkg/contextkeys"
//	ctx = contextkeys.WithRequestID(ctx, requestID)
//	requestID := contextkeys.GetRequestID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, audit trail
	// Type: string
	RequestIDKey Key = "request_id"

	// UserKey contains *auth.User
	// Set by: middleware.PermissionMiddleware after authentication
	// Used by: Handlers that need the authenticated user
	// Type: *auth.User
	UserKey Key = "user"

	// PermissionContextKey contains *middleware.PermissionContext
	// Set by: middleware.PermissionMiddleware
	// Used by: Handlers wrapped with WithPermissions and friends
	// Type: *middleware.PermissionContext
	PermissionContextKey Key = "permission_context"

	// SessionIDKey contains the session identifier string
	// Set by: httputil.RequestIDMiddleware (from X-Session-ID when present)
	// Used by: Audit entries
	// Type: string
	SessionIDKey Key = "session_id"
)

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithSessionID adds the session ID to the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// GetSessionID retrieves the session ID from context
func GetSessionID(ctx context.Context) string {
	if sessionID, ok := ctx.Value(SessionIDKey).(string); ok {
		return sessionID
	}
	return ""
}

// WithUser adds the authenticated user to the context
func WithUser(ctx context.Context, user interface{}) context.Context {
	return context.WithValue(ctx, UserKey, user)
}

// WithPermissionContext adds the permission context to the context
func WithPermissionContext(ctx context.Context, pc interface{}) context.Context {
	return context.WithValue(ctx, PermissionContextKey, pc)
}
