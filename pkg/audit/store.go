package audit

import (
	"context"
	"time"
)

// Store is the durable audit collaborator: append-only inserts for log and
// alert rows, a single update for alert resolution, and filtered selects.
type Store interface {
	InsertLog(ctx context.Context, entry *AuditLogEntry) error

	// QueryLogs returns matching entries newest first
	QueryLogs(ctx context.Context, filter LogFilter) ([]*AuditLogEntry, error)

	CountDenials(ctx context.Context, q DenialQuery) (int, error)

	InsertAlert(ctx context.Context, alert *SecurityAlert) error

	// QueryAlerts returns matching alerts newest first
	QueryAlerts(ctx context.Context, filter AlertFilter) ([]*SecurityAlert, error)

	// ResolveAlert marks an unresolved alert resolved. It returns
	// ErrAlertNotFound when no unresolved alert has that id.
	ResolveAlert(ctx context.Context, id string, at time.Time) error

	// GetUsageMetrics returns the bundle for one user and day, or nil when
	// none exists yet
	GetUsageMetrics(ctx context.Context, userID string, date time.Time) (*UsageMetrics, error)

	// UpsertUsageMetrics writes the bundle. exists selects update over insert.
	UpsertUsageMetrics(ctx context.Context, metrics *UsageMetrics, exists bool) error

	QueryUsageMetrics(ctx context.Context, filter UsageFilter) ([]*UsageMetrics, error)

	// Cleanup deletes log entries and resolved alerts older than before
	Cleanup(ctx context.Context, before time.Time) (int64, error)
}
