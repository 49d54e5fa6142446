// Package audit records every permission decision and derives security
// alerts from decision patterns.
//
// # Overview
//
// Service.LogAccess persists one AuditLogEntry per decision and then runs the
// Detector over the user's trailing window of denials:
//
//   - many denials of any kind raise a medium suspicious_activity alert
//   - a denial whose reason mentions "bypass" raises a high
//     permission_bypass_attempt alert
//   - repeated premium-content denials on posts raise a low unusual_pattern
//     alert suggesting an upgrade prompt
//
// The rules are independent, so a single entry can raise several alerts.
//
// # Fallback
//
// When the Store rejects a write the entry is kept in a RingBuffer (1000
// entries by default, oldest evicted first). ReplayFallback writes buffered
// entries back once the store recovers.
//
// # Usage Example
//
//	svc := audit.NewService(store, audit.DefaultDetectorConfig(), audit.WithLogger(logger))
//
//	svc.Record(ctx, &audit.AuditLogEntry{
//		UserID:   user.ID,
//		Action:   "read",
//		Resource: "post",
//		Allowed:  false,
//		Reason:   "Conteúdo premium requer subscrição",
//	})
//
//	open := false
//	alerts := svc.GetSecurityAlerts(ctx, audit.AlertFilter{Resolved: &open})
//
// Admin reads never fail: a query error is logged and an empty slice is
// returned.
package audit
