package audit

import (
	"errors"
	"time"
)

// ErrAlertNotFound is returned when resolving an alert that does not exist
// or has already been resolved
var ErrAlertNotFound = errors.New("security alert not found or already resolved")

// AlertType categorizes a security alert
type AlertType string

const (
	AlertSuspiciousActivity      AlertType = "suspicious_activity"
	AlertPermissionBypassAttempt AlertType = "permission_bypass_attempt"
	AlertUnusualPattern          AlertType = "unusual_pattern"
)

// Severity ranks a security alert
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is one of the known severities
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// AuditLogEntry records a single allow or deny decision. Entries are
// append-only. UserID is empty for unauthenticated requests and is stored
// as NULL.
type AuditLogEntry struct {
	ID         int64                  `json:"id,omitempty"`
	UserID     string                 `json:"userId,omitempty"`
	Action     string                 `json:"action"`
	Resource   string                 `json:"resource"`
	ResourceID string                 `json:"resourceId,omitempty"`
	Allowed    bool                   `json:"allowed"`
	Reason     string                 `json:"reason,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	UserAgent  string                 `json:"userAgent,omitempty"`
	IP         string                 `json:"ip,omitempty"`
	SessionID  string                 `json:"sessionId,omitempty"`
}

// SecurityAlert is derived from decision patterns. The only mutation is
// resolution.
type SecurityAlert struct {
	ID          string                 `json:"id"`
	UserID      string                 `json:"userId"`
	AlertType   AlertType              `json:"alertType"`
	Severity    Severity               `json:"severity"`
	Description string                 `json:"description"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Resolved    bool                   `json:"resolved"`
	ResolvedAt  *time.Time             `json:"resolvedAt,omitempty"`
}

// UsageMetrics is a per-user, per-day bundle of action counters
type UsageMetrics struct {
	UserID   string           `json:"userId"`
	UserType string           `json:"userType"`
	Date     time.Time        `json:"date"`
	Counters map[string]int64 `json:"counters"`
}

// LogFilter selects audit log entries. Zero values match everything.
type LogFilter struct {
	UserIDs   []string
	Action    string
	Resource  string
	Allowed   *bool
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// AlertFilter selects security alerts
type AlertFilter struct {
	UserID     string
	AlertTypes []AlertType
	Severities []Severity
	Resolved   *bool
	StartTime  *time.Time
	EndTime    *time.Time
	Limit      int
	Offset     int
}

// UsageFilter selects usage metric rows
type UsageFilter struct {
	UserID    string
	UserType  string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
}

// DenialQuery counts denied entries for one user since a point in time.
// Resource and ReasonContains narrow the count when set; ReasonContains is
// case-insensitive.
type DenialQuery struct {
	UserID         string
	Since          time.Time
	Resource       string
	ReasonContains string
}

// DefaultLimit caps admin reads that do not set a limit
const DefaultLimit = 100

const maxLimit = 1000

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > maxLimit:
		return maxLimit
	}
	return limit
}

// day truncates t to its UTC calendar date
func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
