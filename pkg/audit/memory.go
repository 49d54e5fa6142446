package audit

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for development mode and tests
type MemoryStore struct {
	mu     sync.RWMutex
	logs   []*AuditLogEntry
	alerts []*SecurityAlert
	usage  map[string]*UsageMetrics
	nextID int64
	err    error
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{usage: make(map[string]*UsageMetrics)}
}

// SetError makes every subsequent call fail with err (nil restores normal behavior)
func (m *MemoryStore) SetError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// InsertLog implements Store
func (m *MemoryStore) InsertLog(ctx context.Context, entry *AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}

	m.nextID++
	entry.ID = m.nextID
	stored := *entry
	m.logs = append(m.logs, &stored)
	return nil
}

// QueryLogs implements Store
func (m *MemoryStore) QueryLogs(ctx context.Context, filter LogFilter) ([]*AuditLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}

	out := make([]*AuditLogEntry, 0)
	for i := len(m.logs) - 1; i >= 0; i-- {
		e := m.logs[i]
		if len(filter.UserIDs) > 0 && !slices.Contains(filter.UserIDs, e.UserID) {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.Resource != "" && e.Resource != filter.Resource {
			continue
		}
		if filter.Allowed != nil && e.Allowed != *filter.Allowed {
			continue
		}
		if !inRange(e.Timestamp, filter.StartTime, filter.EndTime) {
			continue
		}
		copied := *e
		out = append(out, &copied)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return page(out, filter.Offset, clampLimit(filter.Limit)), nil
}

// CountDenials implements Store
func (m *MemoryStore) CountDenials(ctx context.Context, q DenialQuery) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return 0, m.err
	}

	needle := strings.ToLower(q.ReasonContains)
	count := 0
	for _, e := range m.logs {
		if e.Allowed || e.UserID != q.UserID || e.Timestamp.Before(q.Since) {
			continue
		}
		if q.Resource != "" && e.Resource != q.Resource {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(e.Reason), needle) {
			continue
		}
		count++
	}
	return count, nil
}

// InsertAlert implements Store
func (m *MemoryStore) InsertAlert(ctx context.Context, alert *SecurityAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}

	stored := *alert
	m.alerts = append(m.alerts, &stored)
	return nil
}

// QueryAlerts implements Store
func (m *MemoryStore) QueryAlerts(ctx context.Context, filter AlertFilter) ([]*SecurityAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}

	out := make([]*SecurityAlert, 0)
	for i := len(m.alerts) - 1; i >= 0; i-- {
		a := m.alerts[i]
		if filter.UserID != "" && a.UserID != filter.UserID {
			continue
		}
		if len(filter.AlertTypes) > 0 && !slices.Contains(filter.AlertTypes, a.AlertType) {
			continue
		}
		if len(filter.Severities) > 0 && !slices.Contains(filter.Severities, a.Severity) {
			continue
		}
		if filter.Resolved != nil && a.Resolved != *filter.Resolved {
			continue
		}
		if !inRange(a.Timestamp, filter.StartTime, filter.EndTime) {
			continue
		}
		copied := *a
		out = append(out, &copied)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return page(out, filter.Offset, clampLimit(filter.Limit)), nil
}

// ResolveAlert implements Store
func (m *MemoryStore) ResolveAlert(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}

	for _, a := range m.alerts {
		if a.ID == id && !a.Resolved {
			a.Resolved = true
			a.ResolvedAt = &at
			return nil
		}
	}
	return ErrAlertNotFound
}

// GetUsageMetrics implements Store
func (m *MemoryStore) GetUsageMetrics(ctx context.Context, userID string, date time.Time) (*UsageMetrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}

	stored, ok := m.usage[usageKey(userID, date)]
	if !ok {
		return nil, nil
	}
	return copyUsage(stored), nil
}

// UpsertUsageMetrics implements Store. Inserting an existing key overwrites it.
func (m *MemoryStore) UpsertUsageMetrics(ctx context.Context, metrics *UsageMetrics, exists bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}

	stored := copyUsage(metrics)
	stored.Date = day(metrics.Date)
	m.usage[usageKey(metrics.UserID, metrics.Date)] = stored
	return nil
}

// QueryUsageMetrics implements Store
func (m *MemoryStore) QueryUsageMetrics(ctx context.Context, filter UsageFilter) ([]*UsageMetrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}

	var start, end *time.Time
	if filter.StartTime != nil {
		d := day(*filter.StartTime)
		start = &d
	}
	if filter.EndTime != nil {
		d := day(*filter.EndTime)
		end = &d
	}

	out := make([]*UsageMetrics, 0)
	for _, u := range m.usage {
		if filter.UserID != "" && u.UserID != filter.UserID {
			continue
		}
		if filter.UserType != "" && u.UserType != filter.UserType {
			continue
		}
		if !inRange(u.Date, start, end) {
			continue
		}
		out = append(out, copyUsage(u))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].UserID < out[j].UserID
	})
	return page(out, 0, clampLimit(filter.Limit)), nil
}

// Cleanup implements Store
func (m *MemoryStore) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}

	var removed int64
	logs := m.logs[:0]
	for _, e := range m.logs {
		if e.Timestamp.Before(before) {
			removed++
			continue
		}
		logs = append(logs, e)
	}
	m.logs = logs

	alerts := m.alerts[:0]
	for _, a := range m.alerts {
		if a.Resolved && a.Timestamp.Before(before) {
			removed++
			continue
		}
		alerts = append(alerts, a)
	}
	m.alerts = alerts
	return removed, nil
}

func usageKey(userID string, date time.Time) string {
	return userID + "|" + day(date).Format("2006-01-02")
}

func copyUsage(u *UsageMetrics) *UsageMetrics {
	c := *u
	c.Counters = make(map[string]int64, len(u.Counters))
	for k, v := range u.Counters {
		c.Counters[k] = v
	}
	return &c
}

func inRange(t time.Time, start, end *time.Time) bool {
	if start != nil && t.Before(*start) {
		return false
	}
	if end != nil && t.After(*end) {
		return false
	}
	return true
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return items[:0]
	}
	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}
