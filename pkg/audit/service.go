package audit

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/murmur/pkg/async"
	"github.com/platinummonkey/murmur/pkg/observability"
)

const (
	replayWorkers = 4
	replayTimeout = 5 * time.Second
)

// Service records access decisions, raises security alerts and serves the
// admin read paths. Entries whose durable write fails are kept in a bounded
// in-memory buffer until ReplayFallback succeeds.
type Service struct {
	store    Store
	detector *Detector
	fallback *RingBuffer[*AuditLogEntry]

	now     func() time.Time
	logger  *logrus.Logger
	metrics *observability.Metrics
	onAlert AlertHook
}

// AlertHook is called after a security alert has been stored. It must not block.
type AlertHook func(ctx context.Context, alert *SecurityAlert)

// Option configures a Service
type Option func(*Service)

// WithLogger sets the service logger
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the service metrics
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Service) { s.metrics = metrics }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithAlertHook registers a callback for newly stored alerts
func WithAlertHook(hook AlertHook) Option {
	return func(s *Service) { s.onAlert = hook }
}

// WithFallbackCapacity sets the size of the in-memory fallback buffer
func WithFallbackCapacity(n int) Option {
	return func(s *Service) { s.fallback = NewRingBuffer[*AuditLogEntry](n) }
}

// NewService creates an audit service over store
func NewService(store Store, cfg DetectorConfig, opts ...Option) *Service {
	s := &Service{
		store:    store,
		detector: NewDetector(store, cfg),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logrus.New()
	}
	if s.fallback == nil {
		s.fallback = NewRingBuffer[*AuditLogEntry](DefaultFallbackCapacity)
	}
	return s
}

// Fallback exposes the in-memory buffer of entries that could not be persisted
func (s *Service) Fallback() *RingBuffer[*AuditLogEntry] {
	return s.fallback
}

// FallbackHealth reports degraded while unpersisted entries wait for replay
// and unhealthy once the buffer is full and new entries evict old ones.
func (s *Service) FallbackHealth(context.Context) observability.DependencyStatus {
	n, capacity := s.fallback.Len(), s.fallback.Cap()
	switch {
	case n == 0:
		return observability.DependencyStatus{Status: observability.StatusHealthy}
	case n >= capacity:
		return observability.DependencyStatus{Status: observability.StatusUnhealthy,
			Message: fmt.Sprintf("audit fallback buffer full (%d entries)", n)}
	default:
		return observability.DependencyStatus{Status: observability.StatusDegraded,
			Message: fmt.Sprintf("%d audit entries awaiting replay", n)}
	}
}

func (s *Service) log(ctx context.Context) *logrus.Entry {
	return observability.WithTraceContext(ctx, observability.FromContext(ctx, s.logger))
}

// LogAccess persists one decision and then runs suspicious-activity
// detection for it. Detection failures are logged, never returned. When the
// write fails the entry goes to the fallback buffer and the error is returned.
func (s *Service) LogAccess(ctx context.Context, entry *AuditLogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}

	if err := s.store.InsertLog(ctx, entry); err != nil {
		s.buffer(ctx, entry, err)
		return fmt.Errorf("failed to persist audit entry: %w", err)
	}
	s.metrics.ObserveAuditWrite("store")

	s.detect(ctx, entry)
	return nil
}

// LogPermissionDenial records a denied decision
func (s *Service) LogPermissionDenial(ctx context.Context, entry *AuditLogEntry) error {
	entry.Allowed = false
	return s.LogAccess(ctx, entry)
}

// LogSuccessfulAccess records an allowed decision
func (s *Service) LogSuccessfulAccess(ctx context.Context, entry *AuditLogEntry) error {
	entry.Allowed = true
	return s.LogAccess(ctx, entry)
}

// Record is the fire-and-forget form of LogAccess used on request paths.
// Any failure, including a panic in the store, ends with the entry in the
// fallback buffer.
func (s *Service) Record(ctx context.Context, entry *AuditLogEntry) {
	defer func() {
		if r := recover(); r != nil {
			s.buffer(ctx, entry, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := s.LogAccess(ctx, entry); err != nil {
		s.log(ctx).WithError(err).Debug("audit entry kept in fallback buffer")
	}
}

func (s *Service) buffer(ctx context.Context, entry *AuditLogEntry, cause error) {
	copied := *entry
	evicted := s.fallback.Push(&copied)
	s.metrics.ObserveAuditWrite("fallback")
	s.metrics.SetFallbackBufferSize(s.fallback.Len())

	fields := logrus.Fields{
		"user_id":  entry.UserID,
		"action":   entry.Action,
		"resource": entry.Resource,
		"allowed":  entry.Allowed,
		"buffered": s.fallback.Len(),
	}
	if evicted {
		fields["evicted_oldest"] = true
	}
	s.log(ctx).WithFields(fields).WithError(cause).Warn("audit write failed, entry buffered in memory")
}

func (s *Service) detect(ctx context.Context, entry *AuditLogEntry) {
	defer func() {
		if r := recover(); r != nil {
			s.log(ctx).WithField("panic", r).Error("suspicious activity detection panicked")
		}
	}()

	alerts, err := s.detector.Evaluate(ctx, entry, s.now())
	if err != nil {
		s.log(ctx).WithError(err).WithField("user_id", entry.UserID).Warn("suspicious activity detection failed")
	}
	for _, alert := range alerts {
		if err := s.CreateSecurityAlert(ctx, alert); err != nil {
			s.log(ctx).WithError(err).WithFields(logrus.Fields{
				"user_id":    alert.UserID,
				"alert_type": alert.AlertType,
			}).Error("failed to persist security alert")
		}
	}
}

// CreateSecurityAlert persists one alert. Critical alerts are also written
// to the operational log at Error level before returning.
func (s *Service) CreateSecurityAlert(ctx context.Context, alert *SecurityAlert) error {
	if !alert.Severity.Valid() {
		return fmt.Errorf("invalid alert severity %q", alert.Severity)
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = s.now()
	}
	alert.Resolved = false
	alert.ResolvedAt = nil

	fields := logrus.Fields{
		"alert_id":    alert.ID,
		"user_id":     alert.UserID,
		"alert_type":  alert.AlertType,
		"severity":    alert.Severity,
		"description": alert.Description,
	}
	if alert.Severity == SeverityCritical {
		s.log(ctx).WithFields(fields).Error("critical security alert")
	}

	if err := s.store.InsertAlert(ctx, alert); err != nil {
		return fmt.Errorf("failed to create security alert: %w", err)
	}
	s.metrics.ObserveSecurityAlert(string(alert.AlertType), string(alert.Severity))

	if alert.Severity != SeverityCritical {
		s.log(ctx).WithFields(fields).Warn("security alert raised")
	}
	if s.onAlert != nil {
		s.onAlert(ctx, alert)
	}
	return nil
}

// TrackUsageMetrics adds count to one counter of the user's bundle for
// today. The read and the write are separate statements, so concurrent
// calls for the same user and day can lose increments.
func (s *Service) TrackUsageMetrics(ctx context.Context, userID, userType, actionKey string, count int) error {
	if count <= 0 {
		count = 1
	}
	today := day(s.now())

	current, err := s.store.GetUsageMetrics(ctx, userID, today)
	if err != nil {
		return fmt.Errorf("failed to read usage metrics: %w", err)
	}

	exists := current != nil
	if !exists {
		current = &UsageMetrics{UserID: userID, Date: today, Counters: make(map[string]int64)}
	}
	if current.Counters == nil {
		current.Counters = make(map[string]int64)
	}
	current.UserType = userType
	current.Counters[actionKey] += int64(count)

	if err := s.store.UpsertUsageMetrics(ctx, current, exists); err != nil {
		return fmt.Errorf("failed to write usage metrics: %w", err)
	}
	return nil
}

// GetAuditLogs returns matching entries newest first, or an empty slice if
// the query fails
func (s *Service) GetAuditLogs(ctx context.Context, filter LogFilter) []*AuditLogEntry {
	entries, err := s.store.QueryLogs(ctx, filter)
	if err != nil {
		s.log(ctx).WithError(err).Error("failed to query audit logs")
		return []*AuditLogEntry{}
	}
	return entries
}

// GetSecurityAlerts returns matching alerts newest first, or an empty slice
// if the query fails
func (s *Service) GetSecurityAlerts(ctx context.Context, filter AlertFilter) []*SecurityAlert {
	alerts, err := s.store.QueryAlerts(ctx, filter)
	if err != nil {
		s.log(ctx).WithError(err).Error("failed to query security alerts")
		return []*SecurityAlert{}
	}
	return alerts
}

// GetUsageMetrics returns matching usage bundles, or an empty slice if the
// query fails
func (s *Service) GetUsageMetrics(ctx context.Context, filter UsageFilter) []*UsageMetrics {
	metrics, err := s.store.QueryUsageMetrics(ctx, filter)
	if err != nil {
		s.log(ctx).WithError(err).Error("failed to query usage metrics")
		return []*UsageMetrics{}
	}
	return metrics
}

// ResolveSecurityAlert marks an alert resolved. Resolving twice returns
// ErrAlertNotFound.
func (s *Service) ResolveSecurityAlert(ctx context.Context, id string) error {
	if err := s.store.ResolveAlert(ctx, id, s.now()); err != nil {
		if errors.Is(err, ErrAlertNotFound) {
			return err
		}
		return fmt.Errorf("failed to resolve security alert %s: %w", id, err)
	}
	s.log(ctx).WithField("alert_id", id).Info("security alert resolved")
	return nil
}

// Cleanup removes log entries and resolved alerts older than retention
func (s *Service) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention)
	n, err := s.store.Cleanup(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit cleanup failed: %w", err)
	}
	s.log(ctx).WithFields(logrus.Fields{
		"removed": n,
		"cutoff":  cutoff,
	}).Info("audit retention cleanup complete")
	return n, nil
}

type replayItem struct {
	entry *AuditLogEntry
	done  atomic.Bool
}

// ReplayFallback writes buffered entries back to the store. Entries that
// still fail are returned to the buffer in their original order. It returns
// the number of entries persisted.
func (s *Service) ReplayFallback(ctx context.Context) (int, error) {
	drained := s.fallback.Drain()
	if len(drained) == 0 {
		return 0, nil
	}

	items := make([]*replayItem, len(drained))
	for i, e := range drained {
		items[i] = &replayItem{entry: e}
	}

	errs := async.Batch(ctx, items, replayWorkers, "audit-replay", replayTimeout,
		func(ctx context.Context, item *replayItem) error {
			if err := s.store.InsertLog(ctx, item.entry); err != nil {
				return err
			}
			item.done.Store(true)
			return nil
		})

	replayed := 0
	for _, item := range items {
		if item.done.Load() {
			replayed++
			continue
		}
		s.fallback.Push(item.entry)
	}
	s.metrics.SetFallbackBufferSize(s.fallback.Len())

	s.log(ctx).WithFields(logrus.Fields{
		"replayed":  replayed,
		"remaining": s.fallback.Len(),
	}).Info("audit fallback replay finished")

	if len(errs) > 0 {
		return replayed, fmt.Errorf("audit replay incomplete: %w", errors.Join(errs...))
	}
	return replayed, nil
}
