package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store on PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store and makes sure its tables exist
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	s := &PostgresStore{db: db}
	if err := s.ensureTables(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit tables: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) ensureTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		user_id TEXT,
		action VARCHAR(100) NOT NULL,
		resource VARCHAR(100) NOT NULL,
		resource_id TEXT,
		allowed BOOLEAN NOT NULL,
		reason TEXT,
		metadata JSONB,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		user_agent TEXT,
		ip_address VARCHAR(45),
		session_id VARCHAR(100)
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_user_time ON audit_logs(user_id, timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_denied ON audit_logs(user_id, timestamp) WHERE allowed = FALSE;

	CREATE TABLE IF NOT EXISTS security_alerts (
		id UUID PRIMARY KEY,
		user_id TEXT NOT NULL,
		alert_type VARCHAR(50) NOT NULL,
		severity VARCHAR(20) NOT NULL,
		description TEXT NOT NULL,
		metadata JSONB,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		resolved BOOLEAN NOT NULL DEFAULT FALSE,
		resolved_at TIMESTAMP WITH TIME ZONE
	);

	CREATE INDEX IF NOT EXISTS idx_security_alerts_time ON security_alerts(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_security_alerts_open ON security_alerts(severity) WHERE resolved = FALSE;

	CREATE TABLE IF NOT EXISTS usage_metrics (
		user_id TEXT NOT NULL,
		user_type VARCHAR(20) NOT NULL,
		date DATE NOT NULL,
		counters JSONB NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		PRIMARY KEY (user_id, date)
	);
	`

	_, err := s.db.Exec(query)
	return err
}

// InsertLog implements Store
func (s *PostgresStore) InsertLog(ctx context.Context, entry *AuditLogEntry) error {
	metadata, err := marshalJSON(entry.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_logs (
			user_id, action, resource, resource_id, allowed, reason,
			metadata, timestamp, user_agent, ip_address, session_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	err = s.db.QueryRowContext(ctx, query,
		nullString(entry.UserID), entry.Action, entry.Resource, nullString(entry.ResourceID),
		entry.Allowed, nullString(entry.Reason), metadata, entry.Timestamp,
		nullString(entry.UserAgent), nullString(entry.IP), nullString(entry.SessionID),
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// QueryLogs implements Store
func (s *PostgresStore) QueryLogs(ctx context.Context, filter LogFilter) ([]*AuditLogEntry, error) {
	query := `
		SELECT
			id, user_id, action, resource, resource_id, allowed, reason,
			metadata, timestamp, user_agent, ip_address, session_id
		FROM audit_logs
		WHERE 1=1
	`

	args := []interface{}{}
	argCount := 1

	if len(filter.UserIDs) > 0 {
		query += fmt.Sprintf(" AND user_id = ANY($%d)", argCount)
		args = append(args, pq.Array(filter.UserIDs))
		argCount++
	}

	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argCount)
		args = append(args, filter.Action)
		argCount++
	}

	if filter.Resource != "" {
		query += fmt.Sprintf(" AND resource = $%d", argCount)
		args = append(args, filter.Resource)
		argCount++
	}

	if filter.Allowed != nil {
		query += fmt.Sprintf(" AND allowed = $%d", argCount)
		args = append(args, *filter.Allowed)
		argCount++
	}

	if filter.StartTime != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *filter.StartTime)
		argCount++
	}

	if filter.EndTime != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *filter.EndTime)
		argCount++
	}

	query += fmt.Sprintf(" ORDER BY timestamp DESC, id DESC LIMIT $%d", argCount)
	args = append(args, clampLimit(filter.Limit))
	argCount++

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	entries := make([]*AuditLogEntry, 0)
	for rows.Next() {
		var (
			entry                                                AuditLogEntry
			userID, resourceID, reason, userAgent, ip, sessionID sql.NullString
			metadata                                             []byte
		)
		err := rows.Scan(
			&entry.ID, &userID, &entry.Action, &entry.Resource, &resourceID, &entry.Allowed, &reason,
			&metadata, &entry.Timestamp, &userAgent, &ip, &sessionID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		entry.UserID = userID.String
		entry.ResourceID = resourceID.String
		entry.Reason = reason.String
		entry.UserAgent = userAgent.String
		entry.IP = ip.String
		entry.SessionID = sessionID.String
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}
	return entries, nil
}

// CountDenials implements Store
func (s *PostgresStore) CountDenials(ctx context.Context, q DenialQuery) (int, error) {
	query := `SELECT COUNT(*) FROM audit_logs WHERE user_id = $1 AND allowed = FALSE AND timestamp >= $2`
	args := []interface{}{q.UserID, q.Since}
	argCount := 3

	if q.Resource != "" {
		query += fmt.Sprintf(" AND resource = $%d", argCount)
		args = append(args, q.Resource)
		argCount++
	}

	if q.ReasonContains != "" {
		query += fmt.Sprintf(" AND reason ILIKE $%d", argCount)
		args = append(args, "%"+escapeLike(q.ReasonContains)+"%")
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count denials: %w", err)
	}
	return count, nil
}

// InsertAlert implements Store
func (s *PostgresStore) InsertAlert(ctx context.Context, alert *SecurityAlert) error {
	metadata, err := marshalJSON(alert.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO security_alerts (
			id, user_id, alert_type, severity, description, metadata, timestamp, resolved, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.db.ExecContext(ctx, query,
		alert.ID, alert.UserID, string(alert.AlertType), string(alert.Severity), alert.Description,
		metadata, alert.Timestamp, alert.Resolved, alert.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert security alert: %w", err)
	}
	return nil
}

// QueryAlerts implements Store
func (s *PostgresStore) QueryAlerts(ctx context.Context, filter AlertFilter) ([]*SecurityAlert, error) {
	query := `
		SELECT id, user_id, alert_type, severity, description, metadata, timestamp, resolved, resolved_at
		FROM security_alerts
		WHERE 1=1
	`

	args := []interface{}{}
	argCount := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argCount)
		args = append(args, filter.UserID)
		argCount++
	}

	if len(filter.AlertTypes) > 0 {
		types := make([]string, len(filter.AlertTypes))
		for i, t := range filter.AlertTypes {
			types[i] = string(t)
		}
		query += fmt.Sprintf(" AND alert_type = ANY($%d)", argCount)
		args = append(args, pq.Array(types))
		argCount++
	}

	if len(filter.Severities) > 0 {
		severities := make([]string, len(filter.Severities))
		for i, sev := range filter.Severities {
			severities[i] = string(sev)
		}
		query += fmt.Sprintf(" AND severity = ANY($%d)", argCount)
		args = append(args, pq.Array(severities))
		argCount++
	}

	if filter.Resolved != nil {
		query += fmt.Sprintf(" AND resolved = $%d", argCount)
		args = append(args, *filter.Resolved)
		argCount++
	}

	if filter.StartTime != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *filter.StartTime)
		argCount++
	}

	if filter.EndTime != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *filter.EndTime)
		argCount++
	}

	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", argCount)
	args = append(args, clampLimit(filter.Limit))
	argCount++

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query security alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]*SecurityAlert, 0)
	for rows.Next() {
		var (
			alert      SecurityAlert
			metadata   []byte
			resolvedAt sql.NullTime
		)
		err := rows.Scan(
			&alert.ID, &alert.UserID, &alert.AlertType, &alert.Severity, &alert.Description,
			&metadata, &alert.Timestamp, &alert.Resolved, &resolvedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security alert: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &alert.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		if resolvedAt.Valid {
			t := resolvedAt.Time
			alert.ResolvedAt = &t
		}
		alerts = append(alerts, &alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security alerts: %w", err)
	}
	return alerts, nil
}

// ResolveAlert implements Store
func (s *PostgresStore) ResolveAlert(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE security_alerts SET resolved = TRUE, resolved_at = $2 WHERE id = $1 AND resolved = FALSE`,
		id, at)
	if err != nil {
		return fmt.Errorf("failed to resolve security alert: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to resolve security alert: %w", err)
	}
	if n == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// GetUsageMetrics implements Store
func (s *PostgresStore) GetUsageMetrics(ctx context.Context, userID string, date time.Time) (*UsageMetrics, error) {
	var (
		m        UsageMetrics
		counters []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, user_type, date, counters FROM usage_metrics WHERE user_id = $1 AND date = $2`,
		userID, day(date),
	).Scan(&m.UserID, &m.UserType, &m.Date, &counters)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage metrics: %w", err)
	}

	if err := json.Unmarshal(counters, &m.Counters); err != nil {
		return nil, fmt.Errorf("failed to unmarshal counters: %w", err)
	}
	return &m, nil
}

// UpsertUsageMetrics implements Store
func (s *PostgresStore) UpsertUsageMetrics(ctx context.Context, m *UsageMetrics, exists bool) error {
	counters, err := json.Marshal(m.Counters)
	if err != nil {
		return fmt.Errorf("failed to marshal counters: %w", err)
	}

	if exists {
		_, err = s.db.ExecContext(ctx,
			`UPDATE usage_metrics SET user_type = $3, counters = $4, updated_at = NOW() WHERE user_id = $1 AND date = $2`,
			m.UserID, day(m.Date), m.UserType, counters)
	} else {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO usage_metrics (user_id, date, user_type, counters) VALUES ($1, $2, $3, $4)`,
			m.UserID, day(m.Date), m.UserType, counters)
	}
	if err != nil {
		return fmt.Errorf("failed to write usage metrics: %w", err)
	}
	return nil
}

// QueryUsageMetrics implements Store
func (s *PostgresStore) QueryUsageMetrics(ctx context.Context, filter UsageFilter) ([]*UsageMetrics, error) {
	query := `SELECT user_id, user_type, date, counters FROM usage_metrics WHERE 1=1`
	args := []interface{}{}
	argCount := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argCount)
		args = append(args, filter.UserID)
		argCount++
	}

	if filter.UserType != "" {
		query += fmt.Sprintf(" AND user_type = $%d", argCount)
		args = append(args, filter.UserType)
		argCount++
	}

	if filter.StartTime != nil {
		query += fmt.Sprintf(" AND date >= $%d", argCount)
		args = append(args, day(*filter.StartTime))
		argCount++
	}

	if filter.EndTime != nil {
		query += fmt.Sprintf(" AND date <= $%d", argCount)
		args = append(args, day(*filter.EndTime))
		argCount++
	}

	query += fmt.Sprintf(" ORDER BY date DESC, user_id LIMIT $%d", argCount)
	args = append(args, clampLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage metrics: %w", err)
	}
	defer rows.Close()

	out := make([]*UsageMetrics, 0)
	for rows.Next() {
		var (
			m        UsageMetrics
			counters []byte
		)
		if err := rows.Scan(&m.UserID, &m.UserType, &m.Date, &counters); err != nil {
			return nil, fmt.Errorf("failed to scan usage metrics: %w", err)
		}
		if err := json.Unmarshal(counters, &m.Counters); err != nil {
			return nil, fmt.Errorf("failed to unmarshal counters: %w", err)
		}
		out = append(out, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage metrics: %w", err)
	}
	return out, nil
}

// Cleanup implements Store
func (s *PostgresStore) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin cleanup: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	logs, err := tx.ExecContext(ctx, `DELETE FROM audit_logs WHERE timestamp < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit logs: %w", err)
	}
	alerts, err := tx.ExecContext(ctx, `DELETE FROM security_alerts WHERE resolved = TRUE AND timestamp < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete security alerts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit cleanup: %w", err)
	}

	nLogs, _ := logs.RowsAffected()
	nAlerts, _ := alerts.RowsAffected()
	return nLogs + nAlerts, nil
}

func marshalJSON(v map[string]interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return data, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
