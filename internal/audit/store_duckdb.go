// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sentineldesk/sentineldesk/internal/logging"
)

// DuckDBStore implements Store using DuckDB for durable audit logging.
// A sequence provides the monotonic ID; the write mutex keeps the
// nextval/insert pair atomic so IDs are handed out in append order.
type DuckDBStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewDuckDBStore creates a DuckDB-backed audit store. Call CreateTable
// during database initialization before first use.
func NewDuckDBStore(db *sql.DB) *DuckDBStore {
	return &DuckDBStore{db: db}
}

// CreateTable creates the audit_events table and its ID sequence.
func (s *DuckDBStore) CreateTable(ctx context.Context) error {
	statements := []string{
		`CREATE SEQUENCE IF NOT EXISTS audit_events_id_seq`,
		`CREATE TABLE IF NOT EXISTS audit_events (
			id BIGINT PRIMARY KEY DEFAULT nextval('audit_events_id_seq'),
			ts TIMESTAMPTZ NOT NULL,
			actor TEXT NOT NULL,
			actor_name TEXT,
			source_ip TEXT,
			action TEXT NOT NULL,
			target TEXT,
			result TEXT NOT NULL,
			reason TEXT,
			metadata JSON,
			request_id TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_events(ts DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_events(actor)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_events(action)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_source_ip ON audit_events(source_ip)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute audit schema statement: %w", err)
		}
	}
	logging.Debug().Msg("audit_events table created/verified")
	return nil
}

// Append inserts the event and populates its assigned ID.
func (s *DuckDBStore) Append(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var metadata interface{}
	if len(event.Metadata) > 0 {
		metadata = string(event.Metadata)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO audit_events
			(ts, actor, actor_name, source_ip, action, target, result, reason, metadata, request_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		event.Timestamp, event.Actor, nullable(event.ActorName), nullable(event.SourceIP),
		event.Action, nullable(event.Target), string(event.Result), nullable(event.Reason),
		metadata, nullable(event.RequestID),
	)
	if err := row.Scan(&event.ID); err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Recent returns up to limit matching events ordered by ID descending.
func (s *DuckDBStore) Recent(ctx context.Context, limit int, filter Filter) ([]Event, error) {
	where, args := buildWhere(&filter)
	query := `
		SELECT id, ts, actor, actor_name, source_ip, action, target, result, reason, metadata, request_id
		FROM audit_events` + where + `
		ORDER BY id DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}
	return events, nil
}

// Count returns the number of matching events.
func (s *DuckDBStore) Count(ctx context.Context, filter Filter) (int64, error) {
	where, args := buildWhere(&filter)
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_events"+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit events: %w", err)
	}
	return count, nil
}

// DistinctSourceIPs returns distinct non-null source IPs for an actor.
func (s *DuckDBStore) DistinctSourceIPs(ctx context.Context, actor string, since, until time.Time) ([]string, error) {
	query := `
		SELECT DISTINCT source_ip FROM audit_events
		WHERE actor = ? AND source_ip IS NOT NULL AND ts >= ?`
	args := []interface{}{actor, since}
	if !until.IsZero() {
		query += " AND ts <= ?"
		args = append(args, until)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query distinct source IPs: %w", err)
	}
	defer rows.Close()

	var ips []string
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, fmt.Errorf("failed to scan source IP: %w", err)
		}
		ips = append(ips, ip)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating source IPs: %w", err)
	}
	return ips, nil
}

// DeleteBefore removes all events preceding the given ID.
func (s *DuckDBStore) DeleteBefore(ctx context.Context, id int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM audit_events WHERE id < ?", id)
	if err != nil {
		return 0, fmt.Errorf("failed to clear audit events: %w", err)
	}
	return rowsAffected(result), nil
}

// DeleteOlderThan removes events older than the cutoff.
func (s *DuckDBStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM audit_events WHERE ts < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired audit events: %w", err)
	}
	return rowsAffected(result), nil
}

// buildWhere converts a Filter to a WHERE clause and its arguments.
func buildWhere(filter *Filter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if len(filter.Actions) > 0 {
		placeholders := make([]string, len(filter.Actions))
		for i, action := range filter.Actions {
			placeholders[i] = "?"
			args = append(args, action)
		}
		conditions = append(conditions, fmt.Sprintf("action IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Actor != "" {
		conditions = append(conditions, "actor = ?")
		args = append(args, filter.Actor)
	}
	if filter.SourceIP != "" {
		conditions = append(conditions, "source_ip = ?")
		args = append(args, filter.SourceIP)
	}
	if len(filter.Results) > 0 {
		placeholders := make([]string, len(filter.Results))
		for i, result := range filter.Results {
			placeholders[i] = "?"
			args = append(args, string(result))
		}
		conditions = append(conditions, fmt.Sprintf("result IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.TargetContains != "" {
		conditions = append(conditions, "target LIKE ?")
		args = append(args, "%"+filter.TargetContains+"%")
	}
	if filter.Since != nil {
		conditions = append(conditions, "ts >= ?")
		args = append(args, *filter.Since)
	}
	if filter.Until != nil {
		conditions = append(conditions, "ts <= ?")
		args = append(args, *filter.Until)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var event Event
	var actorName, sourceIP, target, reason, metadata, requestID sql.NullString
	var result string

	err := rows.Scan(&event.ID, &event.Timestamp, &event.Actor, &actorName, &sourceIP,
		&event.Action, &target, &result, &reason, &metadata, &requestID)
	if err != nil {
		return Event{}, fmt.Errorf("failed to scan audit event: %w", err)
	}

	event.ActorName = actorName.String
	event.SourceIP = sourceIP.String
	event.Target = target.String
	event.Result = Result(result)
	event.Reason = reason.String
	event.RequestID = requestID.String
	if metadata.Valid && metadata.String != "" {
		event.Metadata = []byte(metadata.String)
	}
	return event, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func rowsAffected(result sql.Result) int64 {
	n, err := result.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
