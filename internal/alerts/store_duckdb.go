// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package alerts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// DuckDBStore implements Store using DuckDB.
type DuckDBStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewDuckDBStore creates a DuckDB-backed alert store.
func NewDuckDBStore(db *sql.DB) *DuckDBStore {
	return &DuckDBStore{db: db}
}

// CreateTable creates the alerts table.
func (s *DuckDBStore) CreateTable(ctx context.Context) error {
	statements := []string{
		`CREATE SEQUENCE IF NOT EXISTS alerts_id_seq`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id BIGINT PRIMARY KEY DEFAULT nextval('alerts_id_seq'),
			created_at TIMESTAMPTZ NOT NULL,
			rule_id TEXT NOT NULL,
			severity TEXT NOT NULL,
			context JSON,
			dedup_key TEXT NOT NULL,
			trigger_event_id BIGINT,
			triage_status TEXT NOT NULL,
			ticket_id BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_dedup ON alerts(rule_id, dedup_key)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_triage ON alerts(triage_status)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute alert schema statement: %w", err)
		}
	}
	return nil
}

func (s *DuckDBStore) Create(ctx context.Context, alert *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var contextJSON interface{}
	if len(alert.Context) > 0 {
		contextJSON = string(alert.Context)
	}
	var triggerEventID interface{}
	if alert.TriggerEventID != 0 {
		triggerEventID = alert.TriggerEventID
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO alerts
			(created_at, rule_id, severity, context, dedup_key, trigger_event_id, triage_status, ticket_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		alert.CreatedAt, alert.RuleID, string(alert.Severity), contextJSON,
		alert.DedupKey, triggerEventID, alert.TriageStatus, alert.TicketID)
	if err := row.Scan(&alert.ID); err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

func (s *DuckDBStore) Get(ctx context.Context, id int64) (*Alert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, rule_id, severity, context, dedup_key, trigger_event_id, triage_status, ticket_id
		FROM alerts WHERE id = ?`, id)
	return scanAlertRow(row)
}

func (s *DuckDBStore) List(ctx context.Context, triageStatus string) ([]Alert, error) {
	query := `
		SELECT id, created_at, rule_id, severity, context, dedup_key, trigger_event_id, triage_status, ticket_id
		FROM alerts`
	var args []interface{}
	if triageStatus != "" {
		query += " WHERE triage_status = ?"
		args = append(args, triageStatus)
	}
	query += " ORDER BY id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}
	return alerts, nil
}

func (s *DuckDBStore) FindByDedupKey(ctx context.Context, ruleID, dedupKey string) (*Alert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, rule_id, severity, context, dedup_key, trigger_event_id, triage_status, ticket_id
		FROM alerts WHERE rule_id = ? AND dedup_key = ?
		ORDER BY id DESC LIMIT 1`, ruleID, dedupKey)
	return scanAlertRow(row)
}

func (s *DuckDBStore) Update(ctx context.Context, alert *Alert) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET triage_status = ?, ticket_id = ? WHERE id = ?`,
		alert.TriageStatus, alert.TicketID, alert.ID)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *DuckDBStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM alerts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete alert: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *DuckDBStore) DeleteAll(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM alerts")
	if err != nil {
		return 0, fmt.Errorf("failed to clear alerts: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlertRow(row *sql.Row) (*Alert, error) {
	alert, err := scanAlertFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

func scanAlert(rows *sql.Rows) (Alert, error) {
	return scanAlertFrom(rows)
}

func scanAlertFrom(scanner rowScanner) (Alert, error) {
	var alert Alert
	var contextJSON sql.NullString
	var triggerEventID, ticketID sql.NullInt64
	var severity string

	err := scanner.Scan(&alert.ID, &alert.CreatedAt, &alert.RuleID, &severity,
		&contextJSON, &alert.DedupKey, &triggerEventID, &alert.TriageStatus, &ticketID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Alert{}, err
		}
		return Alert{}, fmt.Errorf("failed to scan alert: %w", err)
	}

	alert.Severity = Severity(severity)
	if contextJSON.Valid && contextJSON.String != "" {
		alert.Context = []byte(contextJSON.String)
	}
	if triggerEventID.Valid {
		alert.TriggerEventID = triggerEventID.Int64
	}
	if ticketID.Valid {
		id := ticketID.Int64
		alert.TicketID = &id
	}
	return alert, nil
}
