// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package tickets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/sentineldesk/sentineldesk/internal/models"
)

// DuckDBStore implements Store using DuckDB.
type DuckDBStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewDuckDBStore creates a DuckDB-backed ticket store.
func NewDuckDBStore(db *sql.DB) *DuckDBStore {
	return &DuckDBStore{db: db}
}

// CreateTable creates the tickets and ticket_comments tables.
func (s *DuckDBStore) CreateTable(ctx context.Context) error {
	statements := []string{
		`CREATE SEQUENCE IF NOT EXISTS tickets_id_seq`,
		`CREATE SEQUENCE IF NOT EXISTS ticket_comments_id_seq`,
		`CREATE TABLE IF NOT EXISTS tickets (
			id BIGINT PRIMARY KEY DEFAULT nextval('tickets_id_seq'),
			title TEXT NOT NULL,
			body TEXT,
			status TEXT NOT NULL,
			owner_subject TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ticket_comments (
			id BIGINT PRIMARY KEY DEFAULT nextval('ticket_comments_id_seq'),
			ticket_id BIGINT NOT NULL,
			author_subject TEXT NOT NULL,
			author_name TEXT,
			body TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_owner ON tickets(owner_subject)`,
		`CREATE INDEX IF NOT EXISTS idx_comments_ticket ON ticket_comments(ticket_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute ticket schema statement: %w", err)
		}
	}
	return nil
}

func (s *DuckDBStore) Create(ctx context.Context, ticket *models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO tickets (title, body, status, owner_subject, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`,
		ticket.Title, ticket.Body, ticket.Status, ticket.OwnerSubject, ticket.CreatedAt)
	if err := row.Scan(&ticket.ID); err != nil {
		return fmt.Errorf("failed to insert ticket: %w", err)
	}
	return nil
}

func (s *DuckDBStore) Get(ctx context.Context, id int64) (*models.Ticket, error) {
	var ticket models.Ticket
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, body, status, owner_subject, created_at
		FROM tickets WHERE id = ?`, id).
		Scan(&ticket.ID, &ticket.Title, &ticket.Body, &ticket.Status,
			&ticket.OwnerSubject, &ticket.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query ticket: %w", err)
	}
	return &ticket, nil
}

func (s *DuckDBStore) List(ctx context.Context) ([]models.Ticket, error) {
	return s.queryTickets(ctx, `
		SELECT id, title, body, status, owner_subject, created_at
		FROM tickets ORDER BY id DESC`)
}

func (s *DuckDBStore) ListByOwner(ctx context.Context, ownerSubject string) ([]models.Ticket, error) {
	return s.queryTickets(ctx, `
		SELECT id, title, body, status, owner_subject, created_at
		FROM tickets WHERE owner_subject = ? ORDER BY id DESC`, ownerSubject)
}

func (s *DuckDBStore) queryTickets(ctx context.Context, query string, args ...interface{}) ([]models.Ticket, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		var ticket models.Ticket
		if err := rows.Scan(&ticket.ID, &ticket.Title, &ticket.Body, &ticket.Status,
			&ticket.OwnerSubject, &ticket.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tickets: %w", err)
	}
	return tickets, nil
}

func (s *DuckDBStore) Update(ctx context.Context, ticket *models.Ticket) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tickets SET title = ?, body = ?, status = ? WHERE id = ?`,
		ticket.Title, ticket.Body, ticket.Status, ticket.ID)
	if err != nil {
		return fmt.Errorf("failed to update ticket: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *DuckDBStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM tickets WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete ticket: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM ticket_comments WHERE ticket_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete ticket comments: %w", err)
	}
	return nil
}

func (s *DuckDBStore) AddComment(ctx context.Context, comment *models.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO ticket_comments (ticket_id, author_subject, author_name, body, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`,
		comment.TicketID, comment.AuthorSubject, comment.AuthorName,
		comment.Body, comment.CreatedAt)
	if err := row.Scan(&comment.ID); err != nil {
		return fmt.Errorf("failed to insert comment: %w", err)
	}
	return nil
}

func (s *DuckDBStore) Comments(ctx context.Context, ticketID int64) ([]models.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ticket_id, author_subject, author_name, body, created_at
		FROM ticket_comments WHERE ticket_id = ? ORDER BY id ASC`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to query comments: %w", err)
	}
	defer rows.Close()

	var comments []models.Comment
	for rows.Next() {
		var comment models.Comment
		if err := rows.Scan(&comment.ID, &comment.TicketID, &comment.AuthorSubject,
			&comment.AuthorName, &comment.Body, &comment.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		comments = append(comments, comment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating comments: %w", err)
	}
	return comments, nil
}
