// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tickets manages the ticket resource: CRUD, comments, and the
// ownership-scoped listing used by non-privileged callers.
package tickets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sentineldesk/sentineldesk/internal/models"
)

// Service errors.
var (
	// ErrNotFound is returned when the referenced ticket does not exist.
	ErrNotFound = errors.New("ticket not found")

	// ErrInvalidInput is returned when a create or update carries invalid
	// field values.
	ErrInvalidInput = errors.New("invalid ticket input")
)

// Store is the persistence boundary for tickets and their comments.
type Store interface {
	Create(ctx context.Context, ticket *models.Ticket) error
	Get(ctx context.Context, id int64) (*models.Ticket, error)
	List(ctx context.Context) ([]models.Ticket, error)
	ListByOwner(ctx context.Context, ownerSubject string) ([]models.Ticket, error)
	Update(ctx context.Context, ticket *models.Ticket) error
	Delete(ctx context.Context, id int64) error
	AddComment(ctx context.Context, comment *models.Comment) error
	Comments(ctx context.Context, ticketID int64) ([]models.Comment, error)
}

// Update carries the mutable ticket fields. Nil pointers leave the field
// unchanged.
type Update struct {
	Title  *string
	Body   *string
	Status *string
}

// Service implements ticket operations over a Store.
type Service struct {
	store Store
}

// NewService creates the ticket service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Create opens a new ticket owned by the given subject.
func (s *Service) Create(ctx context.Context, ownerSubject, title, body string) (*models.Ticket, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}

	ticket := &models.Ticket{
		Title:        title,
		Body:         body,
		Status:       models.TicketStatusOpen,
		OwnerSubject: ownerSubject,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.Create(ctx, ticket); err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}
	return ticket, nil
}

// Get returns the ticket, or ErrNotFound.
func (s *Service) Get(ctx context.Context, id int64) (*models.Ticket, error) {
	return s.store.Get(ctx, id)
}

// ListFor returns the tickets visible to a caller: privileged callers see
// everything, others see only tickets they own.
func (s *Service) ListFor(ctx context.Context, subject string, privileged bool) ([]models.Ticket, error) {
	if privileged {
		return s.store.List(ctx)
	}
	return s.store.ListByOwner(ctx, subject)
}

// Apply mutates the ticket with the given field updates.
func (s *Service) Apply(ctx context.Context, ticket *models.Ticket, update Update) (*models.Ticket, error) {
	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: title cannot be empty", ErrInvalidInput)
		}
		ticket.Title = title
	}
	if update.Body != nil {
		ticket.Body = *update.Body
	}
	if update.Status != nil {
		if !models.IsValidTicketStatus(*update.Status) {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *update.Status)
		}
		ticket.Status = *update.Status
	}

	if err := s.store.Update(ctx, ticket); err != nil {
		return nil, fmt.Errorf("update ticket: %w", err)
	}
	return ticket, nil
}

// Delete removes the ticket and its comments.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.store.Delete(ctx, id)
}

// Comment appends a comment to the ticket.
func (s *Service) Comment(ctx context.Context, ticketID int64, authorSubject, authorName, body string) (*models.Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("%w: comment body is required", ErrInvalidInput)
	}
	if _, err := s.store.Get(ctx, ticketID); err != nil {
		return nil, err
	}

	comment := &models.Comment{
		TicketID:      ticketID,
		AuthorSubject: authorSubject,
		AuthorName:    authorName,
		Body:          body,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.AddComment(ctx, comment); err != nil {
		return nil, fmt.Errorf("add comment: %w", err)
	}
	return comment, nil
}

// Comments lists a ticket's comments, oldest first.
func (s *Service) Comments(ctx context.Context, ticketID int64) ([]models.Comment, error) {
	if _, err := s.store.Get(ctx, ticketID); err != nil {
		return nil, err
	}
	return s.store.Comments(ctx, ticketID)
}
