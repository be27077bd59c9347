// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package tickets

import (
	"context"
	"sort"
	"sync"

	"github.com/sentineldesk/sentineldesk/internal/models"
)

// MemoryStore implements Store with in-memory storage for development and
// tests.
type MemoryStore struct {
	mu            sync.RWMutex
	tickets       map[int64]models.Ticket
	comments      map[int64][]models.Comment
	nextTicketID  int64
	nextCommentID int64
}

// NewMemoryStore creates an empty in-memory ticket store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets:       map[int64]models.Ticket{},
		comments:      map[int64][]models.Comment{},
		nextTicketID:  1,
		nextCommentID: 1,
	}
}

func (s *MemoryStore) Create(_ context.Context, ticket *models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket.ID = s.nextTicketID
	s.nextTicketID++
	s.tickets[ticket.ID] = *ticket
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id int64) (*models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ticket, ok := s.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &ticket, nil
}

func (s *MemoryStore) List(_ context.Context) ([]models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked(func(models.Ticket) bool { return true }), nil
}

func (s *MemoryStore) ListByOwner(_ context.Context, ownerSubject string) ([]models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked(func(t models.Ticket) bool { return t.OwnerSubject == ownerSubject }), nil
}

// sortedLocked returns matching tickets newest first. Caller holds the lock.
func (s *MemoryStore) sortedLocked(match func(models.Ticket) bool) []models.Ticket {
	var out []models.Ticket
	for _, ticket := range s.tickets {
		if match(ticket) {
			out = append(out, ticket)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (s *MemoryStore) Update(_ context.Context, ticket *models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tickets[ticket.ID]; !ok {
		return ErrNotFound
	}
	s.tickets[ticket.ID] = *ticket
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tickets[id]; !ok {
		return ErrNotFound
	}
	delete(s.tickets, id)
	delete(s.comments, id)
	return nil
}

func (s *MemoryStore) AddComment(_ context.Context, comment *models.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	comment.ID = s.nextCommentID
	s.nextCommentID++
	s.comments[comment.TicketID] = append(s.comments[comment.TicketID], *comment)
	return nil
}

func (s *MemoryStore) Comments(_ context.Context, ticketID int64) ([]models.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	comments := s.comments[ticketID]
	out := make([]models.Comment, len(comments))
	copy(out, comments)
	return out, nil
}
