// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package models defines shared domain types for tickets and comments.
package models

import (
	"time"
)

// Ticket status values.
const (
	TicketStatusOpen       = "open"
	TicketStatusInProgress = "in_progress"
	TicketStatusResolved   = "resolved"
)

// ValidTicketStatuses contains all valid ticket status values.
var ValidTicketStatuses = []string{
	TicketStatusOpen,
	TicketStatusInProgress,
	TicketStatusResolved,
}

// IsValidTicketStatus checks whether a status string is one of the
// enumerated ticket statuses.
func IsValidTicketStatus(status string) bool {
	for _, s := range ValidTicketStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Ticket is a support or incident ticket. Every ticket is owned by exactly
// one subject (the creator, or the escalating admin for tickets created from
// alerts).
type Ticket struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	Status       string    `json:"status"`
	OwnerSubject string    `json:"owner_subject"`
	CreatedAt    time.Time `json:"created_at"`
}

// Comment is a note attached to a ticket.
type Comment struct {
	ID            int64     `json:"id"`
	TicketID      int64     `json:"ticket_id"`
	AuthorSubject string    `json:"author_subject"`
	AuthorName    string    `json:"author_name,omitempty"`
	Body          string    `json:"body"`
	CreatedAt     time.Time `json:"created_at"`
}
