// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package alerts holds detection alerts and their triage lifecycle,
// including escalation into incident tickets.
package alerts

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
)

// Severity of an alert.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Triage statuses. Transitions are unrestricted: an analyst may move an
// alert between any two statuses, including reopening a false positive.
const (
	TriageNew           = "new"
	TriageInvestigating = "investigating"
	TriageResolved      = "resolved"
	TriageFalsePositive = "false_positive"
)

// ValidTriageStatuses enumerates the accepted triage statuses.
var ValidTriageStatuses = []string{TriageNew, TriageInvestigating, TriageResolved, TriageFalsePositive}

// IsValidTriageStatus reports whether the status is one of the known set.
func IsValidTriageStatus(status string) bool {
	for _, s := range ValidTriageStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Package errors.
var (
	// ErrNotFound is returned when the referenced alert does not exist.
	ErrNotFound = errors.New("alert not found")

	// ErrAlreadyEscalated is returned when an alert already has a linked
	// ticket.
	ErrAlreadyEscalated = errors.New("alert already escalated")

	// ErrInvalidStatus is returned for unknown triage statuses.
	ErrInvalidStatus = errors.New("invalid triage status")
)

// Alert is the output of a detection rule.
type Alert struct {
	// ID is assigned by the store.
	ID int64 `json:"id"`

	// CreatedAt is when the rule raised the alert.
	CreatedAt time.Time `json:"created_at"`

	// RuleID identifies the detection rule, e.g. "AUTH_FAIL_BURST".
	RuleID string `json:"rule_id"`

	// Severity is the rule-assigned severity.
	Severity Severity `json:"severity"`

	// Context carries rule-specific structured details (actor, counts,
	// window bounds).
	Context json.RawMessage `json:"context,omitempty"`

	// DedupKey identifies the burst or pattern instance. A rule never
	// raises two alerts with the same dedup key; the engine checks the
	// store, not in-process state, so the guarantee survives restarts.
	DedupKey string `json:"dedup_key"`

	// TriggerEventID is the audit event that tripped the rule, when one
	// event is singularly responsible.
	TriggerEventID int64 `json:"trigger_event_id,omitempty"`

	// TriageStatus is the current lifecycle state.
	TriageStatus string `json:"triage_status"`

	// TicketID links to the incident ticket once escalated.
	TicketID *int64 `json:"ticket_id,omitempty"`
}

// Escalated reports whether the alert has been converted to a ticket.
func (a *Alert) Escalated() bool {
	return a.TicketID != nil
}

// Store is the persistence boundary for alerts.
type Store interface {
	// Create assigns an ID and persists the alert.
	Create(ctx context.Context, alert *Alert) error

	// Get returns the alert, or ErrNotFound.
	Get(ctx context.Context, id int64) (*Alert, error)

	// List returns alerts newest first, optionally filtered by triage
	// status (empty matches all).
	List(ctx context.Context, triageStatus string) ([]Alert, error)

	// FindByDedupKey returns the alert raised for a rule's dedup key, or
	// ErrNotFound. This query backs the no-double-raise guarantee.
	FindByDedupKey(ctx context.Context, ruleID, dedupKey string) (*Alert, error)

	// Update persists triage and escalation changes.
	Update(ctx context.Context, alert *Alert) error

	// Delete removes the alert.
	Delete(ctx context.Context, id int64) error

	// DeleteAll removes every alert and returns the count.
	DeleteAll(ctx context.Context) (int64, error)
}
