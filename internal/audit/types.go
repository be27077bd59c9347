// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package audit provides the append-only security audit log. Every
// security-relevant action (authorization decisions, CRUD mutations, alert
// lifecycle changes) is recorded as an immutable Event; the detection
// engine treats the event stream ordered by ID as its source of truth.
package audit

import (
	"context"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Result indicates the outcome of the audited action.
type Result string

const (
	ResultSuccess Result = "success"
	ResultDenied  Result = "denied"
	ResultError   Result = "error"
)

// Action tags for audited operations. Call sites use these constants so
// detection rules can match on exact strings.
const (
	ActionAuthLogin   = "auth:login"
	ActionAuthFailure = "auth:failure"
	ActionAuthzDenied = "authz:denied"

	ActionTicketsList         = "tickets:list"
	ActionTicketsCreate       = "tickets:create"
	ActionTicketsRead         = "tickets:read"
	ActionTicketsReadInsecure = "tickets:read_insecure"
	ActionTicketsUpdate       = "tickets:update"
	ActionTicketsDelete       = "tickets:delete"
	ActionTicketsComment      = "tickets:comment"

	ActionAuditExport = "admin:export_audit"
	ActionAuditClear  = "admin:clear_audit"

	ActionAlertTriage   = "alert:triage"
	ActionAlertEscalate = "alert:escalate"
	ActionAlertDelete   = "alert:delete"
	ActionAlertClear    = "alert:clear"

	ActionSimulateAttacks = "admin:simulate_attacks"
)

// Event is a single audit log entry. Events are append-only: once recorded
// they are never updated, and they are deleted only through the privileged
// bulk-clear operation.
type Event struct {
	// ID is assigned by the store; strictly monotonic, never reused.
	ID int64 `json:"id"`

	// Timestamp is assigned by the recorder at append time.
	Timestamp time.Time `json:"timestamp"`

	// Actor is the subject that performed the action, or "system".
	Actor string `json:"actor"`

	// ActorName is the display name, when known.
	ActorName string `json:"actor_name,omitempty"`

	// SourceIP is the client address the action originated from.
	SourceIP string `json:"source_ip,omitempty"`

	// Action is one of the Action* constants.
	Action string `json:"action"`

	// Target references the acted-on resource ("ticket:5", "alert:2"), or
	// is empty for global actions.
	Target string `json:"target,omitempty"`

	// Result is the outcome of the action.
	Result Result `json:"result"`

	// Reason explains denied or errored outcomes.
	Reason string `json:"reason,omitempty"`

	// Metadata carries structured, action-specific context.
	Metadata json.RawMessage `json:"metadata,omitempty"`

	// RequestID links the event to the originating HTTP request.
	RequestID string `json:"request_id,omitempty"`
}

// Filter selects events for queries. Zero-valued fields match everything.
type Filter struct {
	// Actions matches any of the given action tags.
	Actions []string

	// Actor matches the exact actor subject.
	Actor string

	// SourceIP matches the exact client address.
	SourceIP string

	// Results matches any of the given outcomes.
	Results []Result

	// TargetContains matches events whose target contains the substring.
	// Used by detection rules scanning for admin-scoped denials.
	TargetContains string

	// Since bounds the query to events at or after the given time.
	Since *time.Time

	// Until bounds the query to events at or before the given time.
	// Detection rules set this to the triggering event's timestamp so a
	// replayed event sees only the stream up to itself.
	Until *time.Time
}

// Store is the persistence boundary for audit events. Append is the single
// serialization point for ID assignment: implementations must hand out
// strictly increasing IDs even under concurrent writers.
type Store interface {
	// Append assigns the next ID and persists the event. The event's ID
	// field is populated on return.
	Append(ctx context.Context, event *Event) error

	// Recent returns up to limit events matching the filter, newest first
	// (strictly descending IDs).
	Recent(ctx context.Context, limit int, filter Filter) ([]Event, error)

	// Count returns the number of events matching the filter.
	Count(ctx context.Context, filter Filter) (int64, error)

	// DistinctSourceIPs returns the distinct non-empty source IPs seen for
	// an actor between since and until inclusive. A zero until means no
	// upper bound.
	DistinctSourceIPs(ctx context.Context, actor string, since, until time.Time) ([]string, error)

	// DeleteBefore removes all events with ID strictly less than the given
	// ID and returns the number removed. Used by the bulk clear, which
	// records its own event first so the purge leaves a trace.
	DeleteBefore(ctx context.Context, id int64) (int64, error)

	// DeleteOlderThan removes events older than the cutoff, for retention.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// matchesFilter reports whether an event satisfies every set filter field.
// Shared by the memory store and tests.
func matchesFilter(event *Event, filter *Filter) bool {
	if len(filter.Actions) > 0 && !containsString(filter.Actions, event.Action) {
		return false
	}
	if filter.Actor != "" && event.Actor != filter.Actor {
		return false
	}
	if filter.SourceIP != "" && event.SourceIP != filter.SourceIP {
		return false
	}
	if len(filter.Results) > 0 {
		found := false
		for _, r := range filter.Results {
			if event.Result == r {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.TargetContains != "" && !strings.Contains(event.Target, filter.TargetContains) {
		return false
	}
	if filter.Since != nil && event.Timestamp.Before(*filter.Since) {
		return false
	}
	if filter.Until != nil && event.Timestamp.After(*filter.Until) {
		return false
	}
	return true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
