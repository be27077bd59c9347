// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/sentineldesk/sentineldesk/internal/audit"
	"github.com/sentineldesk/sentineldesk/internal/logging"
	"github.com/sentineldesk/sentineldesk/internal/tickets"
)

// Actor identifies who is performing a lifecycle operation, for audit
// attribution.
type Actor struct {
	Subject   string
	Name      string
	SourceIP  string
	RequestID string
}

// Manager drives the alert triage lifecycle and escalation into tickets.
// Every lifecycle change is recorded in the audit log.
type Manager struct {
	store    Store
	tickets  *tickets.Service
	recorder *audit.Recorder
}

// NewManager creates the lifecycle manager.
func NewManager(store Store, ticketService *tickets.Service, recorder *audit.Recorder) *Manager {
	return &Manager{
		store:    store,
		tickets:  ticketService,
		recorder: recorder,
	}
}

// Get returns a single alert.
func (m *Manager) Get(ctx context.Context, id int64) (*Alert, error) {
	return m.store.Get(ctx, id)
}

// List returns alerts newest first, optionally filtered by triage status.
func (m *Manager) List(ctx context.Context, triageStatus string) ([]Alert, error) {
	if triageStatus != "" && !IsValidTriageStatus(triageStatus) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, triageStatus)
	}
	return m.store.List(ctx, triageStatus)
}

// SetTriageStatus moves the alert to the given status. Any transition
// between known statuses is permitted.
func (m *Manager) SetTriageStatus(ctx context.Context, actor Actor, id int64, status string) (*Alert, error) {
	if !IsValidTriageStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	alert, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	previous := alert.TriageStatus
	alert.TriageStatus = status
	if err := m.store.Update(ctx, alert); err != nil {
		return nil, fmt.Errorf("update alert: %w", err)
	}

	m.recordLifecycle(ctx, actor, audit.ActionAlertTriage, alert.ID, map[string]interface{}{
		"from": previous,
		"to":   status,
	})
	return alert, nil
}

// Escalate converts the alert into an incident ticket owned by the
// escalating principal, links the ticket to the alert, and moves the alert
// to investigating. A second escalation fails with ErrAlreadyEscalated and
// creates no ticket.
func (m *Manager) Escalate(ctx context.Context, actor Actor, id int64) (*Alert, error) {
	alert, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.Escalated() {
		return nil, ErrAlreadyEscalated
	}

	title := fmt.Sprintf("[Security Incident] %s Detected", alert.RuleID)
	body := escalationBody(alert)
	ticket, err := m.tickets.Create(ctx, actor.Subject, title, body)
	if err != nil {
		return nil, fmt.Errorf("create incident ticket: %w", err)
	}

	alert.TicketID = &ticket.ID
	alert.TriageStatus = TriageInvestigating
	if err := m.store.Update(ctx, alert); err != nil {
		return nil, fmt.Errorf("link alert to ticket: %w", err)
	}

	m.recordLifecycle(ctx, actor, audit.ActionAlertEscalate, alert.ID, map[string]interface{}{
		"ticket_id": ticket.ID,
		"rule_id":   alert.RuleID,
	})
	return alert, nil
}

// Delete removes a single alert.
func (m *Manager) Delete(ctx context.Context, actor Actor, id int64) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	m.recordLifecycle(ctx, actor, audit.ActionAlertDelete, id, nil)
	return nil
}

// ClearAll removes every alert. The clear itself is audited.
func (m *Manager) ClearAll(ctx context.Context, actor Actor) (int64, error) {
	deleted, err := m.store.DeleteAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("clear alerts: %w", err)
	}
	m.recordLifecycle(ctx, actor, audit.ActionAlertClear, 0, map[string]interface{}{
		"deleted": deleted,
	})
	return deleted, nil
}

// recordLifecycle appends a lifecycle audit event. Failures are logged and
// swallowed so a full audit store never blocks triage.
func (m *Manager) recordLifecycle(ctx context.Context, actor Actor, action string, alertID int64, metadata map[string]interface{}) {
	if m.recorder == nil {
		return
	}

	target := "alerts"
	if alertID != 0 {
		target = fmt.Sprintf("alert:%d", alertID)
	}

	event := audit.Event{
		Actor:     actor.Subject,
		ActorName: actor.Name,
		SourceIP:  actor.SourceIP,
		Action:    action,
		Target:    target,
		Result:    audit.ResultSuccess,
		RequestID: actor.RequestID,
	}
	if metadata != nil {
		if payload, err := json.Marshal(metadata); err == nil {
			event.Metadata = payload
		}
	}

	if _, err := m.recorder.Record(ctx, event); err != nil {
		logging.Err(err).Str("action", action).Int64("alert_id", alertID).
			Msg("failed to record alert lifecycle event")
	}
}

// escalationBody renders the incident ticket body from the alert.
func escalationBody(alert *Alert) string {
	body := fmt.Sprintf(
		"Escalated from alert #%d.\n\nRule: %s\nSeverity: %s\nRaised: %s\n",
		alert.ID, alert.RuleID, alert.Severity, alert.CreatedAt.Format(time.RFC3339))
	if len(alert.Context) > 0 {
		body += fmt.Sprintf("\nDetection context:\n%s\n", string(alert.Context))
	}
	return body
}
