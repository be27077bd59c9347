// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/sentineldesk/sentineldesk/internal/logging"
	"github.com/sentineldesk/sentineldesk/internal/metrics"
)

// Topic is the in-process event bus topic the recorder publishes every
// appended event to. The detection engine subscribes to it.
const Topic = "audit.events"

// ErrInvalidEvent is returned when a caller submits an event without the
// required fields.
var ErrInvalidEvent = errors.New("invalid audit event")

// Recorder appends audit events and fans them out to the detection engine.
// It is the only writer to the audit store; ID assignment is serialized at
// the store boundary.
type Recorder struct {
	store     Store
	publisher message.Publisher
}

// NewRecorder creates a recorder. publisher may be nil, in which case
// events are persisted but not fanned out (used by the attack simulator's
// synchronous path and by tests).
func NewRecorder(store Store, publisher message.Publisher) *Recorder {
	return &Recorder{
		store:     store,
		publisher: publisher,
	}
}

// Record stamps, validates, and appends the event, then publishes it on the
// audit topic. Publishing is fire-and-forget: a bus failure is logged but
// never fails the triggering request; a store failure does.
func (r *Recorder) Record(ctx context.Context, event Event) (Event, error) {
	if event.Action == "" {
		return Event{}, fmt.Errorf("%w: missing action", ErrInvalidEvent)
	}
	switch event.Result {
	case ResultSuccess, ResultDenied, ResultError:
	default:
		return Event{}, fmt.Errorf("%w: unknown result %q", ErrInvalidEvent, event.Result)
	}
	if event.Actor == "" {
		event.Actor = SystemActor
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.ID = 0 // assigned by the store

	if err := r.store.Append(ctx, &event); err != nil {
		return Event{}, fmt.Errorf("append audit event: %w", err)
	}
	metrics.RecordAuditEvent(event.Action, string(event.Result))

	r.publish(&event)
	return event, nil
}

// Recent returns the most recent events, newest first.
func (r *Recorder) Recent(ctx context.Context, limit int, filter Filter) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.store.Recent(ctx, limit, filter)
}

// ClearAll purges the audit log. The clear is recorded as its own event
// BEFORE the purge and the purge removes only events preceding it, so the
// log always retains exactly one trace of who cleared it.
func (r *Recorder) ClearAll(ctx context.Context, actor Event) (int64, error) {
	actor.Action = ActionAuditClear
	actor.Result = ResultSuccess
	actor.Target = "audit_events"

	marker, err := r.Record(ctx, actor)
	if err != nil {
		return 0, fmt.Errorf("record clear marker: %w", err)
	}

	deleted, err := r.store.DeleteBefore(ctx, marker.ID)
	if err != nil {
		return 0, fmt.Errorf("clear audit events: %w", err)
	}
	return deleted, nil
}

// publish serializes the event onto the audit topic.
func (r *Recorder) publish(event *Event) {
	if r.publisher == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		logging.Err(err).Int64("event_id", event.ID).Msg("failed to marshal audit event for bus")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := r.publisher.Publish(Topic, msg); err != nil {
		logging.Err(err).Int64("event_id", event.ID).Msg("failed to publish audit event")
	}
}

// SystemActor is recorded when no principal is associated with an action.
const SystemActor = "system"
