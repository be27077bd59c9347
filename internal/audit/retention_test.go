// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetentionServiceDeletesExpiredEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewMemoryStore()
	old := &Event{
		Timestamp: time.Now().UTC().Add(-48 * time.Hour),
		Actor:     "stale",
		Action:    ActionTicketsRead,
		Result:    ResultSuccess,
	}
	fresh := &Event{
		Timestamp: time.Now().UTC(),
		Actor:     "recent",
		Action:    ActionTicketsRead,
		Result:    ResultSuccess,
	}
	for _, event := range []*Event{old, fresh} {
		if err := store.Append(ctx, event); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	svc := NewRetentionService(store, 24*time.Hour, 10*time.Millisecond)
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	deadline := time.After(5 * time.Second)
	for {
		count, err := store.Count(ctx, Filter{})
		if err != nil {
			t.Fatalf("Count() error = %v", err)
		}
		if count == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expired event was not deleted, count = %d", count)
		case <-time.After(10 * time.Millisecond):
		}
	}

	remaining, err := store.Recent(ctx, 10, Filter{})
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(remaining) != 1 || remaining[0].Actor != "recent" {
		t.Errorf("remaining = %+v, want only the recent event", remaining)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve error = %v, want context.Canceled", err)
	}
}

func TestRetentionServiceDefaults(t *testing.T) {
	svc := NewRetentionService(NewMemoryStore(), 0, 0)
	if svc.retention != 90*24*time.Hour {
		t.Errorf("retention = %v, want 90 days", svc.retention)
	}
	if svc.interval != 24*time.Hour {
		t.Errorf("interval = %v, want 24h", svc.interval)
	}
}
