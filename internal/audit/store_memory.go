// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with in-memory storage. Suitable for
// development and tests; data is lost on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
	nextID int64
}

// NewMemoryStore creates an empty in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

// Append assigns the next ID and stores the event. The mutex is the
// serialization point guaranteeing strictly increasing IDs.
func (s *MemoryStore) Append(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event.ID = s.nextID
	s.nextID++
	s.events = append(s.events, *event)
	return nil
}

// Recent returns up to limit matching events, newest first.
func (s *MemoryStore) Recent(_ context.Context, limit int, filter Filter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []Event
	for i := len(s.events) - 1; i >= 0; i-- {
		event := s.events[i]
		if !matchesFilter(&event, &filter) {
			continue
		}
		results = append(results, event)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

// Count returns the number of matching events.
func (s *MemoryStore) Count(_ context.Context, filter Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for i := range s.events {
		if matchesFilter(&s.events[i], &filter) {
			count++
		}
	}
	return count, nil
}

// DistinctSourceIPs returns the distinct non-empty source IPs for an actor
// between since and until inclusive, in first-seen order. A zero until
// means no upper bound.
func (s *MemoryStore) DistinctSourceIPs(_ context.Context, actor string, since, until time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]bool{}
	var ips []string
	for i := range s.events {
		event := &s.events[i]
		if event.Actor != actor || event.SourceIP == "" {
			continue
		}
		if event.Timestamp.Before(since) {
			continue
		}
		if !until.IsZero() && event.Timestamp.After(until) {
			continue
		}
		if !seen[event.SourceIP] {
			seen[event.SourceIP] = true
			ips = append(ips, event.SourceIP)
		}
	}
	return ips, nil
}

// DeleteBefore removes all events with ID < id.
func (s *MemoryStore) DeleteBefore(_ context.Context, id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var deleted int64
	for i := range s.events {
		if s.events[i].ID < id {
			deleted++
			continue
		}
		kept = append(kept, s.events[i])
	}
	s.events = kept
	return deleted, nil
}

// DeleteOlderThan removes events older than the cutoff.
func (s *MemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var deleted int64
	for i := range s.events {
		if s.events[i].Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, s.events[i])
	}
	s.events = kept
	return deleted, nil
}
