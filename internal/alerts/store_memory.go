// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package alerts

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore implements Store with in-memory storage for development and
// tests.
type MemoryStore struct {
	mu     sync.RWMutex
	alerts map[int64]Alert
	nextID int64
}

// NewMemoryStore creates an empty in-memory alert store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts: map[int64]Alert{},
		nextID: 1,
	}
}

func (s *MemoryStore) Create(_ context.Context, alert *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert.ID = s.nextID
	s.nextID++
	s.alerts[alert.ID] = *alert
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id int64) (*Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alert, ok := s.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &alert, nil
}

func (s *MemoryStore) List(_ context.Context, triageStatus string) ([]Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Alert
	for _, alert := range s.alerts {
		if triageStatus != "" && alert.TriageStatus != triageStatus {
			continue
		}
		out = append(out, alert)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *MemoryStore) FindByDedupKey(_ context.Context, ruleID, dedupKey string) (*Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, alert := range s.alerts {
		if alert.RuleID == ruleID && alert.DedupKey == dedupKey {
			found := alert
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Update(_ context.Context, alert *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.alerts[alert.ID]; !ok {
		return ErrNotFound
	}
	s.alerts[alert.ID] = *alert
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.alerts[id]; !ok {
		return ErrNotFound
	}
	delete(s.alerts, id)
	return nil
}

func (s *MemoryStore) DeleteAll(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := int64(len(s.alerts))
	s.alerts = map[int64]Alert{}
	return deleted, nil
}
