// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"context"
	"time"

	"github.com/sentineldesk/sentineldesk/internal/logging"
)

// RetentionService periodically deletes audit events older than the
// retention window. It implements suture.Service.
type RetentionService struct {
	store     Store
	retention time.Duration
	interval  time.Duration
}

// NewRetentionService creates the cleanup loop.
func NewRetentionService(store Store, retention, interval time.Duration) *RetentionService {
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &RetentionService{
		store:     store,
		retention: retention,
		interval:  interval,
	}
}

// Serve runs the cleanup loop until the context is canceled.
func (s *RetentionService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logging.Info().Dur("retention", s.retention).Dur("interval", s.interval).Msg("audit retention cleanup started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-s.retention)
			deleted, err := s.store.DeleteOlderThan(ctx, cutoff)
			if err != nil {
				logging.Err(err).Msg("audit retention cleanup failed")
				continue
			}
			if deleted > 0 {
				logging.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("expired audit events removed")
			}
		}
	}
}
