// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package detection

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/sentineldesk/sentineldesk/internal/alerts"
	"github.com/sentineldesk/sentineldesk/internal/audit"
)

// PrivilegeEscalationDetector flags subjects repeatedly denied on
// admin-scoped operations, a stronger signal than generic denials because
// the caller is specifically reaching for privileged surface.
type PrivilegeEscalationDetector struct {
	events audit.Store

	mu        sync.RWMutex
	threshold int
	window    time.Duration
	enabled   bool
}

// PrivilegeEscalationConfig overrides the detector thresholds.
type PrivilegeEscalationConfig struct {
	Threshold     int `json:"threshold"`
	WindowSeconds int `json:"window_seconds"`
}

// NewPrivilegeEscalationDetector creates the detector with engine-level
// config.
func NewPrivilegeEscalationDetector(events audit.Store, config Config) *PrivilegeEscalationDetector {
	config = config.normalized()
	return &PrivilegeEscalationDetector{
		events:    events,
		threshold: config.EscalationThreshold,
		window:    config.DeniedWindow,
		enabled:   true,
	}
}

func (d *PrivilegeEscalationDetector) RuleID() string { return RulePrivilegeEscalation }

func (d *PrivilegeEscalationDetector) Check(ctx context.Context, event *audit.Event) (*alerts.Alert, error) {
	if event.Action != audit.ActionAuthzDenied {
		return nil, nil
	}
	if !strings.HasPrefix(event.Target, "admin:") && !strings.HasPrefix(event.Target, "alerts") && !strings.HasPrefix(event.Target, "audit") {
		return nil, nil
	}
	if event.Actor == "" || event.Actor == audit.SystemActor {
		return nil, nil
	}

	d.mu.RLock()
	threshold := d.threshold
	window := d.window
	d.mu.RUnlock()

	since := event.Timestamp.Add(-window)
	adminDenials, err := d.adminDenials(ctx, event.Actor, since, event.Timestamp)
	if err != nil {
		return nil, err
	}
	if len(adminDenials) < threshold {
		return nil, nil
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"subject":    event.Actor,
		"denials":    len(adminDenials),
		"threshold":  threshold,
		"window_sec": int(window.Seconds()),
	})
	return &alerts.Alert{
		RuleID:         RulePrivilegeEscalation,
		Severity:       alerts.SeverityHigh,
		Context:        payload,
		DedupKey:       event.Actor + "|" + burstAnchor(adminDenials, window),
		TriggerEventID: event.ID,
	}, nil
}

// adminDenials returns the denials against privileged surface for the
// subject between since and until, newest first. The until bound keeps
// replayed evaluations consistent with the live path.
func (d *PrivilegeEscalationDetector) adminDenials(ctx context.Context, actor string, since, until time.Time) ([]audit.Event, error) {
	recent, err := d.events.Recent(ctx, 0, audit.Filter{
		Actions: []string{audit.ActionAuthzDenied},
		Actor:   actor,
		Since:   &since,
		Until:   &until,
	})
	if err != nil {
		return nil, fmt.Errorf("list admin denials: %w", err)
	}

	matched := recent[:0]
	for _, e := range recent {
		if strings.HasPrefix(e.Target, "admin:") || strings.HasPrefix(e.Target, "alerts") || strings.HasPrefix(e.Target, "audit") {
			matched = append(matched, e)
		}
	}
	return matched, nil
}

func (d *PrivilegeEscalationDetector) Configure(config json.RawMessage) error {
	var override PrivilegeEscalationConfig
	if err := json.Unmarshal(config, &override); err != nil {
		return fmt.Errorf("invalid privilege escalation config: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if override.Threshold > 0 {
		d.threshold = override.Threshold
	}
	if override.WindowSeconds > 0 {
		d.window = time.Duration(override.WindowSeconds) * time.Second
	}
	return nil
}

func (d *PrivilegeEscalationDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

func (d *PrivilegeEscalationDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}
