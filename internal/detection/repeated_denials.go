// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package detection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/sentineldesk/sentineldesk/internal/alerts"
	"github.com/sentineldesk/sentineldesk/internal/audit"
)

// RepeatedDenialsDetector flags subjects accumulating authz:denied events,
// which indicates systematic probing of resources they cannot access.
type RepeatedDenialsDetector struct {
	events audit.Store

	mu        sync.RWMutex
	threshold int
	window    time.Duration
	enabled   bool
}

// RepeatedDenialsConfig overrides the detector thresholds.
type RepeatedDenialsConfig struct {
	Threshold     int `json:"threshold"`
	WindowSeconds int `json:"window_seconds"`
}

// NewRepeatedDenialsDetector creates the detector with engine-level config.
func NewRepeatedDenialsDetector(events audit.Store, config Config) *RepeatedDenialsDetector {
	config = config.normalized()
	return &RepeatedDenialsDetector{
		events:    events,
		threshold: config.DeniedThreshold,
		window:    config.DeniedWindow,
		enabled:   true,
	}
}

func (d *RepeatedDenialsDetector) RuleID() string { return RuleRepeatedDenied }

func (d *RepeatedDenialsDetector) Check(ctx context.Context, event *audit.Event) (*alerts.Alert, error) {
	if event.Action != audit.ActionAuthzDenied {
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
	filter := audit.Filter{
		Actions: []string{audit.ActionAuthzDenied},
		Actor:   event.Actor,
		Since:   &since,
		Until:   &event.Timestamp,
	}

	denials, err := d.events.Recent(ctx, 0, filter)
	if err != nil {
		return nil, fmt.Errorf("list denials: %w", err)
	}
	if len(denials) < threshold {
		return nil, nil
	}

	// Collect the attempted operations and targets for triage context.
	targets := make([]string, 0, len(denials))
	actions := make([]string, 0, len(denials))
	for _, e := range denials {
		targets = append(targets, e.Target)
		if attempted := deniedOperation(&e); attempted != "" {
			actions = append(actions, attempted)
		}
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"subject":    event.Actor,
		"denials":    len(denials),
		"threshold":  threshold,
		"window_sec": int(window.Seconds()),
		"targets":    targets,
		"actions":    actions,
	})
	return &alerts.Alert{
		RuleID:         RuleRepeatedDenied,
		Severity:       alerts.SeverityHigh,
		Context:        payload,
		DedupKey:       event.Actor + "|" + burstAnchor(denials, window),
		TriggerEventID: event.ID,
	}, nil
}

// deniedOperation recovers the object:action pair the denial recorded in
// its metadata, or "" for events without one.
func deniedOperation(event *audit.Event) string {
	var detail struct {
		Object string `json:"object"`
		Action string `json:"action"`
	}
	if len(event.Metadata) == 0 || json.Unmarshal(event.Metadata, &detail) != nil {
		return ""
	}
	if detail.Object == "" || detail.Action == "" {
		return ""
	}
	return detail.Object + ":" + detail.Action
}

func (d *RepeatedDenialsDetector) Configure(config json.RawMessage) error {
	var override RepeatedDenialsConfig
	if err := json.Unmarshal(config, &override); err != nil {
		return fmt.Errorf("invalid repeated denials config: %w", err)
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

func (d *RepeatedDenialsDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

func (d *RepeatedDenialsDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}
