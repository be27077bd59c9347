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

// AuthFailBurstDetector flags brute-force credential guessing: a threshold
// count of auth:failure events attributed to one identity (subject, or
// source IP when the subject is unknown) inside the window.
type AuthFailBurstDetector struct {
	events audit.Store

	mu        sync.RWMutex
	threshold int
	window    time.Duration
	enabled   bool
}

// AuthFailBurstConfig overrides the detector thresholds.
type AuthFailBurstConfig struct {
	Threshold     int `json:"threshold"`
	WindowSeconds int `json:"window_seconds"`
}

// NewAuthFailBurstDetector creates the detector with engine-level config.
func NewAuthFailBurstDetector(events audit.Store, config Config) *AuthFailBurstDetector {
	config = config.normalized()
	return &AuthFailBurstDetector{
		events:    events,
		threshold: config.AuthFailThreshold,
		window:    config.AuthFailWindow,
		enabled:   true,
	}
}

func (d *AuthFailBurstDetector) RuleID() string { return RuleAuthFailBurst }

func (d *AuthFailBurstDetector) Check(ctx context.Context, event *audit.Event) (*alerts.Alert, error) {
	if event.Action != audit.ActionAuthFailure {
		return nil, nil
	}

	d.mu.RLock()
	threshold := d.threshold
	window := d.window
	d.mu.RUnlock()

	identity, filter := burstIdentity(event)
	if identity == "" {
		return nil, nil
	}

	since := event.Timestamp.Add(-window)
	filter.Actions = []string{audit.ActionAuthFailure}
	filter.Since = &since
	filter.Until = &event.Timestamp

	// The Until bound keeps the count a prefix of the stream: a replayed
	// event never sees failures recorded after it, so live and sweep
	// evaluations agree on which event crossed the threshold.
	failures, err := d.events.Recent(ctx, 0, filter)
	if err != nil {
		return nil, fmt.Errorf("list auth failures: %w", err)
	}
	if len(failures) < threshold {
		return nil, nil
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"identity":   identity,
		"failures":   len(failures),
		"threshold":  threshold,
		"window_sec": int(window.Seconds()),
	})
	return &alerts.Alert{
		RuleID:         RuleAuthFailBurst,
		Severity:       alerts.SeverityMedium,
		Context:        payload,
		DedupKey:       identity + "|" + burstAnchor(failures, window),
		TriggerEventID: event.ID,
	}, nil
}

// burstAnchor derives the dedup bucket from the oldest in-window event, so
// every raise for one burst shares a key even when the burst straddles a
// bucket boundary. Recent returns newest first.
func burstAnchor(events []audit.Event, window time.Duration) string {
	return windowBucket(events[len(events)-1].Timestamp, window)
}

// burstIdentity attributes a failure to a subject when known, otherwise to
// the source IP.
func burstIdentity(event *audit.Event) (string, audit.Filter) {
	if event.Actor != "" && event.Actor != audit.SystemActor {
		return event.Actor, audit.Filter{Actor: event.Actor}
	}
	if event.SourceIP != "" {
		return event.SourceIP, audit.Filter{SourceIP: event.SourceIP}
	}
	return "", audit.Filter{}
}

func (d *AuthFailBurstDetector) Configure(config json.RawMessage) error {
	var override AuthFailBurstConfig
	if err := json.Unmarshal(config, &override); err != nil {
		return fmt.Errorf("invalid auth fail burst config: %w", err)
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

func (d *AuthFailBurstDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

func (d *AuthFailBurstDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}
