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

// ImpossibleTravelDetector flags a subject authenticating from multiple
// distinct source addresses within a window too short for physical travel,
// which usually means shared or stolen credentials.
type ImpossibleTravelDetector struct {
	events audit.Store

	mu      sync.RWMutex
	window  time.Duration
	enabled bool
}

// ImpossibleTravelConfig overrides the travel window.
type ImpossibleTravelConfig struct {
	WindowSeconds int `json:"window_seconds"`
}

// NewImpossibleTravelDetector creates the detector with engine-level
// config.
func NewImpossibleTravelDetector(events audit.Store, config Config) *ImpossibleTravelDetector {
	config = config.normalized()
	return &ImpossibleTravelDetector{
		events:  events,
		window:  config.TravelWindow,
		enabled: true,
	}
}

func (d *ImpossibleTravelDetector) RuleID() string { return RuleImpossibleTravel }

func (d *ImpossibleTravelDetector) Check(ctx context.Context, event *audit.Event) (*alerts.Alert, error) {
	if event.Action != audit.ActionAuthLogin || event.Result != audit.ResultSuccess {
		return nil, nil
	}
	if event.Actor == "" || event.Actor == audit.SystemActor || event.SourceIP == "" {
		return nil, nil
	}

	d.mu.RLock()
	window := d.window
	d.mu.RUnlock()

	since := event.Timestamp.Add(-window)
	ips, err := d.events.DistinctSourceIPs(ctx, event.Actor, since, event.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("list source ips: %w", err)
	}
	if len(ips) < 2 {
		return nil, nil
	}

	anchor, err := d.windowAnchor(ctx, event.Actor, since, event.Timestamp, window)
	if err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"subject":    event.Actor,
		"source_ips": ips,
		"window_sec": int(window.Seconds()),
	})
	return &alerts.Alert{
		RuleID:         RuleImpossibleTravel,
		Severity:       alerts.SeverityHigh,
		Context:        payload,
		DedupKey:       event.Actor + "|" + anchor,
		TriggerEventID: event.ID,
	}, nil
}

// windowAnchor derives the dedup bucket from the subject's oldest
// in-window event carrying a source address, so repeated raises for one
// travel incident share a key on both the live and the sweep path.
func (d *ImpossibleTravelDetector) windowAnchor(ctx context.Context, actor string, since, until time.Time, window time.Duration) (string, error) {
	recent, err := d.events.Recent(ctx, 0, audit.Filter{
		Actor: actor,
		Since: &since,
		Until: &until,
	})
	if err != nil {
		return "", fmt.Errorf("list actor events: %w", err)
	}
	for i := len(recent) - 1; i >= 0; i-- {
		if recent[i].SourceIP != "" {
			return windowBucket(recent[i].Timestamp, window), nil
		}
	}
	return windowBucket(until, window), nil
}

func (d *ImpossibleTravelDetector) Configure(config json.RawMessage) error {
	var override ImpossibleTravelConfig
	if err := json.Unmarshal(config, &override); err != nil {
		return fmt.Errorf("invalid impossible travel config: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if override.WindowSeconds > 0 {
		d.window = time.Duration(override.WindowSeconds) * time.Second
	}
	return nil
}

func (d *ImpossibleTravelDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

func (d *ImpossibleTravelDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}
