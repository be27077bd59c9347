// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package detection

import (
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-json"

	"github.com/sentineldesk/sentineldesk/internal/alerts"
	"github.com/sentineldesk/sentineldesk/internal/audit"
)

// BlockedIDORDetector flags ownership denials on ticket reads: a caller
// enumerating ticket IDs they do not own is probing for an IDOR hole.
type BlockedIDORDetector struct {
	mu      sync.RWMutex
	enabled bool
}

// NewBlockedIDORDetector creates the detector.
func NewBlockedIDORDetector() *BlockedIDORDetector {
	return &BlockedIDORDetector{enabled: true}
}

func (d *BlockedIDORDetector) RuleID() string { return RuleBlockedIDOR }

func (d *BlockedIDORDetector) Check(_ context.Context, event *audit.Event) (*alerts.Alert, error) {
	if event.Action != audit.ActionAuthzDenied || event.Reason != "not_owner" {
		return nil, nil
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"subject": event.Actor,
		"target":  event.Target,
	})
	return &alerts.Alert{
		RuleID:         RuleBlockedIDOR,
		Severity:       alerts.SeverityMedium,
		Context:        payload,
		DedupKey:       fmt.Sprintf("%s|%d", event.Actor, event.ID),
		TriggerEventID: event.ID,
	}, nil
}

func (d *BlockedIDORDetector) Configure(json.RawMessage) error { return nil }

func (d *BlockedIDORDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

func (d *BlockedIDORDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}

// InsecureIDORDetector flags every hit on the intentionally unprotected
// ticket read endpoint. Those reads bypass the permission policy entirely,
// so each one is a successful IDOR access.
type InsecureIDORDetector struct {
	mu      sync.RWMutex
	enabled bool
}

// NewInsecureIDORDetector creates the detector.
func NewInsecureIDORDetector() *InsecureIDORDetector {
	return &InsecureIDORDetector{enabled: true}
}

func (d *InsecureIDORDetector) RuleID() string { return RuleInsecureIDOR }

func (d *InsecureIDORDetector) Check(_ context.Context, event *audit.Event) (*alerts.Alert, error) {
	if event.Action != audit.ActionTicketsReadInsecure || event.Result != audit.ResultSuccess {
		return nil, nil
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"subject": event.Actor,
		"target":  event.Target,
	})
	return &alerts.Alert{
		RuleID:         RuleInsecureIDOR,
		Severity:       alerts.SeverityHigh,
		Context:        payload,
		DedupKey:       fmt.Sprintf("%s|%d", event.Actor, event.ID),
		TriggerEventID: event.ID,
	}, nil
}

func (d *InsecureIDORDetector) Configure(json.RawMessage) error { return nil }

func (d *InsecureIDORDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

func (d *InsecureIDORDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}
