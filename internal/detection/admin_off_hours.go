// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package detection

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/sentineldesk/sentineldesk/internal/alerts"
	"github.com/sentineldesk/sentineldesk/internal/audit"
)

// AdminOffHoursDetector flags administrative actions performed outside
// business hours. Destructive actions (audit or alert purges) are rated
// medium, the rest low. Hours are evaluated in UTC.
type AdminOffHoursDetector struct {
	mu        sync.RWMutex
	startHour int
	endHour   int
	enabled   bool
}

// AdminOffHoursConfig overrides the business-hours bounds.
type AdminOffHoursConfig struct {
	StartHour int `json:"start_hour"`
	EndHour   int `json:"end_hour"`
}

// sensitiveActions are admin operations that destroy evidence.
var sensitiveActions = map[string]bool{
	audit.ActionAuditClear: true,
	audit.ActionAlertClear: true,
}

// NewAdminOffHoursDetector creates the detector with engine-level config.
func NewAdminOffHoursDetector(config Config) *AdminOffHoursDetector {
	config = config.normalized()
	return &AdminOffHoursDetector{
		startHour: config.BusinessHoursStart,
		endHour:   config.BusinessHoursEnd,
		enabled:   true,
	}
}

func (d *AdminOffHoursDetector) RuleID() string { return RuleAdminOffHours }

func (d *AdminOffHoursDetector) Check(_ context.Context, event *audit.Event) (*alerts.Alert, error) {
	if !strings.HasPrefix(event.Action, "admin:") && !sensitiveActions[event.Action] {
		return nil, nil
	}
	if event.Result != audit.ResultSuccess {
		return nil, nil
	}

	d.mu.RLock()
	start, end := d.startHour, d.endHour
	d.mu.RUnlock()

	hour := event.Timestamp.UTC().Hour()
	if hour >= start && hour < end {
		return nil, nil
	}

	severity := alerts.SeverityLow
	if sensitiveActions[event.Action] {
		severity = alerts.SeverityMedium
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"subject":     event.Actor,
		"action":      event.Action,
		"hour_utc":    hour,
		"hours_start": start,
		"hours_end":   end,
	})
	return &alerts.Alert{
		RuleID:   RuleAdminOffHours,
		Severity: severity,
		Context:  payload,
		// One alert per offending event; the event ID keeps re-evaluation
		// of the same window idempotent.
		DedupKey:       fmt.Sprintf("%s|%d", event.Actor, event.ID),
		TriggerEventID: event.ID,
	}, nil
}

func (d *AdminOffHoursDetector) Configure(config json.RawMessage) error {
	var override AdminOffHoursConfig
	if err := json.Unmarshal(config, &override); err != nil {
		return fmt.Errorf("invalid admin off-hours config: %w", err)
	}
	if override.EndHour <= override.StartHour {
		return fmt.Errorf("invalid admin off-hours config: end hour must follow start hour")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.startHour = override.StartHour
	d.endHour = override.EndHour
	return nil
}

func (d *AdminOffHoursDetector) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

func (d *AdminOffHoursDetector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}
