// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package detection evaluates a fixed set of intrusion rules against the
// audit event stream and raises deduplicated alerts. Detectors run per
// event, fed either synchronously from the audit bus or by the periodic
// window sweep; both paths share the same dedup query so re-evaluation
// never double-raises.
package detection

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/sentineldesk/sentineldesk/internal/alerts"
	"github.com/sentineldesk/sentineldesk/internal/audit"
)

// Rule identifiers.
const (
	RuleAuthFailBurst       = "AUTH_FAIL_BURST"
	RuleRepeatedDenied      = "REPEATED_AUTHZ_DENIED"
	RuleAdminOffHours       = "ADMIN_OFF_HOURS"
	RulePrivilegeEscalation = "PRIVILEGE_ESCALATION_ATTEMPT"
	RuleImpossibleTravel    = "IMPOSSIBLE_TRAVEL"
	RuleBlockedIDOR         = "BLOCKED_IDOR_ATTEMPT"
	RuleInsecureIDOR        = "INSECURE_IDOR_ACCESS"
)

// Config carries the rule thresholds. Zero values are replaced by the
// defaults below.
type Config struct {
	// AuthFailThreshold is the auth:failure count that constitutes a burst.
	AuthFailThreshold int
	// AuthFailWindow bounds the burst window.
	AuthFailWindow time.Duration

	// DeniedThreshold is the authz:denied count per subject that raises an
	// alert.
	DeniedThreshold int
	// DeniedWindow bounds the denial window.
	DeniedWindow time.Duration

	// EscalationThreshold is the admin-scoped denial count that signals a
	// privilege escalation attempt.
	EscalationThreshold int

	// TravelWindow bounds the multi-IP login window.
	TravelWindow time.Duration

	// BusinessHoursStart and BusinessHoursEnd bound normal admin activity,
	// as hours of day in UTC. Start is inclusive, End exclusive.
	BusinessHoursStart int
	BusinessHoursEnd   int
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		AuthFailThreshold:   10,
		AuthFailWindow:      5 * time.Minute,
		DeniedThreshold:     5,
		DeniedWindow:        10 * time.Minute,
		EscalationThreshold: 3,
		TravelWindow:        5 * time.Minute,
		BusinessHoursStart:  9,
		BusinessHoursEnd:    18,
	}
}

// normalized fills zero fields with defaults.
func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.AuthFailThreshold <= 0 {
		c.AuthFailThreshold = d.AuthFailThreshold
	}
	if c.AuthFailWindow <= 0 {
		c.AuthFailWindow = d.AuthFailWindow
	}
	if c.DeniedThreshold <= 0 {
		c.DeniedThreshold = d.DeniedThreshold
	}
	if c.DeniedWindow <= 0 {
		c.DeniedWindow = d.DeniedWindow
	}
	if c.EscalationThreshold <= 0 {
		c.EscalationThreshold = d.EscalationThreshold
	}
	if c.TravelWindow <= 0 {
		c.TravelWindow = d.TravelWindow
	}
	if c.BusinessHoursEnd <= 0 {
		c.BusinessHoursStart = d.BusinessHoursStart
		c.BusinessHoursEnd = d.BusinessHoursEnd
	}
	return c
}

// Detector is implemented by every detection rule. Check returns a
// candidate alert, or nil when the event does not trip the rule. The
// engine owns persistence and dedup; detectors only decide and describe.
type Detector interface {
	// RuleID identifies the rule, e.g. "AUTH_FAIL_BURST".
	RuleID() string

	// Check evaluates one audit event. The candidate's DedupKey must be
	// deterministic: re-checking the same window yields the same key.
	Check(ctx context.Context, event *audit.Event) (*alerts.Alert, error)

	// Configure applies a rule-specific JSON configuration override.
	Configure(config json.RawMessage) error

	// Enabled reports whether the detector participates in evaluation.
	Enabled() bool

	// SetEnabled toggles the detector.
	SetEnabled(enabled bool)
}

// Notifier delivers raised alerts to an external channel.
type Notifier interface {
	// Send delivers the alert. Errors are logged, never retried by the
	// engine.
	Send(ctx context.Context, alert *alerts.Alert) error

	// Name identifies the notifier for logs.
	Name() string

	// Enabled reports whether the notifier should receive alerts.
	Enabled() bool
}

// windowBucket formats a deterministic dedup window bucket for a
// timestamp. Events inside the same bucket share a dedup key.
func windowBucket(ts time.Time, window time.Duration) string {
	return ts.UTC().Truncate(window).Format(time.RFC3339)
}
