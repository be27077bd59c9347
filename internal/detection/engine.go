// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package detection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/sentineldesk/sentineldesk/internal/alerts"
	"github.com/sentineldesk/sentineldesk/internal/audit"
	"github.com/sentineldesk/sentineldesk/internal/logging"
	"github.com/sentineldesk/sentineldesk/internal/metrics"
)

// Engine coordinates detection rule evaluation and alert persistence.
// Every raised alert passes the dedup query first, so feeding the same
// events through Process or Evaluate twice never double-raises.
type Engine struct {
	events     audit.Store
	alertStore alerts.Store

	mu        sync.RWMutex
	detectors []Detector
	notifiers []Notifier
	enabled   bool

	metrics *EngineMetrics
}

// EngineMetrics tracks evaluation counters.
type EngineMetrics struct {
	mu              sync.RWMutex
	EventsProcessed int64
	AlertsRaised    int64
	RuleErrors      int64
	LastProcessedAt time.Time
	PerRule         map[string]*RuleMetrics
}

// RuleMetrics tracks a single detector.
type RuleMetrics struct {
	EventsChecked int64
	AlertsRaised  int64
	Errors        int64
}

// NewEngine creates the engine over the audit and alert stores.
func NewEngine(events audit.Store, alertStore alerts.Store) *Engine {
	return &Engine{
		events:     events,
		alertStore: alertStore,
		enabled:    true,
		metrics: &EngineMetrics{
			PerRule: make(map[string]*RuleMetrics),
		},
	}
}

// RegisterDetector adds a detector. Registration order is evaluation order.
func (e *Engine) RegisterDetector(detector Detector) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.detectors = append(e.detectors, detector)
	e.metrics.mu.Lock()
	e.metrics.PerRule[detector.RuleID()] = &RuleMetrics{}
	e.metrics.mu.Unlock()

	logging.Info().Str("rule", detector.RuleID()).Msg("registered detector")
}

// RegisterNotifier adds an alert notifier.
func (e *Engine) RegisterNotifier(notifier Notifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifiers = append(e.notifiers, notifier)
	logging.Info().Str("notifier", notifier.Name()).Msg("registered notifier")
}

// Process evaluates one audit event against every enabled detector and
// persists the surviving alerts. A detector failure is logged and counted
// but never aborts the remaining rules.
func (e *Engine) Process(ctx context.Context, event *audit.Event) []*alerts.Alert {
	detectors := e.enabledDetectors()
	if detectors == nil {
		return nil
	}

	var raised []*alerts.Alert
	for _, detector := range detectors {
		alert := e.runDetector(ctx, detector, event)
		if alert != nil {
			raised = append(raised, alert)
		}
	}

	e.metrics.mu.Lock()
	e.metrics.EventsProcessed++
	e.metrics.LastProcessedAt = time.Now()
	e.metrics.mu.Unlock()

	e.notify(ctx, raised)
	return raised
}

// Evaluate re-scans the audit events of the trailing window, oldest first,
// through the same per-event path. Deduplication makes it idempotent: an
// unchanged window yields zero new alerts.
func (e *Engine) Evaluate(ctx context.Context, window time.Duration) ([]*alerts.Alert, error) {
	since := time.Now().UTC().Add(-window)
	events, err := e.events.Recent(ctx, 0, audit.Filter{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("load audit window: %w", err)
	}

	// Recent returns newest first; replay in stream order.
	var raised []*alerts.Alert
	for i := len(events) - 1; i >= 0; i-- {
		raised = append(raised, e.Process(ctx, &events[i])...)
	}

	if len(raised) > 0 {
		logging.Info().Int("alerts", len(raised)).Dur("window", window).Msg("evaluation raised alerts")
	}
	return raised, nil
}

// runDetector checks one event with one detector and persists the result
// if it survives dedup. Returns the created alert, or nil.
func (e *Engine) runDetector(ctx context.Context, detector Detector, event *audit.Event) *alerts.Alert {
	ruleID := detector.RuleID()
	e.bumpRule(ruleID, func(m *RuleMetrics) { m.EventsChecked++ })

	candidate, err := detector.Check(ctx, event)
	if err != nil {
		metrics.RecordDetectionError(ruleID)
		e.bumpRule(ruleID, func(m *RuleMetrics) { m.Errors++ })
		e.metrics.mu.Lock()
		e.metrics.RuleErrors++
		e.metrics.mu.Unlock()
		logging.Err(err).Str("rule", ruleID).Int64("event_id", event.ID).Msg("detector check failed")
		return nil
	}
	if candidate == nil {
		return nil
	}

	// Dedup against persisted alerts, not process memory, so the
	// no-double-raise guarantee survives restarts.
	_, err = e.alertStore.FindByDedupKey(ctx, ruleID, candidate.DedupKey)
	if err == nil {
		return nil
	}
	if !errors.Is(err, alerts.ErrNotFound) {
		logging.Err(err).Str("rule", ruleID).Msg("dedup query failed")
		return nil
	}

	candidate.CreatedAt = time.Now().UTC()
	candidate.TriageStatus = alerts.TriageNew
	if err := e.alertStore.Create(ctx, candidate); err != nil {
		logging.Err(err).Str("rule", ruleID).Msg("failed to persist alert")
		return nil
	}

	metrics.RecordAlertRaised(ruleID, string(candidate.Severity))
	e.bumpRule(ruleID, func(m *RuleMetrics) { m.AlertsRaised++ })
	e.metrics.mu.Lock()
	e.metrics.AlertsRaised++
	e.metrics.mu.Unlock()

	logging.Warn().
		Str("rule", ruleID).
		Str("severity", string(candidate.Severity)).
		Int64("alert_id", candidate.ID).
		Int64("trigger_event_id", candidate.TriggerEventID).
		Msg("alert raised")
	return candidate
}

// notify fans raised alerts out to enabled notifiers, fire-and-forget.
func (e *Engine) notify(ctx context.Context, raised []*alerts.Alert) {
	if len(raised) == 0 {
		return
	}

	e.mu.RLock()
	notifiers := make([]Notifier, 0, len(e.notifiers))
	for _, n := range e.notifiers {
		if n.Enabled() {
			notifiers = append(notifiers, n)
		}
	}
	e.mu.RUnlock()

	for _, alert := range raised {
		for _, notifier := range notifiers {
			go func(n Notifier, a *alerts.Alert) {
				if err := n.Send(ctx, a); err != nil {
					logging.Err(err).Str("notifier", n.Name()).Int64("alert_id", a.ID).
						Msg("failed to deliver alert notification")
				}
			}(notifier, alert)
		}
	}
}

func (e *Engine) enabledDetectors() []Detector {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.enabled {
		return nil
	}
	out := make([]Detector, 0, len(e.detectors))
	for _, d := range e.detectors {
		if d.Enabled() {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (e *Engine) bumpRule(ruleID string, f func(*RuleMetrics)) {
	e.metrics.mu.Lock()
	defer e.metrics.mu.Unlock()
	if m, ok := e.metrics.PerRule[ruleID]; ok {
		f(m)
	}
}

// SetEnabled toggles the whole engine.
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = enabled
}

// Enabled reports whether the engine evaluates events.
func (e *Engine) Enabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled
}

// ConfigureDetector applies a JSON override to a registered detector.
func (e *Engine) ConfigureDetector(ruleID string, config json.RawMessage) error {
	detector := e.detector(ruleID)
	if detector == nil {
		return fmt.Errorf("detector not found: %s", ruleID)
	}
	return detector.Configure(config)
}

// SetDetectorEnabled toggles one detector.
func (e *Engine) SetDetectorEnabled(ruleID string, enabled bool) error {
	detector := e.detector(ruleID)
	if detector == nil {
		return fmt.Errorf("detector not found: %s", ruleID)
	}
	detector.SetEnabled(enabled)
	return nil
}

func (e *Engine) detector(ruleID string) Detector {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, d := range e.detectors {
		if d.RuleID() == ruleID {
			return d
		}
	}
	return nil
}

// Metrics returns a copy of the engine counters.
func (e *Engine) Metrics() EngineMetrics {
	e.metrics.mu.RLock()
	defer e.metrics.mu.RUnlock()

	perRule := make(map[string]*RuleMetrics, len(e.metrics.PerRule))
	for rule, m := range e.metrics.PerRule {
		copied := *m
		perRule[rule] = &copied
	}
	return EngineMetrics{
		EventsProcessed: e.metrics.EventsProcessed,
		AlertsRaised:    e.metrics.AlertsRaised,
		RuleErrors:      e.metrics.RuleErrors,
		LastProcessedAt: e.metrics.LastProcessedAt,
		PerRule:         perRule,
	}
}

// DefaultDetectors builds the full rule set wired to the audit store.
func DefaultDetectors(events audit.Store, config Config) []Detector {
	return []Detector{
		NewAuthFailBurstDetector(events, config),
		NewRepeatedDenialsDetector(events, config),
		NewAdminOffHoursDetector(config),
		NewPrivilegeEscalationDetector(events, config),
		NewImpossibleTravelDetector(events, config),
		NewBlockedIDORDetector(),
		NewInsecureIDORDetector(),
	}
}
