// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package detection

import (
	"context"
	"fmt"
	"time"

	"github.com/sentineldesk/sentineldesk/internal/audit"
	"github.com/sentineldesk/sentineldesk/internal/logging"
)

// Simulator writes synthetic attack traffic into the audit log so every
// detection rule can be demonstrated end to end, then evaluates the
// window. Intended for demos and acceptance checks, admin-only at the API.
type Simulator struct {
	recorder *audit.Recorder
	engine   *Engine
	config   Config
}

// NewSimulator creates the attack simulator.
func NewSimulator(recorder *audit.Recorder, engine *Engine, config Config) *Simulator {
	return &Simulator{
		recorder: recorder,
		engine:   engine,
		config:   config.normalized(),
	}
}

// Run injects one scenario per rule and evaluates the trailing window.
// Returns the number of synthetic events written.
func (s *Simulator) Run(ctx context.Context, triggeredBy string) (int, error) {
	scenarios := []struct {
		name   string
		events []audit.Event
	}{
		{"auth_fail_burst", s.authFailBurst()},
		{"repeated_denials", s.repeatedDenials()},
		{"privilege_escalation", s.privilegeEscalation()},
		{"impossible_travel", s.impossibleTravel()},
		{"blocked_idor", s.blockedIDOR()},
	}

	written := 0
	for _, scenario := range scenarios {
		for i := range scenario.events {
			if _, err := s.recorder.Record(ctx, scenario.events[i]); err != nil {
				return written, fmt.Errorf("simulate %s: %w", scenario.name, err)
			}
			written++
		}
		logging.Debug().Str("scenario", scenario.name).Int("events", len(scenario.events)).
			Msg("attack scenario injected")
	}

	// The bus path already processed each event; the explicit evaluation
	// is the belt-and-braces pass the admin endpoint promises.
	window := s.config.AuthFailWindow
	if s.config.DeniedWindow > window {
		window = s.config.DeniedWindow
	}
	if _, err := s.engine.Evaluate(ctx, window); err != nil {
		return written, fmt.Errorf("evaluate after simulation: %w", err)
	}

	logging.Info().Str("triggered_by", triggeredBy).Int("events", written).
		Msg("attack simulation complete")
	return written, nil
}

func (s *Simulator) authFailBurst() []audit.Event {
	events := make([]audit.Event, s.config.AuthFailThreshold+1)
	for i := range events {
		events[i] = audit.Event{
			Actor:    "sim:attacker",
			SourceIP: "198.51.100.66",
			Action:   audit.ActionAuthFailure,
			Target:   "/api/v1/tickets",
			Result:   audit.ResultDenied,
			Reason:   "invalid_credentials",
		}
	}
	return events
}

func (s *Simulator) repeatedDenials() []audit.Event {
	events := make([]audit.Event, s.config.DeniedThreshold+1)
	for i := range events {
		events[i] = audit.Event{
			Actor:    "sim:prober",
			SourceIP: "198.51.100.67",
			Action:   audit.ActionAuthzDenied,
			Target:   fmt.Sprintf("ticket:%d", 100+i),
			Result:   audit.ResultDenied,
			Reason:   "not_owner",
		}
	}
	return events
}

func (s *Simulator) privilegeEscalation() []audit.Event {
	events := make([]audit.Event, s.config.EscalationThreshold+1)
	for i := range events {
		events[i] = audit.Event{
			Actor:    "sim:escalator",
			SourceIP: "198.51.100.68",
			Action:   audit.ActionAuthzDenied,
			Target:   "admin:audit",
			Result:   audit.ResultDenied,
			Reason:   "insufficient_role",
		}
	}
	return events
}

func (s *Simulator) impossibleTravel() []audit.Event {
	now := time.Now().UTC()
	return []audit.Event{
		{
			Actor:     "sim:traveler",
			SourceIP:  "203.0.113.10",
			Action:    audit.ActionAuthLogin,
			Result:    audit.ResultSuccess,
			Timestamp: now.Add(-time.Minute),
		},
		{
			Actor:    "sim:traveler",
			SourceIP: "192.0.2.200",
			Action:   audit.ActionAuthLogin,
			Result:   audit.ResultSuccess,
		},
	}
}

func (s *Simulator) blockedIDOR() []audit.Event {
	return []audit.Event{{
		Actor:    "sim:prober",
		SourceIP: "198.51.100.67",
		Action:   audit.ActionAuthzDenied,
		Target:   "ticket:7",
		Result:   audit.ResultDenied,
		Reason:   "not_owner",
	}}
}
