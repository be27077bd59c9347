// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api provides the HTTP surface: routing via Chi, request
// validation, and the authorization glue between handlers and the
// permission policy. Every denial writes exactly one authz:denied audit
// event before the 403 leaves the server.
package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/sentineldesk/sentineldesk/internal/alerts"
	"github.com/sentineldesk/sentineldesk/internal/audit"
	"github.com/sentineldesk/sentineldesk/internal/auth"
	"github.com/sentineldesk/sentineldesk/internal/authz"
	"github.com/sentineldesk/sentineldesk/internal/config"
	"github.com/sentineldesk/sentineldesk/internal/detection"
	"github.com/sentineldesk/sentineldesk/internal/metrics"
	"github.com/sentineldesk/sentineldesk/internal/middleware"
	"github.com/sentineldesk/sentineldesk/internal/tickets"
)

// Handler carries the dependencies for all API handlers.
//
// Handler methods are split across files:
//   - handlers.go: Handler struct, constructor, authorization glue
//   - handlers_helpers.go: response and parameter helpers
//   - handlers_tickets.go: ticket CRUD, comments, the insecure read
//   - handlers_alerts.go: alert triage, escalation, deletion
//   - handlers_admin.go: audit access, simulation, detection admin
//   - handlers_health.go: health and readiness probes
type Handler struct {
	tickets    *tickets.Service
	recorder   *audit.Recorder
	alerts     *alerts.Manager
	authorizer *authz.Authorizer
	engine     *detection.Engine
	simulator  *detection.Simulator
	config     *config.Config
	startTime  time.Time
}

// NewHandler creates the API handler.
func NewHandler(
	ticketService *tickets.Service,
	recorder *audit.Recorder,
	alertManager *alerts.Manager,
	authorizer *authz.Authorizer,
	engine *detection.Engine,
	simulator *detection.Simulator,
	cfg *config.Config,
) *Handler {
	return &Handler{
		tickets:    ticketService,
		recorder:   recorder,
		alerts:     alertManager,
		authorizer: authorizer,
		engine:     engine,
		simulator:  simulator,
		config:     cfg,
		startTime:  time.Now(),
	}
}

// principal returns the authenticated principal, or writes 401.
func (h *Handler) principal(w http.ResponseWriter, r *http.Request) *auth.Principal {
	principal := auth.PrincipalFromContext(r.Context())
	if principal == nil {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return nil
	}
	return principal
}

// authorize checks a role-scoped operation. On denial it records the
// authz:denied audit event, writes the 403, and returns false.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, principal *auth.Principal, object, action, target string) bool {
	decision := h.authorizer.Authorize(principal, object, action)
	return h.finishDecision(w, r, principal, decision, object, action, target)
}

// authorizeOwned checks an ownership-scoped operation the same way.
func (h *Handler) authorizeOwned(w http.ResponseWriter, r *http.Request, principal *auth.Principal, object, action, target, ownerSubject string) bool {
	decision := h.authorizer.AuthorizeOwned(principal, object, action, ownerSubject)
	return h.finishDecision(w, r, principal, decision, object, action, target)
}

// finishDecision records metrics for every decision and the audit trail
// for denials. Exactly one authz:denied event is written per denied
// request.
func (h *Handler) finishDecision(w http.ResponseWriter, r *http.Request, principal *auth.Principal, decision authz.Decision, object, action, target string) bool {
	metrics.RecordAuthzDecision(object, action, decision.Allowed)
	if decision.Allowed {
		return true
	}

	// The attempted operation goes into the event metadata so detection
	// rules can report what the subject was probing for.
	attempted, _ := json.Marshal(map[string]string{
		"object": object,
		"action": action,
	})
	h.record(r, principal, audit.Event{
		Action:   audit.ActionAuthzDenied,
		Target:   target,
		Result:   audit.ResultDenied,
		Reason:   decision.Reason,
		Metadata: attempted,
	})

	respondError(w, http.StatusForbidden, "FORBIDDEN", "permission denied: "+decision.Reason, nil)
	return false
}

// record writes an audit event attributed to the request. Recorder errors
// fail the mutating operation at the call sites that need it; here the
// event is best-effort bookkeeping around an already-decided response.
func (h *Handler) record(r *http.Request, principal *auth.Principal, event audit.Event) {
	if principal != nil {
		event.Actor = principal.Subject
		event.ActorName = principal.Name
	}
	event.SourceIP = auth.ClientIP(r)
	event.RequestID = middleware.GetRequestID(r.Context())
	h.recorder.Record(r.Context(), event) //nolint:errcheck // logged by the recorder
}

// actor converts the request principal into the alert lifecycle actor.
func (h *Handler) actor(r *http.Request, principal *auth.Principal) alerts.Actor {
	return alerts.Actor{
		Subject:   principal.Subject,
		Name:      principal.Name,
		SourceIP:  auth.ClientIP(r),
		RequestID: middleware.GetRequestID(r.Context()),
	}
}
