// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/sentineldesk/sentineldesk/internal/audit"
	"github.com/sentineldesk/sentineldesk/internal/auth"
	"github.com/sentineldesk/sentineldesk/internal/authz"
	"github.com/sentineldesk/sentineldesk/internal/logging"
	"github.com/sentineldesk/sentineldesk/internal/middleware"
)

// DetectionRuleRequest is the PATCH /admin/detection/rules/{rule} body.
type DetectionRuleRequest struct {
	Enabled *bool           `json:"enabled"`
	Config  json.RawMessage `json:"config"`
}

// DetectionEngineRequest is the PATCH /admin/detection body.
type DetectionEngineRequest struct {
	Enabled bool `json:"enabled"`
}

// AuditList handles GET /api/v1/audit. Analysts read the trail; the
// optional filters narrow it.
func (h *Handler) AuditList(w http.ResponseWriter, r *http.Request) {
	principal := h.principal(w, r)
	if principal == nil {
		return
	}
	if !h.authorize(w, r, principal, authz.ObjectAudit, authz.ActionRead, "audit") {
		return
	}

	limit := getIntParam(r, "limit", 100)
	filter, ok := auditFilterFromQuery(w, r)
	if !ok {
		return
	}

	events, err := h.recorder.Recent(r.Context(), limit, filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL", "failed to list audit events", err)
		return
	}
	respondData(w, http.StatusOK, events, len(events))
}

// AuditExport handles GET /api/v1/audit/export. Admin-only; streams the
// full matching trail as a JSON attachment and records the export.
func (h *Handler) AuditExport(w http.ResponseWriter, r *http.Request) {
	principal := h.principal(w, r)
	if principal == nil {
		return
	}
	if !h.authorize(w, r, principal, authz.ObjectAudit, authz.ActionExport, "audit") {
		return
	}

	filter, ok := auditFilterFromQuery(w, r)
	if !ok {
		return
	}

	// Limit 0 means the full trail.
	events, err := h.recorder.Recent(r.Context(), getIntParam(r, "limit", 0), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL", "failed to export audit events", err)
		return
	}

	h.record(r, principal, audit.Event{
		Action: audit.ActionAuditExport,
		Target: "audit_events",
		Result: audit.ResultSuccess,
	})

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-export.json"`)
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(events); err != nil {
		logging.Error().Err(err).Msg("Failed to write audit export")
	}
}

// AuditClear handles DELETE /api/v1/audit. The purge records its own
// marker event first, so exactly one trace of the clear survives.
func (h *Handler) AuditClear(w http.ResponseWriter, r *http.Request) {
	principal := h.principal(w, r)
	if principal == nil {
		return
	}
	if !h.authorize(w, r, principal, authz.ObjectAudit, authz.ActionClear, "audit") {
		return
	}

	deleted, err := h.recorder.ClearAll(r.Context(), audit.Event{
		Actor:     principal.Subject,
		ActorName: principal.Name,
		SourceIP:  auth.ClientIP(r),
		RequestID: middleware.GetRequestID(r.Context()),
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL", "failed to clear audit events", err)
		return
	}
	respondData(w, http.StatusOK, map[string]int64{"deleted": deleted}, 1)
}

// SimulateAttacks handles POST /api/v1/admin/simulate-attacks. The
// simulation runs in the background; the endpoint acknowledges with 202.
func (h *Handler) SimulateAttacks(w http.ResponseWriter, r *http.Request) {
	principal := h.principal(w, r)
	if principal == nil {
		return
	}
	if !h.authorize(w, r, principal, authz.ObjectAdmin, authz.ActionSimulate, "admin:simulate_attacks") {
		return
	}

	h.record(r, principal, audit.Event{
		Action: audit.ActionSimulateAttacks,
		Target: "admin:simulate_attacks",
		Result: audit.ResultSuccess,
	})

	subject := principal.Subject
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := h.simulator.Run(ctx, subject); err != nil {
			logging.Err(err).Str("triggered_by", subject).Msg("attack simulation failed")
		}
	}()

	respondData(w, http.StatusAccepted, map[string]string{"status": "simulation started"}, 1)
}

// DetectionStatus handles GET /api/v1/admin/detection.
func (h *Handler) DetectionStatus(w http.ResponseWriter, r *http.Request) {
	principal := h.principal(w, r)
	if principal == nil {
		return
	}
	if !h.authorize(w, r, principal, authz.ObjectDetection, authz.ActionRead, "detection") {
		return
	}

	m := h.engine.Metrics()
	respondData(w, http.StatusOK, map[string]interface{}{
		"enabled":           h.engine.Enabled(),
		"events_processed":  m.EventsProcessed,
		"alerts_raised":     m.AlertsRaised,
		"rule_errors":       m.RuleErrors,
		"last_processed_at": m.LastProcessedAt,
		"rules":             m.PerRule,
	}, 1)
}

// DetectionConfigure handles PATCH /api/v1/admin/detection.
func (h *Handler) DetectionConfigure(w http.ResponseWriter, r *http.Request) {
	principal := h.principal(w, r)
	if principal == nil {
		return
	}
	if !h.authorize(w, r, principal, authz.ObjectDetection, authz.ActionUpdate, "detection") {
		return
	}

	var req DetectionEngineRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	h.engine.SetEnabled(req.Enabled)
	respondData(w, http.StatusOK, map[string]bool{"enabled": req.Enabled}, 1)
}

// DetectionRuleConfigure handles PATCH /api/v1/admin/detection/rules/{rule}.
func (h *Handler) DetectionRuleConfigure(w http.ResponseWriter, r *http.Request) {
	principal := h.principal(w, r)
	if principal == nil {
		return
	}

	rule := chi.URLParam(r, "rule")
	if !h.authorize(w, r, principal, authz.ObjectDetection, authz.ActionUpdate, "detection:"+rule) {
		return
	}

	var req DetectionRuleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if len(req.Config) > 0 {
		if err := h.engine.ConfigureDetector(rule, req.Config); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_RULE_CONFIG", err.Error(), nil)
			return
		}
	}
	if req.Enabled != nil {
		if err := h.engine.SetDetectorEnabled(rule, *req.Enabled); err != nil {
			respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
			return
		}
	}
	respondData(w, http.StatusOK, map[string]string{"rule": rule}, 1)
}

// auditFilterFromQuery builds an audit filter from the query string. A
// false return means the 400 was already written.
func auditFilterFromQuery(w http.ResponseWriter, r *http.Request) (audit.Filter, bool) {
	q := r.URL.Query()
	filter := audit.Filter{
		Actor:    q.Get("actor"),
		SourceIP: q.Get("source_ip"),
	}
	if action := q.Get("action"); action != "" {
		filter.Actions = []string{action}
	}
	if result := q.Get("result"); result != "" {
		filter.Results = []audit.Result{audit.Result(result)}
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_SINCE", "since must be RFC3339", nil)
			return audit.Filter{}, false
		}
		filter.Since = &since
	}
	return filter, true
}
