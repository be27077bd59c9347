// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sentineldesk/sentineldesk/internal/alerts"
	"github.com/sentineldesk/sentineldesk/internal/authz"
)

// TriageRequest is the PATCH /alerts/{id}/triage body.
type TriageRequest struct {
	Status string `json:"status" validate:"required,oneof=new investigating resolved false_positive"`
}

func alertTarget(id int64) string {
	return fmt.Sprintf("alert:%d", id)
}

// AlertsList handles GET /api/v1/alerts. The optional ?status= query
// filters by triage status.
func (h *Handler) AlertsList(w http.ResponseWriter, r *http.Request) {
	principal := h.principal(w, r)
	if principal == nil {
		return
	}
	if !h.authorize(w, r, principal, authz.ObjectAlerts, authz.ActionRead, "alerts") {
		return
	}

	status := r.URL.Query().Get("status")
	if status != "" && !alerts.IsValidTriageStatus(status) {
		respondError(w, http.StatusBadRequest, "INVALID_STATUS", "unknown triage status: "+status, nil)
		return
	}

	list, err := h.alerts.List(r.Context(), status)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL", "failed to list alerts", err)
		return
	}
	respondData(w, http.StatusOK, list, len(list))
}

// AlertsGet handles GET /api/v1/alerts/{id}.
func (h *Handler) AlertsGet(w http.ResponseWriter, r *http.Request) {
	principal := h.principal(w, r)
	if principal == nil {
		return
	}
	id := pathID(w, r)
	if id < 0 {
		return
	}
	if !h.authorize(w, r, principal, authz.ObjectAlerts, authz.ActionRead, alertTarget(id)) {
		return
	}

	alert, err := h.alerts.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, alerts.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "alert not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL", "failed to load alert", err)
		return
	}
	respondData(w, http.StatusOK, alert, 1)
}

// AlertsTriage handles PATCH /api/v1/alerts/{id}/triage. Any status can
// move to any other status; analysts correct mistakes by moving back.
func (h *Handler) AlertsTriage(w http.ResponseWriter, r *http.Request) {
	principal := h.principal(w, r)
	if principal == nil {
		return
	}
	id := pathID(w, r)
	if id < 0 {
		return
	}
	if !h.authorize(w, r, principal, authz.ObjectAlerts, authz.ActionTriage, alertTarget(id)) {
		return
	}

	var req TriageRequest
	if !decodeJSON(w, r, &req) || !validateRequest(w, &req) {
		return
	}

	alert, err := h.alerts.SetTriageStatus(r.Context(), h.actor(r, principal), id, req.Status)
	if err != nil {
		switch {
		case errors.Is(err, alerts.ErrNotFound):
			respondError(w, http.StatusNotFound, "NOT_FOUND", "alert not found", nil)
		case errors.Is(err, alerts.ErrInvalidStatus):
			respondError(w, http.StatusBadRequest, "INVALID_STATUS", err.Error(), nil)
		default:
			respondError(w, http.StatusInternalServerError, "INTERNAL", "failed to update triage status", err)
		}
		return
	}
	respondData(w, http.StatusOK, alert, 1)
}

// AlertsEscalate handles POST /api/v1/alerts/{id}/escalate. Escalation
// creates a linked incident ticket owned by the caller; repeating it
// returns 409 with the existing link intact.
func (h *Handler) AlertsEscalate(w http.ResponseWriter, r *http.Request) {
	principal := h.principal(w, r)
	if principal == nil {
		return
	}
	id := pathID(w, r)
	if id < 0 {
		return
	}
	if !h.authorize(w, r, principal, authz.ObjectAlerts, authz.ActionEscalate, alertTarget(id)) {
		return
	}

	alert, err := h.alerts.Escalate(r.Context(), h.actor(r, principal), id)
	if err != nil {
		switch {
		case errors.Is(err, alerts.ErrNotFound):
			respondError(w, http.StatusNotFound, "NOT_FOUND", "alert not found", nil)
		case errors.Is(err, alerts.ErrAlreadyEscalated):
			respondError(w, http.StatusConflict, "ALREADY_ESCALATED", "alert is already escalated", nil)
		default:
			respondError(w, http.StatusInternalServerError, "INTERNAL", "failed to escalate alert", err)
		}
		return
	}
	respondData(w, http.StatusCreated, alert, 1)
}

// AlertsDelete handles DELETE /api/v1/alerts/{id}.
func (h *Handler) AlertsDelete(w http.ResponseWriter, r *http.Request) {
	principal := h.principal(w, r)
	if principal == nil {
		return
	}
	id := pathID(w, r)
	if id < 0 {
		return
	}
	if !h.authorize(w, r, principal, authz.ObjectAlerts, authz.ActionDelete, alertTarget(id)) {
		return
	}

	if err := h.alerts.Delete(r.Context(), h.actor(r, principal), id); err != nil {
		if errors.Is(err, alerts.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "alert not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL", "failed to delete alert", err)
		return
	}
	respondData(w, http.StatusOK, map[string]int64{"deleted": id}, 1)
}

// AlertsClear handles DELETE /api/v1/alerts.
func (h *Handler) AlertsClear(w http.ResponseWriter, r *http.Request) {
	principal := h.principal(w, r)
	if principal == nil {
		return
	}
	if !h.authorize(w, r, principal, authz.ObjectAlerts, authz.ActionClear, "alerts") {
		return
	}

	deleted, err := h.alerts.ClearAll(r.Context(), h.actor(r, principal))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL", "failed to clear alerts", err)
		return
	}
	respondData(w, http.StatusOK, map[string]int64{"deleted": deleted}, 1)
}
