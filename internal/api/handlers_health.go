// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"net/http"
	"time"

	"github.com/sentineldesk/sentineldesk/internal/audit"
)

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"uptime":  time.Since(h.startTime).Round(time.Second).String(),
		"started": h.startTime.UTC(),
	}, 1)
}

// HealthLive handles GET /api/v1/health/live. Process-up probe.
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	respondData(w, http.StatusOK, map[string]string{"status": "alive"}, 1)
}

// HealthReady handles GET /api/v1/health/ready. Ready means the audit
// store answers queries.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if _, err := h.recorder.Recent(r.Context(), 1, audit.Filter{}); err != nil {
		respondError(w, http.StatusServiceUnavailable, "NOT_READY", "audit store unavailable", err)
		return
	}
	respondData(w, http.StatusOK, map[string]string{"status": "ready"}, 1)
}
