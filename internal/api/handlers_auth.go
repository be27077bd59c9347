// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"net/http"

	"github.com/sentineldesk/sentineldesk/internal/audit"
)

// Login handles POST /api/v1/auth/login. Credential verification already
// happened in the authentication middleware; this endpoint exists so
// successful sign-ins leave an auth:login trail, which the impossible
// travel rule correlates across source addresses.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	principal := h.principal(w, r)
	if principal == nil {
		return
	}

	h.record(r, principal, audit.Event{
		Action: audit.ActionAuthLogin,
		Target: "session",
		Result: audit.ResultSuccess,
	})
	respondData(w, http.StatusOK, principal, 1)
}
