// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"net"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/sentineldesk/sentineldesk/internal/audit"
	"github.com/sentineldesk/sentineldesk/internal/logging"
)

// Middleware authenticates requests and records authentication failures in
// the audit log so the detection engine can observe brute-force patterns.
type Middleware struct {
	verifier Verifier
	recorder *audit.Recorder
}

// NewMiddleware creates the authentication middleware.
func NewMiddleware(verifier Verifier, recorder *audit.Recorder) *Middleware {
	return &Middleware{
		verifier: verifier,
		recorder: recorder,
	}
}

// Authenticate verifies the request's credentials, stores the principal in
// the request context, and rejects unauthenticated requests with 401. Every
// rejection is recorded as an auth:failure audit event before the response
// is written.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := m.verifier.Verify(r)
		if err != nil {
			m.recordFailure(r, err)
			writeAuthError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		ctx := ContextWithPrincipal(r.Context(), principal)
		ctx = logging.ContextWithCorrelationID(ctx, logging.GenerateCorrelationID())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects authenticated requests whose principal lacks the role.
// Admin passes every role check.
func (m *Middleware) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := PrincipalFromContext(r.Context())
			if principal == nil {
				writeAuthError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if !principal.IsAdmin() && !principal.HasRole(role) {
				writeAuthError(w, http.StatusForbidden, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// recordFailure appends an auth:failure event. Recording errors are logged
// and swallowed; the 401 still goes out.
func (m *Middleware) recordFailure(r *http.Request, verifyErr error) {
	if m.recorder == nil {
		return
	}

	reason := "invalid_credentials"
	switch verifyErr {
	case ErrNoCredentials:
		reason = "missing_credentials"
	case ErrInvalidToken:
		reason = "invalid_token"
	}

	_, err := m.recorder.Record(r.Context(), audit.Event{
		Actor:    attemptedSubject(r),
		SourceIP: ClientIP(r),
		Action:   audit.ActionAuthFailure,
		Target:   r.URL.Path,
		Result:   audit.ResultDenied,
		Reason:   reason,
	})
	if err != nil {
		logging.Err(err).Str("path", r.URL.Path).Msg("failed to record auth failure")
	}
}

// attemptedSubject extracts a best-effort identity from failed credentials
// so repeated failures by the same account are attributable.
func attemptedSubject(r *http.Request) string {
	if username, _, ok := r.BasicAuth(); ok && username != "" {
		return "local:" + username
	}
	return audit.SystemActor
}

// ClientIP returns the originating client address. X-Forwarded-For and
// X-Real-IP are consulted first; deployments behind a gateway set one of
// them, and direct connections fall back to RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		ip := strings.TrimSpace(parts[0])
		if net.ParseIP(ip) != nil {
			return ip
		}
	}
	if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
		if net.ParseIP(xrip) != nil {
			return xrip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
