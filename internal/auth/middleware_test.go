// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/sentineldesk/sentineldesk/internal/audit"
)

// stubVerifier returns a fixed principal or error.
type stubVerifier struct {
	principal *Principal
	err       error
}

func (v *stubVerifier) Verify(_ *http.Request) (*Principal, error) {
	return v.principal, v.err
}

func TestAuthenticateSuccessStoresPrincipal(t *testing.T) {
	mw := NewMiddleware(&stubVerifier{principal: &Principal{Subject: "user-1", Roles: []string{RoleViewer}}}, nil)

	var seen *Principal
	handler := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tickets", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if seen == nil || seen.Subject != "user-1" {
		t.Errorf("principal in context = %+v, want subject user-1", seen)
	}
}

func TestAuthenticateFailureRecordsAuditEvent(t *testing.T) {
	store := audit.NewMemoryStore()
	recorder := audit.NewRecorder(store, nil)
	mw := NewMiddleware(&stubVerifier{err: ErrInvalidToken}, recorder)

	handler := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached despite auth failure")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tickets", nil)
	req.RemoteAddr = "203.0.113.7:51234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	events, err := recorder.Recent(context.Background(), 10, audit.Filter{})
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("audit events = %d, want 1", len(events))
	}
	event := events[0]
	if event.Action != audit.ActionAuthFailure {
		t.Errorf("action = %q, want %q", event.Action, audit.ActionAuthFailure)
	}
	if event.Result != audit.ResultDenied {
		t.Errorf("result = %q, want denied", event.Result)
	}
	if event.Reason != "invalid_token" {
		t.Errorf("reason = %q, want invalid_token", event.Reason)
	}
	if event.SourceIP != "203.0.113.7" {
		t.Errorf("source IP = %q, want 203.0.113.7", event.SourceIP)
	}
}

func TestAuthenticateFailureAttributesBasicAuthUser(t *testing.T) {
	store := audit.NewMemoryStore()
	recorder := audit.NewRecorder(store, nil)
	mw := NewMiddleware(&stubVerifier{err: ErrInvalidCredentials}, recorder)

	handler := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tickets", nil)
	req.SetBasicAuth("mallory", "wrong")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	events, _ := recorder.Recent(context.Background(), 1, audit.Filter{})
	if len(events) != 1 {
		t.Fatalf("audit events = %d, want 1", len(events))
	}
	if events[0].Actor != "local:mallory" {
		t.Errorf("actor = %q, want local:mallory", events[0].Actor)
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name       string
		principal  *Principal
		role       string
		wantStatus int
	}{
		{"has role", &Principal{Subject: "u", Roles: []string{RoleAnalyst}}, RoleAnalyst, http.StatusOK},
		{"admin bypasses", &Principal{Subject: "u", Roles: []string{RoleAdmin}}, RoleAnalyst, http.StatusOK},
		{"lacks role", &Principal{Subject: "u", Roles: []string{RoleViewer}}, RoleAnalyst, http.StatusForbidden},
		{"unauthenticated", nil, RoleAnalyst, http.StatusUnauthorized},
	}

	mw := NewMiddleware(&stubVerifier{}, nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := mw.RequireRole(tt.role)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/audit", nil)
			if tt.principal != nil {
				req = req.WithContext(ContextWithPrincipal(req.Context(), tt.principal))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"direct connection", "192.0.2.10:44321", nil, "192.0.2.10"},
		{"x-forwarded-for", "10.0.0.1:80", map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"}, "203.0.113.5"},
		{"x-real-ip", "10.0.0.1:80", map[string]string{"X-Real-IP": "198.51.100.2"}, "198.51.100.2"},
		{"invalid xff falls through", "192.0.2.10:44321", map[string]string{"X-Forwarded-For": "garbage"}, "192.0.2.10"},
		{"ipv6 remote", "[2001:db8::1]:8080", nil, "2001:db8::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := ClientIP(r); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBasicVerifier(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	verifier := NewBasicVerifier("operator", string(hash))

	t.Run("valid credentials", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.SetBasicAuth("operator", "s3cret")
		principal, err := verifier.Verify(r)
		if err != nil {
			t.Fatalf("Verify() error = %v", err)
		}
		if principal.Subject != "local:operator" {
			t.Errorf("Subject = %q, want local:operator", principal.Subject)
		}
		if !principal.IsAdmin() {
			t.Error("basic-auth principal should be admin")
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.SetBasicAuth("operator", "nope")
		if _, err := verifier.Verify(r); err != ErrInvalidCredentials {
			t.Errorf("Verify() error = %v, want ErrInvalidCredentials", err)
		}
	})

	t.Run("wrong username", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.SetBasicAuth("mallory", "s3cret")
		if _, err := verifier.Verify(r); err != ErrInvalidCredentials {
			t.Errorf("Verify() error = %v, want ErrInvalidCredentials", err)
		}
	})

	t.Run("no credentials", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if _, err := verifier.Verify(r); err != ErrNoCredentials {
			t.Errorf("Verify() error = %v, want ErrNoCredentials", err)
		}
	})
}
