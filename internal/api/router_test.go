// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/sentineldesk/sentineldesk/internal/alerts"
	"github.com/sentineldesk/sentineldesk/internal/audit"
	"github.com/sentineldesk/sentineldesk/internal/auth"
	"github.com/sentineldesk/sentineldesk/internal/authz"
	"github.com/sentineldesk/sentineldesk/internal/config"
	"github.com/sentineldesk/sentineldesk/internal/detection"
	"github.com/sentineldesk/sentineldesk/internal/models"
	"github.com/sentineldesk/sentineldesk/internal/tickets"
)

// stubVerifier maps bearer tokens to principals.
type stubVerifier struct {
	byToken map[string]*auth.Principal
}

func (v *stubVerifier) Verify(r *http.Request) (*auth.Principal, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, auth.ErrNoCredentials
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if principal, ok := v.byToken[token]; ok {
		return principal, nil
	}
	return nil, auth.ErrInvalidToken
}

type apiFixture struct {
	server     *httptest.Server
	events     *audit.MemoryStore
	alertStore *alerts.MemoryStore
	tickets    *tickets.Service
	manager    *alerts.Manager
}

var (
	viewerAlice = &auth.Principal{Subject: "alice", Name: "Alice", Roles: []string{auth.RoleViewer}}
	viewerBob   = &auth.Principal{Subject: "bob", Name: "Bob", Roles: []string{auth.RoleViewer}}
	analystCara = &auth.Principal{Subject: "cara", Name: "Cara", Roles: []string{auth.RoleAnalyst}}
	adminDana   = &auth.Principal{Subject: "dana", Name: "Dana", Roles: []string{auth.RoleAdmin}}
)

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{CORSOrigins: []string{"*"}},
	}

	events := audit.NewMemoryStore()
	recorder := audit.NewRecorder(events, nil)

	ticketStore := tickets.NewMemoryStore()
	ticketService := tickets.NewService(ticketStore)

	alertStore := alerts.NewMemoryStore()
	manager := alerts.NewManager(alertStore, ticketService, recorder)

	authorizer, err := authz.NewAuthorizer(authz.Config{})
	if err != nil {
		t.Fatalf("NewAuthorizer() error = %v", err)
	}
	t.Cleanup(authorizer.Close)

	engine := detection.NewEngine(events, alertStore)
	for _, d := range detection.DefaultDetectors(events, detection.DefaultConfig()) {
		engine.RegisterDetector(d)
	}
	simulator := detection.NewSimulator(recorder, engine, detection.DefaultConfig())

	handler := NewHandler(ticketService, recorder, manager, authorizer, engine, simulator, cfg)
	verifier := &stubVerifier{byToken: map[string]*auth.Principal{
		"alice": viewerAlice,
		"bob":   viewerBob,
		"cara":  analystCara,
		"dana":  adminDana,
	}}
	router := NewRouter(handler, auth.NewMiddleware(verifier, recorder), NewChiMiddleware(cfg))

	server := httptest.NewServer(router.Setup())
	t.Cleanup(server.Close)

	return &apiFixture{
		server:     server,
		events:     events,
		alertStore: alertStore,
		tickets:    ticketService,
		manager:    manager,
	}
}

// do issues a request as the given subject ("" for anonymous).
func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeEnvelope(t *testing.T, resp *http.Response) models.APIResponse {
	t.Helper()

	var envelope models.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return envelope
}

// auditEvents returns the recorded events matching the filter.
func (f *apiFixture) auditEvents(t *testing.T, filter audit.Filter) []audit.Event {
	t.Helper()

	events, err := f.events.Recent(context.Background(), 0, filter)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	return events
}

func (f *apiFixture) createTicket(t *testing.T, token, title string) models.Ticket {
	t.Helper()

	resp := f.do(t, http.MethodPost, "/api/v1/tickets", token, CreateTicketRequest{Title: title, Body: "details"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create ticket status = %d, want 201", resp.StatusCode)
	}
	envelope := decodeEnvelope(t, resp)
	raw, _ := json.Marshal(envelope.Data)
	var ticket models.Ticket
	if err := json.Unmarshal(raw, &ticket); err != nil {
		t.Fatalf("unmarshal ticket: %v", err)
	}
	return ticket
}

func TestHealthIsUnauthenticated(t *testing.T) {
	f := newAPIFixture(t)

	for _, path := range []string{"/api/v1/health", "/api/v1/health/live", "/api/v1/health/ready"} {
		resp := f.do(t, http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestUnauthenticatedRequestRecordsAuthFailure(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodGet, "/api/v1/tickets", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	failures := f.auditEvents(t, audit.Filter{Actions: []string{audit.ActionAuthFailure}})
	if len(failures) != 1 {
		t.Fatalf("recorded %d auth:failure events, want 1", len(failures))
	}
	if failures[0].Reason != "missing_credentials" {
		t.Errorf("Reason = %q, want missing_credentials", failures[0].Reason)
	}
}

func TestTicketOwnershipEnforcement(t *testing.T) {
	f := newAPIFixture(t)
	ticket := f.createTicket(t, "alice", "my printer is haunted")

	// The owner reads it fine.
	resp := f.do(t, http.MethodGet, ticketPath(ticket.ID), "alice", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner read = %d, want 200", resp.StatusCode)
	}

	// Another viewer is denied with exactly one authz:denied trail.
	resp = f.do(t, http.MethodGet, ticketPath(ticket.ID), "bob", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-owner read = %d, want 403", resp.StatusCode)
	}
	denials := f.auditEvents(t, audit.Filter{Actions: []string{audit.ActionAuthzDenied}})
	if len(denials) != 1 {
		t.Fatalf("recorded %d authz:denied events, want 1", len(denials))
	}
	if denials[0].Actor != "bob" || denials[0].Reason != authz.ReasonNotOwner {
		t.Errorf("denial = %s/%s, want bob/%s", denials[0].Actor, denials[0].Reason, authz.ReasonNotOwner)
	}

	// An analyst bypasses ownership.
	resp = f.do(t, http.MethodGet, ticketPath(ticket.ID), "cara", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("analyst read = %d, want 200", resp.StatusCode)
	}
}

func TestInsecureReadSkipsOwnership(t *testing.T) {
	f := newAPIFixture(t)
	ticket := f.createTicket(t, "alice", "secret plans")

	resp := f.do(t, http.MethodGet, "/api/v1/tickets/insecure/"+itoa(ticket.ID), "bob", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("insecure read = %d, want 200", resp.StatusCode)
	}

	reads := f.auditEvents(t, audit.Filter{Actions: []string{audit.ActionTicketsReadInsecure}})
	if len(reads) != 1 {
		t.Fatalf("recorded %d tickets:read_insecure events, want 1", len(reads))
	}
	if reads[0].Actor != "bob" || reads[0].Result != audit.ResultSuccess {
		t.Errorf("event = %s/%s, want bob/success", reads[0].Actor, reads[0].Result)
	}

	// Exactly zero authz:denied: the vulnerable path never consults the
	// policy beyond authentication.
	if denials := f.auditEvents(t, audit.Filter{Actions: []string{audit.ActionAuthzDenied}}); len(denials) != 0 {
		t.Errorf("recorded %d authz:denied events, want 0", len(denials))
	}
}

func TestTicketListScopedByRole(t *testing.T) {
	f := newAPIFixture(t)
	f.createTicket(t, "alice", "alice ticket")
	f.createTicket(t, "bob", "bob ticket")

	resp := f.do(t, http.MethodGet, "/api/v1/tickets", "alice", nil)
	if envelope := decodeEnvelope(t, resp); envelope.Metadata.Count != 1 {
		t.Errorf("viewer list count = %d, want 1", envelope.Metadata.Count)
	}

	resp = f.do(t, http.MethodGet, "/api/v1/tickets", "cara", nil)
	if envelope := decodeEnvelope(t, resp); envelope.Metadata.Count != 2 {
		t.Errorf("analyst list count = %d, want 2", envelope.Metadata.Count)
	}
}

func TestTicketValidation(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/tickets", "alice", CreateTicketRequest{Title: ""})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	envelope := decodeEnvelope(t, resp)
	if envelope.Error == nil || envelope.Error.Code != "VALIDATION_ERROR" {
		t.Errorf("error = %+v, want VALIDATION_ERROR", envelope.Error)
	}

	resp = f.do(t, http.MethodGet, "/api/v1/tickets/999", "alice", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing ticket = %d, want 404", resp.StatusCode)
	}
}

func TestTicketUpdateAndComments(t *testing.T) {
	f := newAPIFixture(t)
	ticket := f.createTicket(t, "alice", "flaky wifi")

	status := "in_progress"
	resp := f.do(t, http.MethodPut, ticketPath(ticket.ID), "alice", UpdateTicketRequest{Status: &status})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update = %d, want 200", resp.StatusCode)
	}

	bogus := "parked"
	resp = f.do(t, http.MethodPut, ticketPath(ticket.ID), "alice", UpdateTicketRequest{Status: &bogus})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid status update = %d, want 400", resp.StatusCode)
	}

	resp = f.do(t, http.MethodPost, ticketPath(ticket.ID)+"/comments", "alice", CreateCommentRequest{Body: "restarted the router"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("comment = %d, want 201", resp.StatusCode)
	}

	resp = f.do(t, http.MethodGet, ticketPath(ticket.ID)+"/comments", "alice", nil)
	if envelope := decodeEnvelope(t, resp); envelope.Metadata.Count != 1 {
		t.Errorf("comments count = %d, want 1", envelope.Metadata.Count)
	}
}

func TestAlertLifecycleOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	seedAlert(t, f)

	// Viewers cannot see alerts.
	resp := f.do(t, http.MethodGet, "/api/v1/alerts", "alice", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("viewer alerts list = %d, want 403", resp.StatusCode)
	}

	// Analyst lists and triages.
	resp = f.do(t, http.MethodGet, "/api/v1/alerts", "cara", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("analyst alerts list = %d, want 200", resp.StatusCode)
	}
	resp = f.do(t, http.MethodPatch, "/api/v1/alerts/1/triage", "cara", TriageRequest{Status: alerts.TriageFalsePositive})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("triage = %d, want 200", resp.StatusCode)
	}

	// Escalation creates the linked ticket; repeating conflicts.
	resp = f.do(t, http.MethodPost, "/api/v1/alerts/1/escalate", "cara", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("escalate = %d, want 201", resp.StatusCode)
	}
	resp = f.do(t, http.MethodPost, "/api/v1/alerts/1/escalate", "cara", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second escalate = %d, want 409", resp.StatusCode)
	}

	list, err := f.tickets.ListFor(context.Background(), "cara", true)
	if err != nil {
		t.Fatalf("ListFor() error = %v", err)
	}
	if len(list) != 1 || !strings.HasPrefix(list[0].Title, "[Security Incident]") {
		t.Fatalf("escalation tickets = %+v, want one incident ticket", list)
	}

	// Deleting alerts is admin-only.
	resp = f.do(t, http.MethodDelete, "/api/v1/alerts/1", "cara", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("analyst delete = %d, want 403", resp.StatusCode)
	}
	resp = f.do(t, http.MethodDelete, "/api/v1/alerts/1", "dana", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin delete = %d, want 200", resp.StatusCode)
	}
}

func TestAuditAccessAndClear(t *testing.T) {
	f := newAPIFixture(t)
	f.createTicket(t, "alice", "seed some audit events")

	resp := f.do(t, http.MethodGet, "/api/v1/audit", "alice", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("viewer audit read = %d, want 403", resp.StatusCode)
	}

	resp = f.do(t, http.MethodGet, "/api/v1/audit", "cara", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("analyst audit read = %d, want 200", resp.StatusCode)
	}

	// Export is admin-only and sets the attachment header.
	resp = f.do(t, http.MethodGet, "/api/v1/audit/export", "cara", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("analyst export = %d, want 403", resp.StatusCode)
	}
	resp = f.do(t, http.MethodGet, "/api/v1/audit/export", "dana", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin export = %d, want 200", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("Content-Disposition = %q, want attachment", cd)
	}

	// Clear leaves exactly the marker event.
	resp = f.do(t, http.MethodDelete, "/api/v1/audit", "dana", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin clear = %d, want 200", resp.StatusCode)
	}
	remaining := f.auditEvents(t, audit.Filter{})
	if len(remaining) != 1 {
		t.Fatalf("events after clear = %d, want exactly the marker", len(remaining))
	}
	if remaining[0].Action != audit.ActionAuditClear || remaining[0].Actor != "dana" {
		t.Errorf("marker = %s by %s, want %s by dana", remaining[0].Action, remaining[0].Actor, audit.ActionAuditClear)
	}
}

func TestSimulateAttacksIsAdminOnly(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/admin/simulate-attacks", "cara", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("analyst simulate = %d, want 403", resp.StatusCode)
	}

	resp = f.do(t, http.MethodPost, "/api/v1/admin/simulate-attacks", "dana", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("admin simulate = %d, want 202", resp.StatusCode)
	}

	// The simulation runs in the background; wait for alerts to land.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		stored, err := f.alertStore.List(context.Background(), "")
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(stored) > 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("simulation raised no alerts within the deadline")
}

func TestDetectionAdminEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodGet, "/api/v1/admin/detection", "dana", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("detection status = %d, want 200", resp.StatusCode)
	}

	resp = f.do(t, http.MethodPatch, "/api/v1/admin/detection/rules/"+detection.RuleAuthFailBurst, "dana",
		DetectionRuleRequest{Config: json.RawMessage(`{"threshold": 3}`)})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rule configure = %d, want 200", resp.StatusCode)
	}

	enabled := false
	resp = f.do(t, http.MethodPatch, "/api/v1/admin/detection/rules/NO_SUCH_RULE", "dana",
		DetectionRuleRequest{Enabled: &enabled})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown rule = %d, want 404", resp.StatusCode)
	}

	resp = f.do(t, http.MethodGet, "/api/v1/admin/detection", "cara", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("analyst detection status = %d, want 403", resp.StatusCode)
	}
}

func TestLoginRecordsAuthLogin(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/auth/login", "alice", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login = %d, want 200", resp.StatusCode)
	}

	logins := f.auditEvents(t, audit.Filter{Actions: []string{audit.ActionAuthLogin}})
	if len(logins) != 1 || logins[0].Actor != "alice" {
		t.Fatalf("logins = %+v, want one by alice", logins)
	}
}

// seedAlert stores one raised alert directly.
func seedAlert(t *testing.T, f *apiFixture) {
	t.Helper()

	alert := &alerts.Alert{
		CreatedAt:      time.Now().UTC(),
		RuleID:         detection.RuleAuthFailBurst,
		Severity:       alerts.SeverityMedium,
		DedupKey:       "seed|bucket",
		TriggerEventID: 1,
		TriageStatus:   alerts.TriageNew,
	}
	if err := f.alertStore.Create(context.Background(), alert); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
}

func ticketPath(id int64) string {
	return "/api/v1/tickets/" + itoa(id)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
