// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sentineldesk/sentineldesk/internal/audit"
	"github.com/sentineldesk/sentineldesk/internal/authz"
	"github.com/sentineldesk/sentineldesk/internal/models"
	"github.com/sentineldesk/sentineldesk/internal/tickets"
)

// CreateTicketRequest is the POST /tickets body.
type CreateTicketRequest struct {
	Title string `json:"title" validate:"required,max=200"`
	Body  string `json:"body" validate:"max=10000"`
}

// UpdateTicketRequest is the PUT /tickets/{id} body. Nil fields are left
// unchanged.
type UpdateTicketRequest struct {
	Title  *string `json:"title" validate:"omitempty,min=1,max=200"`
	Body   *string `json:"body" validate:"omitempty,max=10000"`
	Status *string `json:"status" validate:"omitempty,oneof=open in_progress resolved"`
}

// CreateCommentRequest is the POST /tickets/{id}/comments body.
type CreateCommentRequest struct {
	Body string `json:"body" validate:"required,max=10000"`
}

func ticketTarget(id int64) string {
	return fmt.Sprintf("ticket:%d", id)
}

// TicketsList handles GET /api/v1/tickets. Viewers see their own tickets;
// analysts and admins see everything.
func (h *Handler) TicketsList(w http.ResponseWriter, r *http.Request) {
	principal := h.principal(w, r)
	if principal == nil {
		return
	}
	if !h.authorize(w, r, principal, authz.ObjectTickets, authz.ActionList, "tickets") {
		return
	}

	list, err := h.tickets.ListFor(r.Context(), principal.Subject, principal.IsPrivileged())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL", "failed to list tickets", err)
		return
	}

	h.record(r, principal, audit.Event{
		Action: audit.ActionTicketsList,
		Target: "tickets",
		Result: audit.ResultSuccess,
	})
	respondData(w, http.StatusOK, list, len(list))
}

// TicketsCreate handles POST /api/v1/tickets.
func (h *Handler) TicketsCreate(w http.ResponseWriter, r *http.Request) {
	principal := h.principal(w, r)
	if principal == nil {
		return
	}
	if !h.authorize(w, r, principal, authz.ObjectTickets, authz.ActionCreate, "tickets") {
		return
	}

	var req CreateTicketRequest
	if !decodeJSON(w, r, &req) || !validateRequest(w, &req) {
		return
	}

	ticket, err := h.tickets.Create(r.Context(), principal.Subject, req.Title, req.Body)
	if err != nil {
		if errors.Is(err, tickets.ErrInvalidInput) {
			respondError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL", "failed to create ticket", err)
		return
	}

	h.record(r, principal, audit.Event{
		Action: audit.ActionTicketsCreate,
		Target: ticketTarget(ticket.ID),
		Result: audit.ResultSuccess,
	})
	respondData(w, http.StatusCreated, ticket, 1)
}

// TicketsGet handles GET /api/v1/tickets/{id}. Ownership is enforced: a
// viewer reading someone else's ticket gets 403 and an authz:denied trail.
func (h *Handler) TicketsGet(w http.ResponseWriter, r *http.Request) {
	principal := h.principal(w, r)
	if principal == nil {
		return
	}
	id := pathID(w, r)
	if id < 0 {
		return
	}

	ticket := h.loadTicket(w, r, id)
	if ticket == nil {
		return
	}
	if !h.authorizeOwned(w, r, principal, authz.ObjectTickets, authz.ActionRead, ticketTarget(id), ticket.OwnerSubject) {
		return
	}

	h.record(r, principal, audit.Event{
		Action: audit.ActionTicketsRead,
		Target: ticketTarget(id),
		Result: audit.ResultSuccess,
	})
	respondData(w, http.StatusOK, ticket, 1)
}

// TicketsGetInsecure handles GET /api/v1/tickets/insecure/{id}. It is the
// intentionally vulnerable read: authenticated, but with NO ownership
// check. Every hit is recorded as tickets:read_insecure, which the
// detection engine raises as a high-severity alert.
func (h *Handler) TicketsGetInsecure(w http.ResponseWriter, r *http.Request) {
	principal := h.principal(w, r)
	if principal == nil {
		return
	}
	id := pathID(w, r)
	if id < 0 {
		return
	}

	ticket := h.loadTicket(w, r, id)
	if ticket == nil {
		return
	}

	h.record(r, principal, audit.Event{
		Action: audit.ActionTicketsReadInsecure,
		Target: ticketTarget(id),
		Result: audit.ResultSuccess,
	})
	respondData(w, http.StatusOK, ticket, 1)
}

// TicketsUpdate handles PUT /api/v1/tickets/{id}.
func (h *Handler) TicketsUpdate(w http.ResponseWriter, r *http.Request) {
	principal := h.principal(w, r)
	if principal == nil {
		return
	}
	id := pathID(w, r)
	if id < 0 {
		return
	}

	ticket := h.loadTicket(w, r, id)
	if ticket == nil {
		return
	}
	if !h.authorizeOwned(w, r, principal, authz.ObjectTickets, authz.ActionUpdate, ticketTarget(id), ticket.OwnerSubject) {
		return
	}

	var req UpdateTicketRequest
	if !decodeJSON(w, r, &req) || !validateRequest(w, &req) {
		return
	}

	updated, err := h.tickets.Apply(r.Context(), ticket, tickets.Update{
		Title:  req.Title,
		Body:   req.Body,
		Status: req.Status,
	})
	if err != nil {
		if errors.Is(err, tickets.ErrInvalidInput) {
			respondError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL", "failed to update ticket", err)
		return
	}

	h.record(r, principal, audit.Event{
		Action: audit.ActionTicketsUpdate,
		Target: ticketTarget(id),
		Result: audit.ResultSuccess,
	})
	respondData(w, http.StatusOK, updated, 1)
}

// TicketsDelete handles DELETE /api/v1/tickets/{id}.
func (h *Handler) TicketsDelete(w http.ResponseWriter, r *http.Request) {
	principal := h.principal(w, r)
	if principal == nil {
		return
	}
	id := pathID(w, r)
	if id < 0 {
		return
	}

	ticket := h.loadTicket(w, r, id)
	if ticket == nil {
		return
	}
	if !h.authorizeOwned(w, r, principal, authz.ObjectTickets, authz.ActionDelete, ticketTarget(id), ticket.OwnerSubject) {
		return
	}

	if err := h.tickets.Delete(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL", "failed to delete ticket", err)
		return
	}

	h.record(r, principal, audit.Event{
		Action: audit.ActionTicketsDelete,
		Target: ticketTarget(id),
		Result: audit.ResultSuccess,
	})
	respondData(w, http.StatusOK, map[string]int64{"deleted": id}, 1)
}

// TicketsCommentCreate handles POST /api/v1/tickets/{id}/comments.
func (h *Handler) TicketsCommentCreate(w http.ResponseWriter, r *http.Request) {
	principal := h.principal(w, r)
	if principal == nil {
		return
	}
	id := pathID(w, r)
	if id < 0 {
		return
	}

	ticket := h.loadTicket(w, r, id)
	if ticket == nil {
		return
	}
	if !h.authorizeOwned(w, r, principal, authz.ObjectTickets, authz.ActionComment, ticketTarget(id), ticket.OwnerSubject) {
		return
	}

	var req CreateCommentRequest
	if !decodeJSON(w, r, &req) || !validateRequest(w, &req) {
		return
	}

	comment, err := h.tickets.Comment(r.Context(), id, principal.Subject, principal.Name, req.Body)
	if err != nil {
		if errors.Is(err, tickets.ErrInvalidInput) {
			respondError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error(), nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL", "failed to add comment", err)
		return
	}

	h.record(r, principal, audit.Event{
		Action: audit.ActionTicketsComment,
		Target: ticketTarget(id),
		Result: audit.ResultSuccess,
	})
	respondData(w, http.StatusCreated, comment, 1)
}

// TicketsCommentsList handles GET /api/v1/tickets/{id}/comments.
func (h *Handler) TicketsCommentsList(w http.ResponseWriter, r *http.Request) {
	principal := h.principal(w, r)
	if principal == nil {
		return
	}
	id := pathID(w, r)
	if id < 0 {
		return
	}

	ticket := h.loadTicket(w, r, id)
	if ticket == nil {
		return
	}
	if !h.authorizeOwned(w, r, principal, authz.ObjectTickets, authz.ActionRead, ticketTarget(id), ticket.OwnerSubject) {
		return
	}

	comments, err := h.tickets.Comments(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL", "failed to list comments", err)
		return
	}
	respondData(w, http.StatusOK, comments, len(comments))
}

// loadTicket fetches a ticket or writes the 404/500. A nil return means
// the response is already written.
func (h *Handler) loadTicket(w http.ResponseWriter, r *http.Request, id int64) *models.Ticket {
	ticket, err := h.tickets.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, tickets.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "ticket not found", nil)
			return nil
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL", "failed to load ticket", err)
		return nil
	}
	return ticket
}
