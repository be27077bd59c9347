// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth derives the authenticated Principal for each request from
// verified identity claims. Token signature verification happens upstream
// (OIDC gateway); this package never fetches JWKS or checks signatures.
package auth

import (
	"context"
)

// Role names in escalating privilege order. These align with the Casbin
// policy in internal/authz/policy.csv.
const (
	// RoleViewer is the default role: own-ticket access only.
	RoleViewer = "viewer"

	// RoleAnalyst can read all tickets, audit events, and alerts.
	RoleAnalyst = "analyst"

	// RoleAdmin has full access including destructive admin operations.
	RoleAdmin = "admin"
)

// SystemSubject is the actor recorded for actions the system performs on
// its own behalf (scheduled sweeps, retention cleanup).
const SystemSubject = "system"

// Principal is the authenticated caller. It is derived once per request
// from verified claims, carried in the request context, and never mutated.
type Principal struct {
	// Subject is the stable opaque subject identifier from the token.
	Subject string `json:"subject"`

	// Name is a display name (preferred_username, upn, or email).
	Name string `json:"name,omitempty"`

	// Roles is the caller's role set. Empty means viewer-level access.
	Roles []string `json:"roles"`
}

// HasRole reports whether the principal holds the named role.
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsPrivileged reports whether the principal holds analyst or admin.
// An unknown or empty role set is never privileged.
func (p *Principal) IsPrivileged() bool {
	return p.HasRole(RoleAnalyst) || p.HasRole(RoleAdmin)
}

// IsAdmin reports whether the principal holds the admin role.
func (p *Principal) IsAdmin() bool {
	return p.HasRole(RoleAdmin)
}

type principalKey struct{}

// ContextWithPrincipal returns a context carrying the principal.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext extracts the principal, or nil when the request was
// not authenticated.
func PrincipalFromContext(ctx context.Context) *Principal {
	if p, ok := ctx.Value(principalKey{}).(*Principal); ok {
		return p
	}
	return nil
}
