// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package authz implements the permission policy using Casbin RBAC with a
// viewer < analyst < admin role hierarchy. The authorizer is a pure
// decision function: it never writes audit entries. Call sites record
// every denial before rejecting the request.
package authz

import (
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"github.com/sentineldesk/sentineldesk/internal/auth"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// Objects the policy knows about.
const (
	ObjectTickets   = "tickets"
	ObjectAudit     = "audit"
	ObjectAlerts    = "alerts"
	ObjectAdmin     = "admin"
	ObjectDetection = "detection"
)

// Actions the policy knows about.
const (
	ActionList     = "list"
	ActionCreate   = "create"
	ActionRead     = "read"
	ActionUpdate   = "update"
	ActionDelete   = "delete"
	ActionComment  = "comment"
	ActionExport   = "export"
	ActionClear    = "clear"
	ActionTriage   = "triage"
	ActionEscalate = "escalate"
	ActionSimulate = "simulate"
)

// Deny reasons surfaced to callers and recorded in the audit log.
const (
	ReasonInsufficientRole = "insufficient_role"
	ReasonNotOwner         = "not_owner"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow is the positive decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny is a negative decision with a machine-readable reason.
func Deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Config tunes the authorizer.
type Config struct {
	// CacheTTL bounds how long role-level decisions are cached. Zero
	// disables caching.
	CacheTTL time.Duration
}

// Authorizer answers authorization questions for principals. It is safe
// for concurrent use.
type Authorizer struct {
	enforcer *casbin.SyncedEnforcer
	cache    *decisionCache
}

// NewAuthorizer builds the authorizer from the embedded model and policy.
func NewAuthorizer(config Config) (*Authorizer, error) {
	m, err := model.NewModelFromString(embeddedModel)
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}

	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}
	if err := loadEmbeddedPolicy(enforcer, embeddedPolicy); err != nil {
		return nil, err
	}

	a := &Authorizer{enforcer: enforcer}
	if config.CacheTTL > 0 {
		a.cache = newDecisionCache(config.CacheTTL)
	}
	return a, nil
}

// Close releases the decision cache's cleanup goroutine.
func (a *Authorizer) Close() {
	if a.cache != nil {
		a.cache.stop()
	}
}

// Authorize checks a class-level permission: can the principal perform the
// action on the object type at all. Ownership is not considered; use
// AuthorizeOwned for resource-scoped checks.
func (a *Authorizer) Authorize(principal *auth.Principal, object, action string) Decision {
	if a.roleAllows(principal, object, action) {
		return Allow()
	}
	return Deny(ReasonInsufficientRole)
}

// AuthorizeOwned checks a resource-scoped permission. Privileged roles
// (analyst, admin) are never denied on ownership. Non-privileged callers
// must own the resource.
func (a *Authorizer) AuthorizeOwned(principal *auth.Principal, object, action, ownerSubject string) Decision {
	if !a.roleAllows(principal, object, action) {
		return Deny(ReasonInsufficientRole)
	}
	if principal.IsPrivileged() {
		return Allow()
	}
	if ownerSubject != principal.Subject {
		return Deny(ReasonNotOwner)
	}
	return Allow()
}

// roleAllows reports whether any of the principal's roles permits the
// action. An empty or unrecognized role set degrades to viewer, never to a
// privileged role.
func (a *Authorizer) roleAllows(principal *auth.Principal, object, action string) bool {
	roles := effectiveRoles(principal)

	if a.cache != nil {
		if allowed, ok := a.cache.get(cacheKey(roles, object, action)); ok {
			return allowed
		}
	}

	allowed := false
	for _, role := range roles {
		ok, err := a.enforcer.Enforce(role, object, action)
		if err != nil {
			// Fail closed on enforcement errors.
			return false
		}
		if ok {
			allowed = true
			break
		}
	}

	if a.cache != nil {
		a.cache.set(cacheKey(roles, object, action), allowed)
	}
	return allowed
}

// effectiveRoles filters the principal's roles down to known role names,
// defaulting to viewer.
func effectiveRoles(principal *auth.Principal) []string {
	var roles []string
	for _, role := range principal.Roles {
		switch role {
		case auth.RoleViewer, auth.RoleAnalyst, auth.RoleAdmin:
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		return []string{auth.RoleViewer}
	}
	return roles
}

func cacheKey(roles []string, object, action string) string {
	return strings.Join(roles, "|") + ":" + object + ":" + action
}

// loadEmbeddedPolicy parses the embedded policy CSV into the enforcer.
func loadEmbeddedPolicy(enforcer *casbin.SyncedEnforcer, policy string) error {
	for _, line := range strings.Split(policy, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		switch parts[0] {
		case "p":
			if len(parts) >= 4 {
				if _, err := enforcer.AddPolicy(parts[1], parts[2], parts[3]); err != nil {
					return fmt.Errorf("failed to add policy %v: %w", parts[1:], err)
				}
			}
		case "g":
			if len(parts) >= 3 {
				if _, err := enforcer.AddGroupingPolicy(parts[1], parts[2]); err != nil {
					return fmt.Errorf("failed to add grouping policy %v: %w", parts[1:], err)
				}
			}
		}
	}
	return nil
}
