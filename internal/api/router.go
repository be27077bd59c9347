// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentineldesk/sentineldesk/internal/auth"
	"github.com/sentineldesk/sentineldesk/internal/middleware"
)

// Router assembles the HTTP routes around the handler.
type Router struct {
	handler        *Handler
	authMiddleware *auth.Middleware
	chiMiddleware  *ChiMiddleware
}

// NewRouter creates the router.
func NewRouter(handler *Handler, authMiddleware *auth.Middleware, chiMiddleware *ChiMiddleware) *Router {
	return &Router{
		handler:        handler,
		authMiddleware: authMiddleware,
		chiMiddleware:  chiMiddleware,
	}
}

// Setup configures all HTTP routes. Role checks live in the handlers (via
// the permission policy) so every denial leaves an audit trail; the router
// only separates authenticated from unauthenticated surface.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Compress(5))
	r.Use(router.chiMiddleware.CORS())

	// Health probes: unauthenticated, permissive rate limit.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimitHealth())
		r.Use(APISecurityHeaders())
		r.Get("/", router.handler.Health)
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})

	// Prometheus metrics.
	r.Handle("/metrics", promhttp.Handler())

	// Login: authenticated (the middleware records auth failures), with
	// the strictest rate limit.
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(APISecurityHeaders())
		r.Use(middleware.PrometheusMetrics)
		r.Use(router.authMiddleware.Authenticate)
		r.With(router.chiMiddleware.RateLimitLogin()).Post("/login", router.handler.Login)
	})

	// Everything else requires authentication.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(APISecurityHeaders())
		r.Use(middleware.PrometheusMetrics)
		r.Use(router.authMiddleware.Authenticate)

		r.Route("/tickets", func(r chi.Router) {
			r.Get("/", router.handler.TicketsList)
			r.Post("/", router.handler.TicketsCreate)

			// The intentionally vulnerable read: no ownership check.
			r.Get("/insecure/{id}", router.handler.TicketsGetInsecure)

			r.Get("/{id}", router.handler.TicketsGet)
			r.Put("/{id}", router.handler.TicketsUpdate)
			r.Delete("/{id}", router.handler.TicketsDelete)
			r.Get("/{id}/comments", router.handler.TicketsCommentsList)
			r.Post("/{id}/comments", router.handler.TicketsCommentCreate)
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", router.handler.AlertsList)
			r.Delete("/", router.handler.AlertsClear)
			r.Get("/{id}", router.handler.AlertsGet)
			r.Patch("/{id}/triage", router.handler.AlertsTriage)
			r.Post("/{id}/escalate", router.handler.AlertsEscalate)
			r.Delete("/{id}", router.handler.AlertsDelete)
		})

		r.Route("/audit", func(r chi.Router) {
			r.Get("/", router.handler.AuditList)
			r.Get("/export", router.handler.AuditExport)
			r.Delete("/", router.handler.AuditClear)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/simulate-attacks", router.handler.SimulateAttacks)
			r.Get("/detection", router.handler.DetectionStatus)
			r.Patch("/detection", router.handler.DetectionConfigure)
			r.Patch("/detection/rules/{rule}", router.handler.DetectionRuleConfigure)
		})
	})

	return r
}
