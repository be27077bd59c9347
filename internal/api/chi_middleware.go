// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/sentineldesk/sentineldesk/internal/config"
)

// ChiMiddleware bundles the router-level middleware built from config:
// CORS and the per-IP rate limit tiers.
type ChiMiddleware struct {
	rateLimit config.RateLimitConfig
	cors      func(http.Handler) http.Handler
}

// NewChiMiddleware builds the middleware set.
func NewChiMiddleware(cfg *config.Config) *ChiMiddleware {
	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	})

	return &ChiMiddleware{
		rateLimit: cfg.RateLimit,
		cors:      corsHandler,
	}
}

// CORS returns the CORS middleware. Global, so OPTIONS preflight works on
// every route.
func (m *ChiMiddleware) CORS() func(http.Handler) http.Handler {
	return m.cors
}

// RateLimit returns the standard per-IP limiter for API routes.
func (m *ChiMiddleware) RateLimit() func(http.Handler) http.Handler {
	if !m.rateLimit.Enabled {
		return passthrough
	}
	return httprate.LimitByIP(m.rateLimit.Requests, m.rateLimit.Window)
}

// RateLimitLogin returns the strict limiter for the login endpoint.
// Brute-force protection; the AUTH_FAIL_BURST rule covers what leaks
// through.
func (m *ChiMiddleware) RateLimitLogin() func(http.Handler) http.Handler {
	if !m.rateLimit.Enabled {
		return passthrough
	}
	return httprate.LimitByIP(5, 5*time.Minute)
}

// RateLimitHealth returns the permissive limiter for health probes.
func (m *ChiMiddleware) RateLimitHealth() func(http.Handler) http.Handler {
	if !m.rateLimit.Enabled {
		return passthrough
	}
	return httprate.LimitByIP(1000, time.Minute)
}

func passthrough(next http.Handler) http.Handler {
	return next
}

// APISecurityHeaders sets the standard security headers on API responses.
func APISecurityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")
			w.Header().Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}
