// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics provides Prometheus instrumentation for the HTTP API,
// the permission policy, the audit recorder, and the detection engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	// Authorization metrics

	AuthzDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Total number of permission policy decisions",
		},
		[]string{"object", "action", "allowed"},
	)

	// Audit metrics

	AuditEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_total",
			Help: "Total number of audit events recorded",
		},
		[]string{"action", "result"},
	)

	// Detection metrics

	AlertsRaisedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detection_alerts_raised_total",
			Help: "Total number of alerts raised by detection rules",
		},
		[]string{"rule", "severity"},
	)

	DetectionErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detection_rule_errors_total",
			Help: "Total number of detection rule evaluation errors",
		},
		[]string{"rule"},
	)
)

// RecordAPIRequest records a completed HTTP request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordAuthzDecision records one permission policy decision.
func RecordAuthzDecision(object, action string, allowed bool) {
	label := "false"
	if allowed {
		label = "true"
	}
	AuthzDecisionsTotal.WithLabelValues(object, action, label).Inc()
}

// RecordAuditEvent records one appended audit event.
func RecordAuditEvent(action, result string) {
	AuditEventsTotal.WithLabelValues(action, result).Inc()
}

// RecordAlertRaised records one raised detection alert.
func RecordAlertRaised(rule, severity string) {
	AlertsRaisedTotal.WithLabelValues(rule, severity).Inc()
}

// RecordDetectionError records one detection rule evaluation failure.
func RecordDetectionError(rule string) {
	DetectionErrorsTotal.WithLabelValues(rule).Inc()
}
