package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Authorization metrics
var (
	// AuthzDecisionsTotal tracks permission check outcomes by reason
	AuthzDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Total number of authorization decisions by outcome and reason",
		},
		[]string{"outcome", "reason"},
	)

	// AuthzResolveDuration tracks permission resolution latency
	AuthzResolveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authz_resolve_duration_seconds",
			Help:    "Permission set resolution duration in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"source"}, // cache or store
	)

	// SuperAdminBypassTotal tracks super-admin short-circuits
	SuperAdminBypassTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "authz_super_admin_bypass_total",
			Help: "Total number of permission checks short-circuited by super admin",
		},
	)
)

// Authentication metrics
var (
	// AuthFailuresTotal tracks authentication failures by reason
	AuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_failures_total",
			Help: "Total number of authentication failures by reason",
		},
		[]string{"reason"},
	)
)

// Rate limit metrics (pipeline level; the redis package tracks storage level)
var (
	// RateLimitDeniedTotal tracks requests denied by scope and state
	RateLimitDeniedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_denied_requests_total",
			Help: "Total number of requests denied by rate limiting, by scope and state",
		},
		[]string{"scope", "state"},
	)
)

// Anomaly metrics
var (
	// AnomalyAlertsTotal tracks emitted alerts by kind and severity
	AnomalyAlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anomaly_alerts_total",
			Help: "Total number of anomaly alerts by kind and severity",
		},
		[]string{"kind", "severity"},
	)
)

// Audit metrics
var (
	// AuditWritesTotal tracks audit sink writes by result
	AuditWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_writes_total",
			Help: "Total number of audit record writes by result",
		},
		[]string{"result"},
	)
)

// Verification job metrics
var (
	// VerificationJobsTotal tracks background verification jobs by provider and status
	VerificationJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_jobs_total",
			Help: "Total number of verification jobs by provider and status",
		},
		[]string{"provider", "status"},
	)

	// VerificationJobDuration tracks verification job duration
	VerificationJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "verification_job_duration_seconds",
			Help:    "Verification job duration in seconds",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)
)

// HTTP metrics
var (
	// HTTPRequestsTotal tracks requests by method, route and status class
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration tracks request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)
)
