package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certdesk_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "certdesk_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "certdesk_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Rate limiting metrics
	RateLimitRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certdesk_rate_limit_requests_total",
			Help: "Total number of requests checked against the sliding window",
		},
		[]string{"action", "status"},
	)

	RateLimitActiveKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "certdesk_rate_limit_active_keys",
			Help: "Number of identity/action windows currently tracked",
		},
	)

	// Token metrics
	TokensIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "certdesk_tokens_issued_total",
			Help: "Total number of security tokens issued",
		},
	)

	TokenValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certdesk_token_validations_total",
			Help: "Total number of security token validations",
		},
		[]string{"result"}, // valid, unknown, expired
	)

	TokensLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "certdesk_tokens_live",
			Help: "Number of issued tokens not yet consumed or evicted",
		},
	)

	// Audit log metrics
	AuditEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certdesk_audit_entries_total",
			Help: "Total number of audit entries by write result",
		},
		[]string{"sink", "result"},
	)

	AuditReadErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certdesk_audit_read_errors_total",
			Help: "Audit partitions or records that could not be read",
		},
		[]string{"kind"}, // partition, record
	)

	// Admission metrics
	AdmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certdesk_admissions_total",
			Help: "Admission gate outcomes",
		},
		[]string{"action", "outcome", "reason"},
	)

	RenderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "certdesk_render_duration_seconds",
			Help:    "Certificate render latencies in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"kind", "status"},
	)

	CertificatesRenderedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certdesk_certificates_rendered_total",
			Help: "Certificates rendered, by kind and trigger",
		},
		[]string{"kind", "trigger"}, // trigger: request, bulk
	)

	// Anomaly metrics
	SuspiciousVerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certdesk_suspicious_verdicts_total",
			Help: "Assessments that flagged an identity as suspicious",
		},
		[]string{"reason"},
	)

	// System metrics
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "certdesk_build_info",
			Help: "Build information about certdesk",
		},
		[]string{"version", "go_version"},
	)
)
