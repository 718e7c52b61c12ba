package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Verification pipeline counters and histograms, partitioned by update target.

var (
	VerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payment_verifier",
		Subsystem: "verifier",
		Name:      "verifications_total",
		Help:      "Total finished verifications by outcome",
	}, []string{"target", "outcome"})

	VerificationRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payment_verifier",
		Subsystem: "verifier",
		Name:      "rejections_total",
		Help:      "Total failed verifications by failure reason",
	}, []string{"target", "reason"})

	DuplicateRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payment_verifier",
		Subsystem: "verifier",
		Name:      "duplicate_requests_total",
		Help:      "Requests answered immediately because the hash was already being verified",
	}, []string{"target"})

	VerificationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "payment_verifier",
		Subsystem: "verifier",
		Name:      "duration_seconds",
		Help:      "End-to-end verification duration",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 180},
	}, []string{"target", "outcome"})

	StageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "payment_verifier",
		Subsystem: "verifier",
		Name:      "stage_duration_seconds",
		Help:      "Duration of a single pipeline stage",
		Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"stage"})

	PendingVerifications = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "payment_verifier",
		Subsystem: "verifier",
		Name:      "pending",
		Help:      "Verifications currently in flight",
	})

	StoreWriteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payment_verifier",
		Subsystem: "store",
		Name:      "write_errors_total",
		Help:      "Failed store writes that were logged and not retried",
	}, []string{"operation"})

	// RPC
	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payment_verifier",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Total chain RPC calls by method and status",
	}, []string{"network", "method", "status"})

	RPCRateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payment_verifier",
		Subsystem: "rpc",
		Name:      "rate_limit_waits_total",
		Help:      "Total RPC calls delayed by the client-side rate limiter",
	}, []string{"network"})

	HeadSubscriptionFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payment_verifier",
		Subsystem: "rpc",
		Name:      "head_subscription_fallbacks_total",
		Help:      "Confirmation waits that fell back to interval polling",
	}, []string{"reason"})

	// HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payment_verifier",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests by route template and status code",
	}, []string{"route", "code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "payment_verifier",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route template",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 180},
	}, []string{"route"})
)
