// Package observability defines the Prometheus collectors of the gatehouse
// server and the handler that exposes them. The request middleware lives
// in package transport.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AuthBuckets defines histogram buckets suited for credential checks,
// ranging from 1ms (in-memory keys) to 5s (remote JWKS or database).
var AuthBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// Outcome labels for AuthDecisionsTotal.
const (
	OutcomeAccepted    = "accepted"
	OutcomeRejected    = "rejected"
	OutcomeBypassed    = "bypassed"
	OutcomeError       = "error"
	OutcomeRateLimited = "rate_limited"
)

var (
	// RequestsTotal counts all HTTP requests by method and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehouse_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration records HTTP request duration in seconds by method.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gatehouse_request_duration_seconds",
			Help:    "Request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// InflightRequests tracks the number of requests currently being served.
	InflightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gatehouse_inflight_requests",
			Help: "Requests in flight",
		},
	)

	// AuthDecisionsTotal counts gateway outcomes.
	AuthDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehouse_auth_decisions_total",
			Help: "Authentication gateway decisions",
		},
		[]string{"outcome"},
	)

	// AuthenticatorDuration records how long the configured authenticator
	// takes to produce a verdict.
	AuthenticatorDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gatehouse_authenticator_duration_seconds",
			Help:    "Authenticator latency",
			Buckets: AuthBuckets,
		},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehouse_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"site"},
	)

	// SecretLookupsTotal counts secret source lookups by source and status.
	SecretLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehouse_secret_lookups_total",
			Help: "Secret source lookups",
		},
		[]string{"source", "status"},
	)

	// KeyCacheTotal counts API key verdict cache hits and misses.
	KeyCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehouse_key_cache_total",
			Help: "API key cache lookups",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		InflightRequests,
		AuthDecisionsTotal,
		AuthenticatorDuration,
		RateLimitRejectedTotal,
		SecretLookupsTotal,
		KeyCacheTotal,
	)
}

// Handler returns the HTTP handler serving the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
