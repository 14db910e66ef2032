package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gatekeeper_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	loginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_login_attempts_total",
		Help: "Login attempts by outcome",
	}, []string{"result"})

	loginDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gatekeeper_login_duration_seconds",
		Help:    "Duration of login attempts, including password hashing",
		Buckets: prometheus.DefBuckets,
	})

	lockouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_lockouts_total",
		Help: "Count of rate limit lockouts started",
	}, []string{"action"})

	throttled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatekeeper_throttled_requests_total",
		Help: "Requests rejected by the per-IP login throttle",
	})

	sessionEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_session_events_total",
		Help: "Session lifecycle events",
	}, []string{"event"})

	authorizationDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_authorization_decisions_total",
		Help: "Authorization decisions by result",
	}, []string{"result"})

	auditEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_audit_events_total",
		Help: "Audit events by delivery result (sink, fallback, short_circuit)",
	}, []string{"result"})

	sweptEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_swept_entries_total",
		Help: "Expired entries removed by the sweeper",
	}, []string{"store"})
)

// ObserveHTTPRequest records an HTTP request metric
func ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// ObserveLogin records the outcome and latency of a login attempt.
func ObserveLogin(result string, duration time.Duration) {
	loginAttempts.WithLabelValues(result).Inc()
	loginDuration.Observe(duration.Seconds())
}

// ObserveLockout counts a key entering the locked-out state.
func ObserveLockout(action string) {
	lockouts.WithLabelValues(action).Inc()
}

// ObserveThrottled counts a request refused by the login throttle.
func ObserveThrottled() {
	throttled.Inc()
}

// ObserveSession counts a session event: created, rotated, expired, destroyed.
func ObserveSession(event string) {
	sessionEvents.WithLabelValues(event).Inc()
}

// ObserveAuthorization counts an allow or deny decision.
func ObserveAuthorization(allowed bool) {
	result := "deny"
	if allowed {
		result = "allow"
	}
	authorizationDecisions.WithLabelValues(result).Inc()
}

// ObserveAudit counts audit delivery by result.
func ObserveAudit(result string) {
	auditEvents.WithLabelValues(result).Inc()
}

// ObserveSweep adds swept entries for a store.
func ObserveSweep(store string, n int) {
	if n > 0 {
		sweptEntries.WithLabelValues(store).Add(float64(n))
	}
}
