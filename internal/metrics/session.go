package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionAttempts counts channel connection attempts by kind
	// ("connect" or "reconnect") and result.
	ConnectionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamsession_connection_attempts_total",
		Help: "Total channel connection attempts by kind and result",
	}, []string{"kind", "result"})

	// ReconnectAttempts counts scheduled reconnection attempts.
	ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "streamsession_reconnect_attempts_total",
		Help: "Total reconnection attempts",
	})

	// TokenRequests counts settled token requests by outcome.
	TokenRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamsession_token_requests_total",
		Help: "Total playback token requests by outcome",
	}, []string{"outcome"})

	// TokenRequestDuration tracks time from request to settlement.
	TokenRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "streamsession_token_request_duration_seconds",
		Help:    "Time from token request to settlement",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"outcome"})

	// PushEvents counts unsolicited server pushes by kind.
	PushEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamsession_push_events_total",
		Help: "Total server-pushed session events by kind",
	}, []string{"kind"})

	// WatchSessionsActive is the number of watch sessions currently tracked.
	WatchSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamsession_watch_sessions_active",
		Help: "Number of active watch sessions",
	})
)

// IncConnectionAttempt records the outcome of a connection attempt.
func IncConnectionAttempt(reconnect bool, success bool) {
	kind := "connect"
	if reconnect {
		kind = "reconnect"
		ReconnectAttempts.Inc()
	}
	result := "failure"
	if success {
		result = "success"
	}
	ConnectionAttempts.WithLabelValues(kind, result).Inc()
}

// ObserveTokenRequest records a settled token request.
func ObserveTokenRequest(outcome string, d time.Duration) {
	TokenRequests.WithLabelValues(outcome).Inc()
	TokenRequestDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// IncPushEvent records a server push.
func IncPushEvent(kind string) {
	PushEvents.WithLabelValues(kind).Inc()
}

// SetWatchSessionsActive sets the active watch session gauge.
func SetWatchSessionsActive(n int) {
	WatchSessionsActive.Set(float64(n))
}
