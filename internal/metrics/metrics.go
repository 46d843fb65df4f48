// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "guildauth"

// Metrics groups the service collectors. A nil *Metrics discards observations.
type Metrics struct {
	discordRequests *prometheus.CounterVec
	authzDecisions  *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		discordRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discord_requests_total",
			Help:      "Discord API calls by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		authzDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authz_decisions_total",
			Help:      "Authorization decisions by check and result.",
		}, []string{"check", "result"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// DiscordRequest counts one logical Discord call.
func (m *Metrics) DiscordRequest(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.discordRequests.WithLabelValues(endpoint, outcome).Inc()
}

// AuthzDecision counts one authorization decision.
func (m *Metrics) AuthzDecision(check, result string) {
	if m == nil {
		return
	}
	m.authzDecisions.WithLabelValues(check, result).Inc()
}

// HTTPRequest records request latency.
func (m *Metrics) HTTPRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
