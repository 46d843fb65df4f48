package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.DiscordRequest("users_me", "ok")
	m.DiscordRequest("users_me", "ok")
	m.AuthzDecision("guild_admin", "denied")
	m.HTTPRequest("GET", "/healthz", 200, time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(m.discordRequests.WithLabelValues("users_me", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.authzDecisions.WithLabelValues("guild_admin", "denied")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.DiscordRequest("users_me", "ok")
	m.AuthzDecision("guild_admin", "allowed")
	m.HTTPRequest("GET", "/", 200, time.Second)
}
