package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.ObserveFetch("success", 20*time.Millisecond)
	m.ObserveFetch("success", 30*time.Millisecond)
	m.ObserveFetch("server_error", time.Second)
	m.ObserveAuthExchange("success", time.Millisecond)
	m.ObserveResult("success", []string{"regional_concentration", "zero_activity"})
	m.ObserveResult("not_found", nil)
	m.ObserveRateLimitWait(100 * time.Millisecond)
	m.ObserveBatch(3 * time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FetchAttempts.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchAttempts.WithLabelValues("server_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthExchanges.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Results.WithLabelValues("not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Flags.WithLabelValues("zero_activity")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "stream_auditor_fetch_duration_seconds")
	assert.Contains(t, names, "stream_auditor_ratelimit_wait_seconds")
}

func TestMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveFetch("success", time.Second)
		m.ObserveAuthExchange("failure", time.Second)
		m.ObserveRateLimitWait(time.Second)
		m.ObserveResult("success", []string{"x"})
		m.ObserveBatch(time.Second)
	})
}
