// Package telemetry exposes Prometheus collectors for fetches, auth
// exchanges, limiter waits and analysis outcomes.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "stream_auditor"

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	FetchAttempts *prometheus.CounterVec
	FetchDuration prometheus.Histogram
	AuthExchanges *prometheus.CounterVec
	RateLimitWait prometheus.Histogram
	Results       *prometheus.CounterVec
	Flags         *prometheus.CounterVec
	BatchDuration prometheus.Histogram
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		FetchAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_attempts_total",
				Help:      "Provider record requests issued, by outcome class.",
			},
			[]string{"class"},
		),
		FetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Duration of single provider record requests.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		AuthExchanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_exchanges_total",
				Help:      "Credential exchanges performed, by result.",
			},
			[]string{"result"},
		),
		RateLimitWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ratelimit_wait_seconds",
				Help:      "Time spent waiting for a rate limit slot.",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
		),
		Results: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "results_total",
				Help:      "Identifiers analysed, by outcome status.",
			},
			[]string{"status"},
		),
		Flags: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flags_total",
				Help:      "Anomaly flags raised, by kind.",
			},
			[]string{"kind"},
		),
		BatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Wall time of whole batch runs.",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		),
	}

	for _, c := range []prometheus.Collector{
		m.FetchAttempts, m.FetchDuration, m.AuthExchanges, m.RateLimitWait,
		m.Results, m.Flags, m.BatchDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveFetch records one provider request.
func (m *Metrics) ObserveFetch(class string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.FetchAttempts.WithLabelValues(class).Inc()
	m.FetchDuration.Observe(elapsed.Seconds())
}

// ObserveAuthExchange records one credential exchange.
func (m *Metrics) ObserveAuthExchange(result string, _ time.Duration) {
	if m == nil {
		return
	}
	m.AuthExchanges.WithLabelValues(result).Inc()
}

// ObserveRateLimitWait records how long an Acquire blocked.
func (m *Metrics) ObserveRateLimitWait(wait time.Duration) {
	if m == nil {
		return
	}
	m.RateLimitWait.Observe(wait.Seconds())
}

// ObserveResult records one finished identifier and the flags it received.
func (m *Metrics) ObserveResult(status string, flagKinds []string) {
	if m == nil {
		return
	}
	m.Results.WithLabelValues(status).Inc()
	for _, k := range flagKinds {
		m.Flags.WithLabelValues(k).Inc()
	}
}

// ObserveBatch records the duration of a batch run.
func (m *Metrics) ObserveBatch(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.BatchDuration.Observe(elapsed.Seconds())
}
