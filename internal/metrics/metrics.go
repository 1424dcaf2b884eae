package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the backend's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	cycles         *prometheus.CounterVec
	dispatched     prometheus.Counter
	failed         prometheus.Counter
	malformed      prometheus.Counter
	cycleDuration  prometheus.Histogram
	tokensIssued   prometheus.Counter
	spectatorConns prometheus.Gauge
}

// Cycle outcomes.
const (
	CycleOK          = "ok"
	CycleReadFailed  = "read_failed"
	CycleLeaseDenied = "lease_denied"
	CycleLeaseError  = "lease_error"
)

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_dispatch_cycles_total",
			Help: "Dispatch cycles by outcome.",
		}, []string{"outcome"}),
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_deferred_dispatched_total",
			Help: "Deferred messages appended to their room and removed.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_deferred_failed_total",
			Help: "Deferred messages whose append or removal failed.",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_deferred_malformed_total",
			Help: "Pending records skipped because they could not be decoded.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "parley_dispatch_cycle_duration_seconds",
			Help:    "Wall time of one dispatch cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parley_spectator_tokens_issued_total",
			Help: "Spectator capability tokens minted.",
		}),
		spectatorConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "parley_spectator_connections",
			Help: "Open spectator websocket connections.",
		}),
	}
	reg.MustRegister(m.cycles, m.dispatched, m.failed, m.malformed, m.cycleDuration, m.tokensIssued, m.spectatorConns)
	return m
}

// ObserveCycle records one dispatch cycle.
func (m *Metrics) ObserveCycle(outcome string, dispatched, failed, malformed int, took time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
	m.dispatched.Add(float64(dispatched))
	m.failed.Add(float64(failed))
	m.malformed.Add(float64(malformed))
	m.cycleDuration.Observe(took.Seconds())
}

// TokenIssued counts a minted capability token.
func (m *Metrics) TokenIssued() {
	if m == nil {
		return
	}
	m.tokensIssued.Inc()
}

// SpectatorConnected adjusts the open spectator connection gauge by delta.
func (m *Metrics) SpectatorConnected(delta int) {
	if m == nil {
		return
	}
	m.spectatorConns.Add(float64(delta))
}
