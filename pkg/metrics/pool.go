package metrics

import (
	"github.com/marmos91/dittovfs/pkg/pool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// poolMetrics is the Prometheus implementation of pool.Metrics.
//
// One instance is meant to be shared by every pool of the process; pools are
// told apart by the "pool" label.
type poolMetrics struct {
	leases        *prometheus.CounterVec
	discards      *prometheus.CounterVec
	clears        *prometheus.CounterVec
	connectErrors *prometheus.CounterVec
	idle          *prometheus.GaugeVec
}

// NewPoolMetrics creates a new Prometheus-backed pool.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called), which
// causes pools to use their built-in no-op implementation.
func NewPoolMetrics() pool.Metrics {
	if !IsEnabled() {
		return nil
	}
	return newPoolMetrics(GetRegistry())
}

func newPoolMetrics(reg prometheus.Registerer) *poolMetrics {
	return &poolMetrics{
		leases: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittovfs_pool_leases_total",
				Help: "Total number of client leases by pool and result (hit reuses an idle client)",
			},
			[]string{"pool", "result"},
		),
		discards: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittovfs_pool_discards_total",
				Help: "Total number of idle clients discarded by pool and reason",
			},
			[]string{"pool", "reason"},
		),
		clears: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittovfs_pool_clears_total",
				Help: "Total number of full pool clears caused by a disconnected client",
			},
			[]string{"pool"},
		),
		connectErrors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittovfs_pool_connect_errors_total",
				Help: "Total number of failed client connections",
			},
			[]string{"pool"},
		),
		idle: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dittovfs_pool_idle_clients",
				Help: "Current number of idle clients",
			},
			[]string{"pool"},
		),
	}
}

func (m *poolMetrics) RecordLease(p string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.leases.WithLabelValues(p, result).Inc()
}

func (m *poolMetrics) RecordDiscard(p, reason string) {
	m.discards.WithLabelValues(p, reason).Inc()
}

func (m *poolMetrics) RecordClear(p string) {
	m.clears.WithLabelValues(p).Inc()
}

func (m *poolMetrics) RecordConnectError(p string) {
	m.connectErrors.WithLabelValues(p).Inc()
}

func (m *poolMetrics) SetIdle(p string, n int) {
	m.idle.WithLabelValues(p).Set(float64(n))
}
