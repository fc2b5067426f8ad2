package metrics

import (
	"github.com/marmos91/dittovfs/pkg/remote"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// remoteMetrics is the Prometheus implementation of remote.Metrics.
type remoteMetrics struct {
	events     prometheus.Counter
	deliveries *prometheus.CounterVec
}

// NewRemoteMetrics creates a new Prometheus-backed remote.Metrics instance.
//
// Returns nil if metrics are not enabled.
func NewRemoteMetrics() remote.Metrics {
	if !IsEnabled() {
		return nil
	}
	return newRemoteMetrics(GetRegistry())
}

func newRemoteMetrics(reg prometheus.Registerer) *remoteMetrics {
	return &remoteMetrics{
		events: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittovfs_remote_propagated_events_total",
				Help: "Total number of activity events propagated between remote filesystems",
			},
		),
		deliveries: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittovfs_remote_propagation_targets_total",
				Help: "Filesystems reached by propagated events, by outcome",
			},
			[]string{"outcome"}, // delivered or suppressed
		),
	}
}

func (m *remoteMetrics) RecordPropagation(targets, suppressed int) {
	m.events.Inc()
	m.deliveries.WithLabelValues("delivered").Add(float64(targets - suppressed))
	m.deliveries.WithLabelValues("suppressed").Add(float64(suppressed))
}
