package metrics

import (
	"time"

	"github.com/marmos91/dittovfs/pkg/archive"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// archiveMetrics is the Prometheus implementation of archive.Metrics.
type archiveMetrics struct {
	commitsTotal   *prometheus.CounterVec
	commitDuration prometheus.Histogram
	commitBytes    prometheus.Histogram
	shadowsCreated prometheus.Counter
}

// NewArchiveMetrics creates a new Prometheus-backed archive.Metrics instance.
//
// Returns nil if metrics are not enabled.
func NewArchiveMetrics() archive.Metrics {
	if !IsEnabled() {
		return nil
	}
	return newArchiveMetrics(GetRegistry())
}

func newArchiveMetrics(reg prometheus.Registerer) *archiveMetrics {
	return &archiveMetrics{
		commitsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittovfs_archive_commits_total",
				Help: "Total number of archive commits by status",
			},
			[]string{"status"},
		),
		commitDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dittovfs_archive_commit_duration_seconds",
				Help:    "Time spent rewriting archive containers",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms .. ~4min
			},
		),
		commitBytes: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "dittovfs_archive_commit_bytes",
				Help: "Size of committed archive containers in bytes",
				Buckets: []float64{
					4096,       // 4KB
					65536,      // 64KB
					1048576,    // 1MB
					10485760,   // 10MB
					104857600,  // 100MB
					1073741824, // 1GB
				},
			},
		),
		shadowsCreated: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittovfs_archive_shadows_created_total",
				Help: "Total number of shadow files allocated for pending archive writes",
			},
		),
	}
}

func (m *archiveMetrics) ObserveCommit(duration time.Duration, bytes int64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.commitsTotal.WithLabelValues(status).Inc()
	m.commitDuration.Observe(duration.Seconds())
	if err == nil {
		m.commitBytes.Observe(float64(bytes))
	}
}

func (m *archiveMetrics) RecordShadowCreated() {
	m.shadowsCreated.Inc()
}
