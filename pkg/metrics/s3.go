package metrics

import (
	"time"

	"github.com/marmos91/dittovfs/pkg/remote/s3client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// s3Metrics is the Prometheus implementation of s3client.Metrics.
//
// This implementation collects metrics about S3 operations including:
//   - Operation counts (GetObject, PutObject, etc.)
//   - Operation latency
//   - Bytes transferred
//   - Error rates
type s3Metrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
}

// NewS3Metrics creates a new Prometheus-backed s3client.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called), which
// causes S3 clients to use the built-in no-op implementation.
func NewS3Metrics() s3client.Metrics {
	if !IsEnabled() {
		return nil
	}
	return newS3Metrics(GetRegistry())
}

func newS3Metrics(reg prometheus.Registerer) *s3Metrics {
	return &s3Metrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittovfs_s3_operations_total",
				Help: "Total number of S3 operations by operation type and status",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittovfs_s3_operation_duration_seconds",
				Help: "Duration of S3 operations in seconds",
				Buckets: []float64{
					0.01,  // 10ms
					0.025, // 25ms
					0.05,  // 50ms
					0.1,   // 100ms
					0.25,  // 250ms
					0.5,   // 500ms
					1.0,   // 1s
					2.5,   // 2.5s
					5.0,   // 5s
					10.0,  // 10s
					30.0,  // 30s
				},
			},
			[]string{"operation"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittovfs_s3_bytes_transferred_total",
				Help: "Total bytes transferred by S3 object streams",
			},
			[]string{"direction"}, // read or write
		),
		errorsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittovfs_s3_errors_total",
				Help: "Total number of S3 operation errors by operation type",
			},
			[]string{"operation"},
		),
	}
}

// ObserveOperation implements s3client.Metrics.ObserveOperation
func (m *s3Metrics) ObserveOperation(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
		m.errorsTotal.WithLabelValues(operation).Inc()
	}

	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordBytes implements s3client.Metrics.RecordBytes
func (m *s3Metrics) RecordBytes(direction string, bytes int64) {
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}
