// Package metrics exports Prometheus metrics for DittoVFS.
//
// Metrics are off until InitRegistry is called. Every New*Metrics
// constructor returns nil while they are off, and the receiving package
// (pool, remote, archive, s3client) falls back to its own no-op recorder, so
// nothing is allocated or locked on hot paths.
//
//	metrics.InitRegistry()
//	pools := metrics.NewPoolMetrics()   // shared by every pool
//	archives := metrics.NewArchiveMetrics()
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry enables metrics. The registry starts with the Go runtime and
// process collectors so /metrics is useful before any filesystem is opened.
// Later calls are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registry = reg
	})
}

// GetRegistry returns the registry, or nil while metrics are off.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
