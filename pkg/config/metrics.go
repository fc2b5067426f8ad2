package config

import (
	"github.com/marmos91/dittovfs/pkg/archive"
	"github.com/marmos91/dittovfs/pkg/metrics"
	"github.com/marmos91/dittovfs/pkg/pool"
	"github.com/marmos91/dittovfs/pkg/remote"
	"github.com/marmos91/dittovfs/pkg/remote/s3client"
)

// MetricsResult contains all metrics-related components created from configuration.
//
// Collector fields are nil when metrics are disabled; every component treats
// a nil collector as a no-op.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	Pool    pool.Metrics
	S3      s3client.Metrics
	Archive archive.Metrics
	Remote  remote.Metrics
}

// InitializeMetrics creates the metrics components described by cfg.
//
// If metrics are enabled the global Prometheus registry is initialized and
// Prometheus-backed collectors are created for every component.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server:  metrics.NewServer(metrics.ServerConfig{Port: cfg.Metrics.Port}),
		Pool:    metrics.NewPoolMetrics(),
		S3:      metrics.NewS3Metrics(),
		Archive: metrics.NewArchiveMetrics(),
		Remote:  metrics.NewRemoteMetrics(),
	}
}
