package s3client

import "time"

// Metrics observes S3 operations.
type Metrics interface {
	// ObserveOperation records one S3 call, its duration and outcome.
	ObserveOperation(operation string, duration time.Duration, err error)

	// RecordBytes records bytes transferred; direction is "read" or "write".
	RecordBytes(direction string, bytes int64)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, time.Duration, error) {}
func (noopMetrics) RecordBytes(string, int64)                     {}
