package archive

import "time"

// Metrics observes archive sessions.
type Metrics interface {
	// ObserveCommit records one reconciliation of pending state into the
	// container and the number of container bytes written.
	ObserveCommit(duration time.Duration, bytes int64, err error)

	// RecordShadowCreated counts shadows allocated for pending writes.
	RecordShadowCreated()
}

type noopMetrics struct{}

func (noopMetrics) ObserveCommit(time.Duration, int64, error) {}
func (noopMetrics) RecordShadowCreated()                      {}
