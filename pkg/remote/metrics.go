package remote

// Metrics observes activity propagation.
type Metrics interface {
	// RecordPropagation counts one propagated event, the filesystems it
	// reached and how many of them suppressed it for lack of view access.
	RecordPropagation(targets, suppressed int)
}

type noopMetrics struct{}

func (noopMetrics) RecordPropagation(int, int) {}
