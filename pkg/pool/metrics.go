package pool

// Metrics observes pool behavior. Implementations must be safe for
// concurrent use. The prometheus implementation lives in pkg/metrics.
type Metrics interface {
	// RecordLease counts a lease; hit is true when an idle client was reused.
	RecordLease(pool string, hit bool)

	// RecordDiscard counts an idle client dropped during a scan.
	RecordDiscard(pool, reason string)

	// RecordClear counts a full clear caused by a disconnected release.
	RecordClear(pool string)

	RecordConnectError(pool string)

	SetIdle(pool string, n int)
}

type noopMetrics struct{}

func (noopMetrics) RecordLease(string, bool)     {}
func (noopMetrics) RecordDiscard(string, string) {}
func (noopMetrics) RecordClear(string)           {}
func (noopMetrics) RecordConnectError(string)    {}
func (noopMetrics) SetIdle(string, int)          {}
