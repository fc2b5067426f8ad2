package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPoolMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newPoolMetrics(reg)

	m.RecordLease("ftp/control", true)
	m.RecordLease("ftp/control", false)
	m.RecordLease("ftp/control", true)
	m.RecordDiscard("ftp/control", "expired")
	m.RecordClear("ftp/binary")
	m.RecordConnectError("ftp/binary")
	m.SetIdle("ftp/control", 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.leases.WithLabelValues("ftp/control", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.leases.WithLabelValues("ftp/control", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.discards.WithLabelValues("ftp/control", "expired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.clears.WithLabelValues("ftp/binary")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectErrors.WithLabelValues("ftp/binary")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.idle.WithLabelValues("ftp/control")))
}

func TestS3Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newS3Metrics(reg)

	m.ObserveOperation("HeadObject", 5*time.Millisecond, nil)
	m.ObserveOperation("HeadObject", 5*time.Millisecond, errors.New("boom"))
	m.RecordBytes("read", 100)
	m.RecordBytes("read", 28)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("HeadObject", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("HeadObject", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorsTotal.WithLabelValues("HeadObject")))
	assert.Equal(t, 128.0, testutil.ToFloat64(m.bytesTransferred.WithLabelValues("read")))
}

func TestArchiveMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newArchiveMetrics(reg)

	m.RecordShadowCreated()
	m.RecordShadowCreated()
	m.ObserveCommit(time.Second, 4096, nil)
	m.ObserveCommit(time.Second, 0, errors.New("disk full"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.shadowsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commitsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commitsTotal.WithLabelValues("error")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.commitBytes))
}

func TestRemoteMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newRemoteMetrics(reg)

	m.RecordPropagation(3, 1)
	m.RecordPropagation(1, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.deliveries.WithLabelValues("delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("suppressed")))
}

func TestHandlerWhenDisabled(t *testing.T) {
	if IsEnabled() {
		t.Skip("global registry already initialized")
	}
	assert.Nil(t, NewPoolMetrics())
	assert.Nil(t, NewS3Metrics())
	assert.Nil(t, NewArchiveMetrics())
	assert.Nil(t, NewRemoteMetrics())

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
