package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordersUpdateCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	defer m.Close()

	m.RecordGrpcRequest("/artifactstore.v1.ArtifactService/GetVersion", "success", 5*time.Millisecond)
	m.RecordStoreOperation("append_version", nil, time.Millisecond)
	m.RecordStoreOperation("append_version", errors.New("boom"), time.Millisecond)
	m.RecordVersionAppended("commit")
	m.RecordCommit("conflicted")
	m.RecordCommit("conflicted")
	m.RecordLease("acquire", "held")
	m.RecordDiff(3)
	m.GrpcInFlight(1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.GrpcRequestsTotal.WithLabelValues("/artifactstore.v1.ArtifactService/GetVersion", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreOperationsTotal.WithLabelValues("append_version", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreOperationsTotal.WithLabelValues("append_version", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VersionsAppendedTotal.WithLabelValues("commit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CommitsTotal.WithLabelValues("conflicted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LeasesTotal.WithLabelValues("acquire", "held")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GrpcRequestsInFlight))

	count, err := testutil.GatherAndCount(reg, "artifactstore_diff_field_changes")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSeparateRegistries(t *testing.T) {
	a := NewMetrics(prometheus.NewRegistry())
	defer a.Close()
	b := NewMetrics(prometheus.NewRegistry())
	defer b.Close()

	a.RecordCommit("committed")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.CommitsTotal.WithLabelValues("committed")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordGrpcRequest("x", "success", time.Second)
		m.RecordStoreOperation("x", nil, time.Second)
		m.RecordVersionAppended("append")
		m.RecordCommit("committed")
		m.RecordLease("release", "ok")
		m.RecordDiff(1)
		m.GrpcInFlight(1)
		m.Close()
	})
}
