// Package metrics provides Prometheus metrics for ArtifactStore
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for ArtifactStore.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// gRPC request metrics
	GrpcRequestsTotal    *prometheus.CounterVec
	GrpcRequestDuration  *prometheus.HistogramVec
	GrpcRequestsInFlight prometheus.Gauge

	// Store operation metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	// Domain metrics
	VersionsAppendedTotal *prometheus.CounterVec
	CommitsTotal          *prometheus.CounterVec
	LeasesTotal           *prometheus.CounterVec
	DiffFieldChanges      prometheus.Histogram

	// Server metrics
	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time

	stop chan struct{}
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg uses the default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		ServerStartTime: time.Now(),
		stop:            make(chan struct{}),
	}

	// gRPC request metrics
	m.GrpcRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artifactstore_grpc_requests_total",
			Help: "Total number of gRPC requests",
		},
		[]string{"method", "status"},
	)

	m.GrpcRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "artifactstore_grpc_request_duration_seconds",
			Help:    "Duration of gRPC requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.GrpcRequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "artifactstore_grpc_requests_in_flight",
			Help: "Number of gRPC requests currently being processed",
		},
	)

	// Store operation metrics
	m.StoreOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artifactstore_store_operations_total",
			Help: "Total number of artifact store operations",
		},
		[]string{"operation", "status"},
	)

	m.StoreOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "artifactstore_store_operation_duration_seconds",
			Help:    "Duration of artifact store operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	// Domain metrics
	m.VersionsAppendedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artifactstore_versions_appended_total",
			Help: "Total number of versions appended, by source",
		},
		[]string{"source"},
	)

	m.CommitsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artifactstore_commits_total",
			Help: "Total number of conflict-checked commits, by outcome",
		},
		[]string{"outcome"},
	)

	m.LeasesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artifactstore_leases_total",
			Help: "Total number of lease operations, by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	m.DiffFieldChanges = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "artifactstore_diff_field_changes",
			Help:    "Number of changed fields per computed diff",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)

	// Server metrics
	m.ServerUptimeSeconds = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "artifactstore_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
	)

	// Start uptime updater
	go m.updateUptime(m.stop)

	return m
}

// Close stops the uptime updater
func (m *Metrics) Close() {
	if m == nil || m.stop == nil {
		return
	}
	close(m.stop)
	m.stop = nil
}

// updateUptime periodically updates the server uptime metric
func (m *Metrics) updateUptime(stop <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
		}
	}
}

// RecordGrpcRequest records a gRPC request with its status
func (m *Metrics) RecordGrpcRequest(method string, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.GrpcRequestsTotal.WithLabelValues(method, status).Inc()
	m.GrpcRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// GrpcInFlight adjusts the in-flight gauge by delta
func (m *Metrics) GrpcInFlight(delta float64) {
	if m == nil {
		return
	}
	m.GrpcRequestsInFlight.Add(delta)
}

// RecordStoreOperation records one artifact store operation
func (m *Metrics) RecordStoreOperation(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordVersionAppended counts a new version. source is append, commit or restore.
func (m *Metrics) RecordVersionAppended(source string) {
	if m == nil {
		return
	}
	m.VersionsAppendedTotal.WithLabelValues(source).Inc()
}

// RecordCommit counts a commit outcome (committed or conflicted)
func (m *Metrics) RecordCommit(outcome string) {
	if m == nil {
		return
	}
	m.CommitsTotal.WithLabelValues(outcome).Inc()
}

// RecordLease counts a lease operation outcome
func (m *Metrics) RecordLease(operation, outcome string) {
	if m == nil {
		return
	}
	m.LeasesTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordDiff observes the number of changed fields in a diff
func (m *Metrics) RecordDiff(changes int) {
	if m == nil {
		return
	}
	m.DiffFieldChanges.Observe(float64(changes))
}
