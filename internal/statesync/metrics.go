package statesync

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this package.
	MetricsSubsystem = "statesync"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	TotalSnapshots       metrics.Counter
	SnapshotHeight       metrics.Gauge
	SnapshotChunks       metrics.Counter
	SnapshotChunksServed metrics.Counter
	DeltasServed         metrics.Counter
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		TotalSnapshots: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "total_snapshots",
			Help:      "The total number of snapshots received.",
		}, labels).With(labelsAndValues...),
		SnapshotHeight: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "snapshot_height",
			Help:      "The block number of the last snapshot received.",
		}, labels).With(labelsAndValues...),
		SnapshotChunks: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "snapshot_chunks",
			Help:      "The number of snapshot chunks received.",
		}, labels).With(labelsAndValues...),
		SnapshotChunksServed: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "snapshot_chunks_served",
			Help:      "The number of snapshot chunks sent to peers.",
		}, labels).With(labelsAndValues...),
		DeltasServed: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "deltas_served",
			Help:      "The number of block state deltas sent to peers.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		TotalSnapshots:       discard.NewCounter(),
		SnapshotHeight:       discard.NewGauge(),
		SnapshotChunks:       discard.NewCounter(),
		SnapshotChunksServed: discard.NewCounter(),
		DeltasServed:         discard.NewCounter(),
	}
}
