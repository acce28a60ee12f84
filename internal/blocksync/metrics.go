package blocksync

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this package.
	MetricsSubsystem = "blocksync"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Whether or not a node is closing a gap. 1 if yes, 0 if no.
	Syncing metrics.Gauge
	// Height of the local head.
	Height metrics.Gauge
	// Number of blocks committed by the engine.
	BlocksApplied metrics.Counter
	// Number of announcements ignored because the height was already held.
	DuplicateAnnouncements metrics.Counter
	// Number of gap syncs that failed before committing.
	SyncFailures metrics.Counter
	// Time taken to close a gap.
	SyncDuration metrics.Histogram
	// Number of blocks served to peers.
	BlocksServed metrics.Counter
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
		Syncing: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "syncing",
			Help:      "Whether or not a node is block syncing. 1 if yes, 0 if no.",
		}, labels).With(labelsAndValues...),
		Height: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "height",
			Help:      "Block number of the local head.",
		}, labels).With(labelsAndValues...),
		BlocksApplied: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "blocks_applied_total",
			Help:      "Number of blocks committed.",
		}, labels).With(labelsAndValues...),
		DuplicateAnnouncements: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "duplicate_announcements_total",
			Help:      "Number of block announcements at or below the local height.",
		}, labels).With(labelsAndValues...),
		SyncFailures: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "sync_failures_total",
			Help:      "Number of gap syncs that failed.",
		}, labels).With(labelsAndValues...),
		SyncDuration: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "sync_duration_seconds",
			Help:      "Time taken to close a gap.",
			Buckets:   stdprometheus.ExponentialBuckets(0.01, 4, 8),
		}, labels).With(labelsAndValues...),
		BlocksServed: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "blocks_served_total",
			Help:      "Number of blocks sent to peers.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Syncing:                discard.NewGauge(),
		Height:                 discard.NewGauge(),
		BlocksApplied:          discard.NewCounter(),
		DuplicateAnnouncements: discard.NewCounter(),
		SyncFailures:           discard.NewCounter(),
		SyncDuration:           discard.NewHistogram(),
		BlocksServed:           discard.NewCounter(),
	}
}
