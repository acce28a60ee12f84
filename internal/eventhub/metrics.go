package eventhub

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this package.
	MetricsSubsystem = "eventhub"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of connected consumers.
	Consumers metrics.Gauge
	// Number of events published, by event type.
	EventsPublished metrics.Counter
	// Number of events delivered to consumers, by event type.
	EventsDelivered metrics.Counter
	// Number of queued events dropped because a consumer fell behind.
	EventsDropped metrics.Counter
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	typed := append(append([]string{}, labels...), "event_type")
	return &Metrics{
		Consumers: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "consumers",
			Help:      "Number of connected event consumers.",
		}, labels).With(labelsAndValues...),
		EventsPublished: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "events_published_total",
			Help:      "Number of events published.",
		}, typed).With(labelsAndValues...),
		EventsDelivered: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "events_delivered_total",
			Help:      "Number of events sent to consumers.",
		}, typed).With(labelsAndValues...),
		EventsDropped: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "events_dropped_total",
			Help:      "Number of events dropped because a consumer fell behind.",
		}, typed).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Consumers:       discard.NewGauge(),
		EventsPublished: discard.NewCounter(),
		EventsDelivered: discard.NewCounter(),
		EventsDropped:   discard.NewCounter(),
	}
}
