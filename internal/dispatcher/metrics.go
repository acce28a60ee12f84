package dispatcher

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this package.
	MetricsSubsystem = "dispatcher"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of requests awaiting a response.
	Pending metrics.Gauge
	// Number of requests that resolved with a timeout.
	Timeouts metrics.Counter
	// Number of responses that matched no outstanding request.
	UnknownResponses metrics.Counter
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
		Pending: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "pending",
			Help:      "Number of requests awaiting a response.",
		}, labels).With(labelsAndValues...),
		Timeouts: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "timeouts_total",
			Help:      "Number of requests that timed out.",
		}, labels).With(labelsAndValues...),
		UnknownResponses: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "unknown_responses_total",
			Help:      "Number of responses with an unknown correlation id.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Pending:          discard.NewGauge(),
		Timeouts:         discard.NewCounter(),
		UnknownResponses: discard.NewCounter(),
	}
}
