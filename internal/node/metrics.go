package node

import (
	"github.com/chainrelay/chainrelay/config"
	"github.com/chainrelay/chainrelay/internal/blocksync"
	"github.com/chainrelay/chainrelay/internal/dispatcher"
	"github.com/chainrelay/chainrelay/internal/eventhub"
	"github.com/chainrelay/chainrelay/internal/p2p"
	"github.com/chainrelay/chainrelay/internal/statesync"
)

// Metrics bundles the metrics of every component a node wires.
type Metrics struct {
	p2p        *p2p.Metrics
	dispatcher *dispatcher.Metrics
	blocksync  *blocksync.Metrics
	statesync  *statesync.Metrics
	eventhub   *eventhub.Metrics
}

// MetricsProvider returns the metrics of a node identified by moniker.
type MetricsProvider func(moniker string) *Metrics

// DefaultMetricsProvider returns Metrics build using Prometheus client library
// if Prometheus is enabled. Otherwise, it returns no-op Metrics.
func DefaultMetricsProvider(cfg *config.InstrumentationConfig) MetricsProvider {
	return func(moniker string) *Metrics {
		if cfg.Prometheus {
			return &Metrics{
				p2p:        p2p.PrometheusMetrics(cfg.Namespace, "moniker", moniker),
				dispatcher: dispatcher.PrometheusMetrics(cfg.Namespace, "moniker", moniker),
				blocksync:  blocksync.PrometheusMetrics(cfg.Namespace, "moniker", moniker),
				statesync:  statesync.PrometheusMetrics(cfg.Namespace, "moniker", moniker),
				eventhub:   eventhub.PrometheusMetrics(cfg.Namespace, "moniker", moniker),
			}
		}
		return nopMetrics()
	}
}

func nopMetrics() *Metrics {
	return &Metrics{
		p2p:        p2p.NopMetrics(),
		dispatcher: dispatcher.NopMetrics(),
		blocksync:  blocksync.NopMetrics(),
		statesync:  statesync.NopMetrics(),
		eventhub:   eventhub.NopMetrics(),
	}
}
