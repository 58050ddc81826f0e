package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "ftx_arb_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(c)
		return c
	}

	m := &Metrics{
		OrdersPlaced:    promCounter{counter("orders_placed_total", "Total number of orders placed.")},
		OrdersFailed:    promCounter{counter("orders_failed_total", "Total number of order placement failures.")},
		PairLegFailed:   promCounter{counter("pair_leg_failed_total", "Total number of hedged pair executions with at least one failed leg.")},
		ChecksumResyncs: promCounter{counter("orderbook_resyncs_total", "Total number of order book checksum resyncs.")},
		ExecuteCycles:   promCounter{counter("execute_cycles_total", "Total number of strategy execute cycles run.")},
		ExecuteFailed:   promCounter{counter("execute_failed_total", "Total number of strategy execute cycles that errored.")},
		LeverageAlarms:  promCounter{counter("leverage_alarms_total", "Total number of leverage alarm notifications sent.")},
		HistoryRowsLost: promCounter{counter("history_rows_dropped_total", "Total number of history rows dropped due to writer backpressure.")},
	}

	return &Prometheus{
		Metrics:  m,
		registry: registry,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
