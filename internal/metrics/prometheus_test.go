package metrics

import "testing"

func TestPrometheusCounters(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.OrdersPlaced.Inc()
	prom.Metrics.PairLegFailed.Inc()
	prom.Metrics.ChecksumResyncs.Inc()
	prom.Metrics.ChecksumResyncs.Inc()

	got := gather(t, prom)
	assertValue(t, got, "ftx_arb_bot_orders_placed_total", 1)
	assertValue(t, got, "ftx_arb_bot_pair_leg_failed_total", 1)
	assertValue(t, got, "ftx_arb_bot_orderbook_resyncs_total", 2)
	assertValue(t, got, "ftx_arb_bot_orders_failed_total", 0)
}

func gather(t *testing.T, prom *Prometheus) map[string]float64 {
	t.Helper()
	families, err := prom.registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := make(map[string]float64)
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			out[family.GetName()] = metric.GetCounter().GetValue()
		}
	}
	return out
}

func assertValue(t *testing.T, got map[string]float64, name string, expected float64) {
	t.Helper()
	if got[name] != expected {
		t.Fatalf("counter %s: expected %v, got %v", name, expected, got[name])
	}
}
