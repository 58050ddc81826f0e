package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	OrdersPlaced    Counter
	OrdersFailed    Counter
	PairLegFailed   Counter
	ChecksumResyncs Counter
	ExecuteCycles   Counter
	ExecuteFailed   Counter
	LeverageAlarms  Counter
	HistoryRowsLost Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		OrdersPlaced:    n,
		OrdersFailed:    n,
		PairLegFailed:   n,
		ChecksumResyncs: n,
		ExecuteCycles:   n,
		ExecuteFailed:   n,
		LeverageAlarms:  n,
		HistoryRowsLost: n,
	}
}
