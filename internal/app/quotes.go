package app

import (
	"context"

	"ftx-arb-bot/internal/ftx/ws"
	"ftx-arb-bot/internal/pairs"
)

// streamQuotes adapts the websocket ticker cache to the catalog's quote
// source. The first lookup for a market also subscribes it, so quotes become
// available a cycle or two after a pair enters the catalog.
type streamQuotes struct {
	stream *ws.Client
}

func (q *streamQuotes) Quote(ctx context.Context, market string) (pairs.Quote, bool) {
	ticker, ok := q.stream.GetTicker(ctx, market)
	if !ok || ticker.Bid <= 0 || ticker.Ask <= 0 {
		return pairs.Quote{}, false
	}
	return pairs.Quote{Bid: ticker.Bid, Ask: ticker.Ask}, true
}
