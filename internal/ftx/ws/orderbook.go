package ws

import (
	"context"
	"encoding/json"
	"hash/crc32"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const checksumDepth = 100

type bookData struct {
	Action   string       `json:"action"`
	Bids     [][2]float64 `json:"bids"`
	Asks     [][2]float64 `json:"asks"`
	Time     float64      `json:"time"`
	Checksum int64        `json:"checksum"`
}

type orderBook struct {
	bids map[float64]float64
	asks map[float64]float64
	time float64
}

func newOrderBook() *orderBook {
	return &orderBook{
		bids: make(map[float64]float64),
		asks: make(map[float64]float64),
	}
}

func (b *orderBook) reset() {
	b.bids = make(map[float64]float64)
	b.asks = make(map[float64]float64)
	b.time = 0
}

// apply folds a snapshot or delta into the book. A size of zero removes the
// level.
func (b *orderBook) apply(data bookData) {
	if data.Action == "partial" {
		b.reset()
	}
	for _, level := range data.Bids {
		if level[1] == 0 {
			delete(b.bids, level[0])
		} else {
			b.bids[level[0]] = level[1]
		}
	}
	for _, level := range data.Asks {
		if level[1] == 0 {
			delete(b.asks, level[0])
		} else {
			b.asks[level[0]] = level[1]
		}
	}
	b.time = data.Time
}

func (b *orderBook) sortedBids() [][2]float64 {
	return sortedLevels(b.bids, true)
}

func (b *orderBook) sortedAsks() [][2]float64 {
	return sortedLevels(b.asks, false)
}

func sortedLevels(levels map[float64]float64, desc bool) [][2]float64 {
	out := make([][2]float64, 0, len(levels))
	for price, size := range levels {
		out = append(out, [2]float64{price, size})
	}
	sort.Slice(out, func(i, j int) bool {
		if desc {
			return out[i][0] > out[j][0]
		}
		return out[i][0] < out[j][0]
	})
	return out
}

// checksum computes CRC32 over the top levels, bids and asks interleaved as
// "price:size" tokens joined with ":".
func (b *orderBook) checksum() uint32 {
	bids := b.sortedBids()
	asks := b.sortedAsks()
	depth := len(bids)
	if len(asks) > depth {
		depth = len(asks)
	}
	if depth > checksumDepth {
		depth = checksumDepth
	}
	var sb strings.Builder
	for i := 0; i < depth; i++ {
		if i < len(bids) {
			appendLevel(&sb, bids[i])
		}
		if i < len(asks) {
			appendLevel(&sb, asks[i])
		}
	}
	return crc32.ChecksumIEEE([]byte(sb.String()))
}

func appendLevel(sb *strings.Builder, level [2]float64) {
	if sb.Len() > 0 {
		sb.WriteByte(':')
	}
	sb.WriteString(formatLevel(level[0]))
	sb.WriteByte(':')
	sb.WriteString(formatLevel(level[1]))
}

// formatLevel renders a level the way the server does: shortest round-trip
// decimal, with integral values keeping a trailing ".0".
func formatLevel(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// OrderbookSnapshot is a point-in-time copy with bids descending and asks
// ascending by price.
type OrderbookSnapshot struct {
	Bids [][2]float64
	Asks [][2]float64
	Time float64
}

func (c *Client) handleOrderbook(ctx context.Context, msg Message) {
	var data bookData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		c.log.Debug("orderbook decode error", zap.Error(err))
		return
	}

	c.stateMu.Lock()
	book, ok := c.books[msg.Market]
	if !ok {
		book = newOrderBook()
		c.books[msg.Market] = book
	}
	book.apply(data)
	sum := book.checksum()
	matched := int64(sum) == data.Checksum
	var waiter chan struct{}
	if matched {
		if w, ok := c.bookWaiters[msg.Market]; ok {
			waiter = w
			delete(c.bookWaiters, msg.Market)
		}
	} else {
		delete(c.books, msg.Market)
	}
	c.stateMu.Unlock()

	if matched {
		if waiter != nil {
			close(waiter)
		}
		return
	}
	c.resyncs.Add(1)
	c.log.Warn("orderbook checksum mismatch, resubscribing",
		zap.String("market", msg.Market),
		zap.Uint32("computed", sum),
		zap.Int64("expected", data.Checksum))
	sub := Subscription{Channel: "orderbook", Market: msg.Market}
	if err := c.Unsubscribe(ctx, sub); err != nil {
		c.log.Warn("orderbook unsubscribe failed", zap.String("market", msg.Market), zap.Error(err))
	}
	if err := c.Subscribe(ctx, sub); err != nil {
		c.log.Warn("orderbook resubscribe failed", zap.String("market", msg.Market), zap.Error(err))
	}
}

// GetOrderbook returns the current verified book, subscribing on first
// access. ok is false until the first checksum-clean snapshot arrives.
func (c *Client) GetOrderbook(ctx context.Context, market string) (OrderbookSnapshot, bool) {
	c.ensureSubscribed(ctx, Subscription{Channel: "orderbook", Market: market})
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	book, ok := c.books[market]
	if !ok || book.time == 0 {
		return OrderbookSnapshot{}, false
	}
	return OrderbookSnapshot{
		Bids: book.sortedBids(),
		Asks: book.sortedAsks(),
		Time: book.time,
	}, true
}

// WaitForOrderbookUpdate blocks until the market's book passes a checksum
// after a fresh message, or the timeout elapses.
func (c *Client) WaitForOrderbookUpdate(ctx context.Context, market string, timeout time.Duration) error {
	c.ensureSubscribed(ctx, Subscription{Channel: "orderbook", Market: market})
	c.stateMu.Lock()
	waiter, ok := c.bookWaiters[market]
	if !ok {
		waiter = make(chan struct{})
		c.bookWaiters[market] = waiter
	}
	c.stateMu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-waiter:
		return nil
	case <-timer.C:
		return context.DeadlineExceeded
	case <-ctx.Done():
		return ctx.Err()
	}
}
