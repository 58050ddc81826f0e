package ws

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	// Server-side code asking clients to reconnect.
	infoCodeReconnect = 20001

	maxTradesPerMarket = 10000
	maxFills           = 10000
)

type Subscription struct {
	Channel string `json:"channel"`
	Market  string `json:"market,omitempty"`
}

type controlFrame struct {
	Op      string `json:"op"`
	Channel string `json:"channel,omitempty"`
	Market  string `json:"market,omitempty"`
}

type loginFrame struct {
	Op   string    `json:"op"`
	Args loginArgs `json:"args"`
}

type loginArgs struct {
	Key  string `json:"key"`
	Sign string `json:"sign"`
	Time int64  `json:"time"`
}

// Message is the single typed shape every server push decodes into before
// dispatch.
type Message struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	Market  string          `json:"market"`
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
}

type Ticker struct {
	Bid  float64 `json:"bid"`
	Ask  float64 `json:"ask"`
	Last float64 `json:"last"`
	Time float64 `json:"time"`
}

type Trade struct {
	ID    int64     `json:"id"`
	Price float64   `json:"price"`
	Size  float64   `json:"size"`
	Side  string    `json:"side"`
	Time  time.Time `json:"time"`
}

type Fill struct {
	ID      int64   `json:"id"`
	Market  string  `json:"market"`
	Future  string  `json:"future"`
	OrderID int64   `json:"orderId"`
	Side    string  `json:"side"`
	Price   float64 `json:"price"`
	Size    float64 `json:"size"`
	Fee     float64 `json:"fee"`
}

type OrderUpdate struct {
	ID         int64   `json:"id"`
	ClientID   string  `json:"clientId"`
	Market     string  `json:"market"`
	Side       string  `json:"side"`
	Size       float64 `json:"size"`
	FilledSize float64 `json:"filledSize"`
	Status     string  `json:"status"`
}

// Client keeps one streaming connection to the exchange, replicates order
// books with checksum verification, and caches tickers, trades, fills and
// order states. It reconnects, re-authenticates and re-subscribes on its own.
type Client struct {
	url            string
	apiKey         string
	apiSecret      string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *zap.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	subs     []Subscription
	loggedIn bool

	stateMu     sync.RWMutex
	tickers     map[string]Ticker
	trades      map[string][]Trade
	fills       []Fill
	orders      map[int64]OrderUpdate
	books       map[string]*orderBook
	bookWaiters map[string]chan struct{}

	resyncs   atomic.Uint64
	nowMillis func() int64
}

func New(url string, apiKey, apiSecret string, reconnectDelay, pingInterval time.Duration, log *zap.Logger) *Client {
	return &Client{
		url:            url,
		apiKey:         apiKey,
		apiSecret:      apiSecret,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		log:            log,
		tickers:        make(map[string]Ticker),
		trades:         make(map[string][]Trade),
		orders:         make(map[int64]OrderUpdate),
		books:          make(map[string]*orderBook),
		bookWaiters:    make(map[string]chan struct{}),
		nowMillis:      func() int64 { return time.Now().UnixMilli() },
	}
}

// Connect dials the endpoint and, when credentials are configured, performs
// the signed login so private channels can be subscribed.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return err
	}
	c.conn = conn
	c.loggedIn = false
	if c.apiKey != "" {
		if err := c.loginLocked(ctx); err != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "login failed")
			c.conn = nil
			return err
		}
	}
	return nil
}

func (c *Client) loginLocked(ctx context.Context) error {
	ts := c.nowMillis()
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(strconv.FormatInt(ts, 10) + "websocket_login"))
	frame := loginFrame{
		Op: "login",
		Args: loginArgs{
			Key:  c.apiKey,
			Sign: hex.EncodeToString(mac.Sum(nil)),
			Time: ts,
		},
	}
	if err := writeJSON(ctx, c.conn, frame); err != nil {
		return err
	}
	c.loggedIn = true
	return nil
}

// Subscribe registers the subscription and sends it when connected. Tracked
// subscriptions are re-issued after every reconnect.
func (c *Client) Subscribe(ctx context.Context, sub Subscription) error {
	c.mu.Lock()
	if !containsSub(c.subs, sub) {
		c.subs = append(c.subs, sub)
	}
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("ws not connected")
	}
	return writeJSON(ctx, conn, controlFrame{Op: "subscribe", Channel: sub.Channel, Market: sub.Market})
}

func (c *Client) Unsubscribe(ctx context.Context, sub Subscription) error {
	c.mu.Lock()
	c.subs = removeSub(c.subs, sub)
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("ws not connected")
	}
	return writeJSON(ctx, conn, controlFrame{Op: "unsubscribe", Channel: sub.Channel, Market: sub.Market})
}

func (c *Client) ensureSubscribed(ctx context.Context, sub Subscription) {
	c.mu.Lock()
	known := containsSub(c.subs, sub)
	c.mu.Unlock()
	if known {
		return
	}
	if err := c.Subscribe(ctx, sub); err != nil {
		c.log.Warn("subscribe failed", zap.String("channel", sub.Channel), zap.String("market", sub.Market), zap.Error(err))
	}
}

// Run drives the read loop until ctx is done, reconnecting (with login and
// re-subscription) after any error.
func (c *Client) Run(ctx context.Context) error {
	for {
		if err := c.ensureConnected(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("ws connect failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.reconnectDelay):
			}
			continue
		}
		pingCtx, cancel := context.WithCancel(ctx)
		pingDone := make(chan struct{})
		go func() {
			defer close(pingDone)
			c.pingLoop(pingCtx)
		}()
		err := c.readLoop(ctx)
		cancel()
		<-pingDone
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logReadLoopError(err)
		c.resetConn()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.reconnectDelay):
		}
	}
}

func (c *Client) ensureConnected(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	subs := append([]Subscription(nil), c.subs...)
	c.mu.Unlock()
	for _, sub := range subs {
		if err := writeJSON(ctx, conn, controlFrame{Op: "subscribe", Channel: sub.Channel, Market: sub.Market}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("ws not connected")
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Debug("ws decode error", zap.Error(err))
			continue
		}
		if err := c.handle(ctx, msg); err != nil {
			return err
		}
	}
}

var errServerReconnect = errors.New("server requested reconnect")

// handle is the single dispatch point for every inbound message.
func (c *Client) handle(ctx context.Context, msg Message) error {
	switch msg.Type {
	case "subscribed", "unsubscribed":
		c.log.Debug("subscription ack", zap.String("type", msg.Type), zap.String("channel", msg.Channel), zap.String("market", msg.Market))
		return nil
	case "info":
		if msg.Code == infoCodeReconnect {
			return errServerReconnect
		}
		c.log.Info("ws info", zap.Int("code", msg.Code), zap.String("msg", msg.Msg))
		return nil
	case "error":
		c.log.Error("ws error", zap.Int("code", msg.Code), zap.String("msg", msg.Msg))
		return nil
	case "partial", "update":
	default:
		return nil
	}

	switch msg.Channel {
	case "orderbook":
		c.handleOrderbook(ctx, msg)
	case "ticker":
		c.handleTicker(msg)
	case "trades":
		c.handleTrades(msg)
	case "fills":
		c.handleFill(msg)
	case "orders":
		c.handleOrder(msg)
	}
	return nil
}

func (c *Client) handleTicker(msg Message) {
	var ticker Ticker
	if err := json.Unmarshal(msg.Data, &ticker); err != nil {
		c.log.Debug("ticker decode error", zap.Error(err))
		return
	}
	c.stateMu.Lock()
	c.tickers[msg.Market] = ticker
	c.stateMu.Unlock()
}

func (c *Client) handleTrades(msg Message) {
	var trades []Trade
	if err := json.Unmarshal(msg.Data, &trades); err != nil {
		c.log.Debug("trades decode error", zap.Error(err))
		return
	}
	c.stateMu.Lock()
	buf := append(c.trades[msg.Market], trades...)
	if len(buf) > maxTradesPerMarket {
		buf = buf[len(buf)-maxTradesPerMarket:]
	}
	c.trades[msg.Market] = buf
	c.stateMu.Unlock()
}

func (c *Client) handleFill(msg Message) {
	var fill Fill
	if err := json.Unmarshal(msg.Data, &fill); err != nil {
		c.log.Debug("fill decode error", zap.Error(err))
		return
	}
	c.stateMu.Lock()
	c.fills = append(c.fills, fill)
	if len(c.fills) > maxFills {
		c.fills = c.fills[len(c.fills)-maxFills:]
	}
	c.stateMu.Unlock()
}

func (c *Client) handleOrder(msg Message) {
	var order OrderUpdate
	if err := json.Unmarshal(msg.Data, &order); err != nil {
		c.log.Debug("order decode error", zap.Error(err))
		return
	}
	c.stateMu.Lock()
	c.orders[order.ID] = order
	c.stateMu.Unlock()
}

// GetTicker returns the latest ticker, subscribing on first access.
func (c *Client) GetTicker(ctx context.Context, market string) (Ticker, bool) {
	c.ensureSubscribed(ctx, Subscription{Channel: "ticker", Market: market})
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	ticker, ok := c.tickers[market]
	return ticker, ok
}

func (c *Client) GetTrades(ctx context.Context, market string) []Trade {
	c.ensureSubscribed(ctx, Subscription{Channel: "trades", Market: market})
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return append([]Trade(nil), c.trades[market]...)
}

func (c *Client) GetFills(ctx context.Context) []Fill {
	c.ensureSubscribed(ctx, Subscription{Channel: "fills"})
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return append([]Fill(nil), c.fills...)
}

func (c *Client) GetOrders(ctx context.Context) map[int64]OrderUpdate {
	c.ensureSubscribed(ctx, Subscription{Channel: "orders"})
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	out := make(map[int64]OrderUpdate, len(c.orders))
	for id, order := range c.orders {
		out[id] = order
	}
	return out
}

// ResyncCount reports how many times a checksum mismatch forced a fresh
// order-book snapshot.
func (c *Client) ResyncCount() uint64 {
	return c.resyncs.Load()
}

func (c *Client) pingLoop(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	interval := c.pingInterval
	c.mu.Unlock()
	if conn == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeJSON(ctx, conn, controlFrame{Op: "ping"}); err != nil {
				return
			}
		}
	}
}

func (c *Client) logReadLoopError(err error) {
	if errors.Is(err, errServerReconnect) {
		c.log.Info("ws reconnect requested by server")
		return
	}
	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure {
		c.log.Info("ws read loop ended", zap.Error(err))
		return
	}
	c.log.Warn("ws read loop ended", zap.Error(err))
}

func (c *Client) resetConn() {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "reset")
		c.conn = nil
	}
	c.loggedIn = false
	c.mu.Unlock()

	// Books are only trustworthy across a connection; drop them so the next
	// subscribe delivers a fresh partial.
	c.stateMu.Lock()
	c.books = make(map[string]*orderBook)
	c.stateMu.Unlock()
}

func containsSub(subs []Subscription, sub Subscription) bool {
	for _, s := range subs {
		if s == sub {
			return true
		}
	}
	return false
}

func removeSub(subs []Subscription, sub Subscription) []Subscription {
	out := subs[:0]
	for _, s := range subs {
		if s != sub {
			out = append(out, s)
		}
	}
	return out
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
