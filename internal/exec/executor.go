package exec

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"ftx-arb-bot/internal/ftx/rest"
	"ftx-arb-bot/internal/state"
)

// RestClient is the slice of the exchange client the executor needs.
type RestClient interface {
	PlaceOrder(ctx context.Context, req rest.OrderRequest) (rest.Order, error)
	CancelOrderByClientID(ctx context.Context, clientID string) error
}

// Executor places orders with client-id idempotency: a client id that was
// already confirmed maps to its exchange order id without hitting the
// exchange again. Placement is never retried, since a timed-out request may
// still have filled; cancellation is retried because it is idempotent on the
// exchange side.
type Executor struct {
	rest  RestClient
	store state.Store
	log   *zap.Logger

	mu    sync.Mutex
	cache map[string]int64
}

func New(rest RestClient, store state.Store, log *zap.Logger) *Executor {
	return &Executor{
		rest:  rest,
		store: store,
		log:   log,
		cache: make(map[string]int64),
	}
}

func (e *Executor) PlaceOrder(ctx context.Context, req rest.OrderRequest) (int64, error) {
	if req.ClientID == "" {
		order, err := e.rest.PlaceOrder(ctx, req)
		return order.ID, err
	}
	cacheKey := "cloid:" + req.ClientID
	e.mu.Lock()
	if id, ok := e.cache[cacheKey]; ok {
		e.mu.Unlock()
		return id, nil
	}
	e.mu.Unlock()
	if e.store != nil {
		if value, ok, err := e.store.Get(ctx, cacheKey); err != nil {
			return 0, err
		} else if ok {
			id, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("corrupt order id for %s: %w", cacheKey, err)
			}
			e.mu.Lock()
			e.cache[cacheKey] = id
			e.mu.Unlock()
			return id, nil
		}
	}
	order, err := e.rest.PlaceOrder(ctx, req)
	if err != nil {
		return 0, err
	}
	if e.store != nil {
		if err := e.store.Set(ctx, cacheKey, strconv.FormatInt(order.ID, 10)); err != nil {
			e.log.Warn("failed to persist order id", zap.String("client_id", req.ClientID), zap.Error(err))
		}
	}
	e.mu.Lock()
	e.cache[cacheKey] = order.ID
	e.mu.Unlock()
	return order.ID, nil
}

func (e *Executor) CancelOrderByClientID(ctx context.Context, clientID string) error {
	backoff := 200 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		lastErr = e.rest.CancelOrderByClientID(ctx, clientID)
		if lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return fmt.Errorf("cancel %s: %w", clientID, lastErr)
}
