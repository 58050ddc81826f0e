package exec

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"ftx-arb-bot/internal/ftx/rest"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string]string)}
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.data[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStore) Close() error { return nil }

type mockRest struct {
	mu       sync.Mutex
	calls    int
	orderID  int64
	placeErr error
}

func (m *mockRest) PlaceOrder(ctx context.Context, req rest.OrderRequest) (rest.Order, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.placeErr != nil {
		return rest.Order{}, m.placeErr
	}
	return rest.Order{ID: m.orderID, ClientID: req.ClientID}, nil
}

func (m *mockRest) CancelOrderByClientID(ctx context.Context, clientID string) error {
	_ = ctx
	_ = clientID
	return nil
}

func TestExecutorIdempotentPlacement(t *testing.T) {
	store := newMemoryStore()
	client := &mockRest{orderID: 101}
	logger := zap.NewNop()
	executor := New(client, store, logger)

	ctx := context.Background()
	req := rest.OrderRequest{Market: "BTC/USD", Side: "buy", Size: 1, Type: "market", ClientID: "abc"}

	id1, err := executor.PlaceOrder(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, err := executor.PlaceOrder(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected same order id, got %d and %d", id1, id2)
	}
	if client.calls != 1 {
		t.Fatalf("expected 1 rest call, got %d", client.calls)
	}

	client2 := &mockRest{orderID: 202}
	executor2 := New(client2, store, logger)
	id3, err := executor2.PlaceOrder(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id3 != id1 {
		t.Fatalf("expected stored order id %d, got %d", id1, id3)
	}
	if client2.calls != 0 {
		t.Fatalf("expected no rest calls on restart, got %d", client2.calls)
	}
}

func TestExecutorDoesNotRetryFailedPlacement(t *testing.T) {
	client := &mockRest{placeErr: errors.New("gateway timeout")}
	executor := New(client, newMemoryStore(), zap.NewNop())

	_, err := executor.PlaceOrder(context.Background(), rest.OrderRequest{Market: "BTC/USD", Side: "buy", Size: 1, ClientID: "xyz"})
	if err == nil {
		t.Fatalf("expected placement error")
	}
	if client.calls != 1 {
		t.Fatalf("placement must not be retried, got %d calls", client.calls)
	}
}
