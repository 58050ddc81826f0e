package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"ftx-arb-bot/internal/state"

	"go.uber.org/zap"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string)}
}

func (m *memStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.data[key]
	return value, ok, nil
}

func (m *memStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memStore) Close() error { return nil }

func newConfigEngine(t *testing.T, store *memStore) *Engine {
	t.Helper()
	catalog, quotes := testCatalog(t)
	// Avoid wrapping a nil *memStore in a non-nil state.Store interface.
	var st state.Store
	if store != nil {
		st = store
	}
	return NewEngine(context.Background(), catalog, &fakeAccount{}, &fakeOrders{}, quotes, staticFunding(nil), st, nil, nil, zap.NewNop())
}

func TestUpdateConfigMergesOnlyGivenFields(t *testing.T) {
	engine := newConfigEngine(t, nil)
	before := engine.GetConfig()

	updated, err := engine.UpdateConfig(context.Background(), []byte(`{"close_pair":{"gt_leverage":25}}`))
	if err != nil {
		t.Fatalf("update config: %v", err)
	}
	if updated.ClosePair.GTLeverage != 25 {
		t.Fatalf("expected close gt_leverage 25, got %v", updated.ClosePair.GTLeverage)
	}
	if !updated.ClosePair.Enabled {
		t.Fatalf("sibling field enabled must be preserved")
	}
	if len(updated.IncreasePair.Rules) != len(before.IncreasePair.Rules) {
		t.Fatalf("unrelated sections must be untouched")
	}
	if updated.IncreasePair.LTLeverage != before.IncreasePair.LTLeverage {
		t.Fatalf("unrelated fields must retain prior values")
	}
	if engine.ConfigVersion() != 1 {
		t.Fatalf("expected version bump, got %d", engine.ConfigVersion())
	}
}

func TestUpdateConfigRejectsInvalidOrdering(t *testing.T) {
	engine := newConfigEngine(t, nil)

	_, err := engine.UpdateConfig(context.Background(), []byte(`{"increase_pair":{"lt_leverage":16}}`))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if got := engine.GetConfig().IncreasePair.LTLeverage; got != 11 {
		t.Fatalf("rejected update must not change config, got lt_leverage %v", got)
	}
	if engine.ConfigVersion() != 0 {
		t.Fatalf("rejected update must not bump version")
	}
}

func TestUpdateConfigPersistsAndReloads(t *testing.T) {
	store := newMemStore()
	engine := newConfigEngine(t, store)

	if _, err := engine.UpdateConfig(context.Background(), []byte(`{"alarm":{"gt_leverage":30}}`)); err != nil {
		t.Fatalf("update config: %v", err)
	}
	raw, ok := store.data[configStateKey]
	if !ok {
		t.Fatalf("expected persisted snapshot")
	}
	var persisted Config
	if err := json.Unmarshal([]byte(raw), &persisted); err != nil {
		t.Fatalf("decode persisted config: %v", err)
	}
	if persisted.Alarm.GTLeverage != 30 {
		t.Fatalf("persisted snapshot must carry the update, got %v", persisted.Alarm.GTLeverage)
	}

	restarted := newConfigEngine(t, store)
	if got := restarted.GetConfig().Alarm.GTLeverage; got != 30 {
		t.Fatalf("restart must reload the stored config, got %v", got)
	}
}

func TestQuoteAmountForDiff(t *testing.T) {
	rules := DefaultConfig().IncreasePair.Rules

	amount, ok := quoteAmountForDiff(rules, 1.5)
	if !ok || amount != 200 {
		t.Fatalf("expected [1,2) rule amount 200, got %v ok=%v", amount, ok)
	}
	amount, ok = quoteAmountForDiff(rules, 0)
	if !ok || amount != 100 {
		t.Fatalf("gte bound is inclusive, got %v ok=%v", amount, ok)
	}
	if _, ok := quoteAmountForDiff(rules, -0.5); ok {
		t.Fatalf("negative gap must not match any rule")
	}
}

func TestValidateRejectsEmptyRuleRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IncreasePair.Rules = []LeverageDiffToQuoteAmountRule{{GTE: 2, LT: 2, QuoteAmount: 100}}
	if err := cfg.validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for empty range, got %v", err)
	}
}
