package sqlite

import (
	"context"
	"path/filepath"
	"testing"
)

func TestStoreRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := New(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	if _, ok, err := store.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := store.Set(ctx, "cloid:abc", "42"); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, ok, err := store.Get(ctx, "cloid:abc")
	if err != nil || !ok || value != "42" {
		t.Fatalf("get after set: value=%q ok=%v err=%v", value, ok, err)
	}
	if err := store.Set(ctx, "cloid:abc", "43"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	value, _, _ = store.Get(ctx, "cloid:abc")
	if value != "43" {
		t.Fatalf("expected overwritten value, got %q", value)
	}
	if err := store.Delete(ctx, "cloid:abc"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "cloid:abc"); ok {
		t.Fatalf("expected miss after delete")
	}
}
