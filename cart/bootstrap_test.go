package cart

import (
	"context"
	"testing"

	"go.uber.org/zap/zaptest"

	"goflare.io/parfum/models"
	"goflare.io/parfum/storage"
)

func TestBootstrap_MountHydratesPersistedCart(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	p := NewPersister(kv, StorageKey, zaptest.NewLogger(t))
	p.Save(ctx, models.Cart{Items: []models.CartItem{item("v1", 2, 29.99)}})

	b := NewBootstrap(p)
	store := b.Mount(ctx)

	if store.ItemCount() != 2 {
		t.Errorf("expected 2 units after hydration, got %d", store.ItemCount())
	}
	if store.IsCartOpen() {
		t.Error("hydration must not open the drawer")
	}
	if again := b.Mount(ctx); again != store {
		t.Error("second Mount must return the mounted store")
	}
}

func TestBootstrap_MountWithInvalidJSONStartsEmpty(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	_ = kv.Set(ctx, StorageKey, "{not json")

	store := NewBootstrap(NewPersister(kv, StorageKey, zaptest.NewLogger(t))).Mount(ctx)

	if !store.Cart().IsEmpty() {
		t.Errorf("expected empty cart, got %+v", store.Items())
	}
}

func TestBootstrap_MountWithFailingStorageStartsEmpty(t *testing.T) {
	store := NewBootstrap(NewPersister(failingKV{err: context.DeadlineExceeded}, StorageKey, zaptest.NewLogger(t))).
		Mount(context.Background())

	// Persistence keeps failing, the in-memory cart still works.
	store.AddItem(item("v1", 1, 10))
	if store.ItemCount() != 1 {
		t.Errorf("expected 1 unit, got %d", store.ItemCount())
	}
}

func TestBootstrap_PersistsUntilUnmount(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	p := NewPersister(kv, StorageKey, zaptest.NewLogger(t))
	b := NewBootstrap(p)

	store := b.Mount(ctx)
	store.AddItem(item("v1", 1, 10))
	b.Unmount()
	store.AddItem(item("v2", 1, 10))

	got := p.Load(ctx)
	if got == nil || len(got.Items) != 1 || got.Items[0].VariantID != "v1" {
		t.Errorf("expected only v1 persisted, got %+v", got)
	}
	if b.store != nil {
		t.Error("expected bootstrap to be unmounted")
	}

	remounted := b.Mount(ctx)
	if remounted == store {
		t.Error("remount must build a fresh store")
	}
	if remounted.ItemCount() != 1 {
		t.Errorf("expected rehydrated cart with 1 unit, got %d", remounted.ItemCount())
	}
}
