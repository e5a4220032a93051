package cart

import (
	"context"
	"sync"
)

// Bootstrap ties a Store to its Persister for the lifetime of one mount.
// Mount hydrates at most once; later changes to storage made elsewhere are
// not observed.
type Bootstrap struct {
	persister *Persister

	mu          sync.Mutex
	store       *Store
	unsubscribe func()
}

func NewBootstrap(persister *Persister) *Bootstrap {
	return &Bootstrap{persister: persister}
}

// Mount loads the persisted cart into a fresh Store before returning it, then
// starts persisting every mutation. Calling Mount again returns the same Store.
func (b *Bootstrap) Mount(ctx context.Context) *Store {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.store != nil {
		return b.store
	}

	store := NewStore()
	if persisted := b.persister.Load(ctx); persisted != nil {
		store.Hydrate(*persisted)
	}
	b.unsubscribe = store.Subscribe(b.persister.Listener())
	b.store = store
	return store
}

// Unmount stops persistence and releases the Store.
func (b *Bootstrap) Unmount() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.unsubscribe != nil {
		b.unsubscribe()
		b.unsubscribe = nil
	}
	b.store = nil
}
