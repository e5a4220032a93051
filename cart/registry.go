package cart

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"goflare.io/parfum/storage"
)

// Registry keeps one mounted Store per visitor session and unmounts the ones
// that have been idle for longer than the configured TTL.
type Registry struct {
	kv      storage.KV
	idleTTL time.Duration
	opts    []PersisterOption
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*session

	listeners []Listener
	logger    *zap.Logger
}

type session struct {
	bootstrap *Bootstrap
	store     *Store
	lastUsed  time.Time
	inUse     int
}

func NewRegistry(kv storage.KV, idleTTL time.Duration, logger *zap.Logger, opts ...PersisterOption) *Registry {
	return &Registry{
		kv:       kv,
		idleTTL:  idleTTL,
		opts:     opts,
		now:      time.Now,
		sessions: make(map[string]*session),
		logger:   logger,
	}
}

// OnEvent subscribes l to every Store mounted after the call.
func (r *Registry) OnEvent(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Use runs fn against the Store for sessionID, mounting and hydrating it on
// first use. The session is not swept while fn runs.
func (r *Registry) Use(ctx context.Context, sessionID string, fn func(*Store)) {
	s := r.acquire(ctx, sessionID)
	defer r.release(s)
	fn(s.store)
}

func (r *Registry) acquire(ctx context.Context, sessionID string) *session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[sessionID]; ok {
		s.inUse++
		s.lastUsed = r.now()
		return s
	}

	persister := NewPersister(r.kv, SessionKey(sessionID), r.logger, r.opts...)
	bootstrap := NewBootstrap(persister)
	store := bootstrap.Mount(ctx)
	for _, l := range r.listeners {
		store.Subscribe(l)
	}

	s := &session{
		bootstrap: bootstrap,
		store:     store,
		lastUsed:  r.now(),
		inUse:     1,
	}
	r.sessions[sessionID] = s
	r.logger.Debug("Cart session mounted",
		zap.String("session_id", sessionID),
		zap.Int("item_count", store.ItemCount()))
	return s
}

func (r *Registry) release(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.inUse--
	s.lastUsed = r.now()
}

// Discard empties and forgets the session's cart, in memory and in storage.
func (r *Registry) Discard(ctx context.Context, sessionID string) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	r.mu.Unlock()

	if ok {
		s.store.ClearCart()
		s.store.CloseCart()
	}
	NewPersister(r.kv, SessionKey(sessionID), r.logger, r.opts...).Delete(ctx)
}

// Len reports the number of mounted sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep unmounts every session idle for longer than the TTL. Sessions in use
// are kept regardless of age.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.idleTTL)
	swept := 0
	for id, s := range r.sessions {
		if s.inUse == 0 && s.lastUsed.Before(cutoff) {
			s.bootstrap.Unmount()
			delete(r.sessions, id)
			swept++
		}
	}
	return swept
}

// Run sweeps periodically until ctx is done, then unmounts everything.
func (r *Registry) Run(ctx context.Context) {
	interval := r.idleTTL / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.unmountAll()
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Debug("Idle cart sessions unmounted",
					zap.Int("count", n),
					zap.Int("mounted", r.Len()))
			}
		}
	}
}

func (r *Registry) unmountAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, s := range r.sessions {
		s.bootstrap.Unmount()
		delete(r.sessions, id)
	}
}
