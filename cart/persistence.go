package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"goflare.io/parfum/models"
	"goflare.io/parfum/models/enum"
	"goflare.io/parfum/storage"
)

// StorageKey is the application-level key carts are persisted under.
const StorageKey = "parfum-cart"

const persistTimeout = 2 * time.Second

var errMalformedCart = errors.New("malformed persisted cart")

// ErrorHook observes persistence failures. It never changes the outcome of the
// operation that failed.
type ErrorHook func(op string, err error)

// Persister saves and restores one cart under a fixed key. Failures are
// swallowed: the in-memory cart stays authoritative.
type Persister struct {
	kv     storage.KV
	key    string
	hooks  []ErrorHook
	logger *zap.Logger
}

type PersisterOption func(*Persister)

// WithErrorHook adds a diagnostic hook called on every swallowed failure.
func WithErrorHook(hook ErrorHook) PersisterOption {
	return func(p *Persister) {
		p.hooks = append(p.hooks, hook)
	}
}

func NewPersister(kv storage.KV, key string, logger *zap.Logger, opts ...PersisterOption) *Persister {
	p := &Persister{
		kv:     kv,
		key:    key,
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SessionKey namespaces StorageKey for one visitor session.
func SessionKey(sessionID string) string {
	return StorageKey + ":" + sessionID
}

// Save writes cart as {"items":[...]}.
func (p *Persister) Save(ctx context.Context, cart models.Cart) {
	if cart.Items == nil {
		cart.Items = []models.CartItem{}
	}
	data, err := json.Marshal(cart)
	if err != nil {
		p.report("save", fmt.Errorf("failed to marshal cart: %w", err))
		return
	}
	if err = p.kv.Set(ctx, p.key, string(data)); err != nil {
		p.report("save", err)
	}
}

// Load returns the persisted cart, or nil when there is nothing usable to
// hydrate from: the key is absent, the value is malformed, or storage failed.
func (p *Persister) Load(ctx context.Context) *models.Cart {
	raw, err := p.kv.Get(ctx, p.key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		p.report("load", err)
		return nil
	}

	cart, err := decodeCart(raw)
	if err != nil {
		p.report("load", err)
		return nil
	}
	return cart
}

// Delete removes the persisted cart.
func (p *Persister) Delete(ctx context.Context) {
	if err := p.kv.Delete(ctx, p.key); err != nil {
		p.report("delete", err)
	}
}

// Listener saves the cart after every mutation. Hydration is skipped: the
// hydrated value was just read from storage.
func (p *Persister) Listener() Listener {
	return func(e Event) {
		if e.Type == enum.CartEventHydrated {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		p.Save(ctx, e.Cart)
	}
}

func (p *Persister) report(op string, err error) {
	p.logger.Warn("Cart persistence failed",
		zap.String("op", op),
		zap.String("key", p.key),
		zap.Error(err))
	for _, hook := range p.hooks {
		hook(op, err)
	}
}

type persistedCart struct {
	Items *[]models.CartItem `json:"items"`
}

func decodeCart(raw string) (*models.Cart, error) {
	var pc persistedCart
	if err := json.Unmarshal([]byte(raw), &pc); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedCart, err)
	}
	if pc.Items == nil {
		return nil, fmt.Errorf("%w: items missing", errMalformedCart)
	}
	for _, item := range *pc.Items {
		if item.VariantID == "" || item.Quantity < 1 || item.Price < 0 {
			return nil, fmt.Errorf("%w: invalid item %q", errMalformedCart, item.VariantID)
		}
	}
	return &models.Cart{Items: *pc.Items}, nil
}
