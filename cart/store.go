// Package cart holds the shopping cart state machine, its persistence and the
// per-session hydration lifecycle.
package cart

import (
	"slices"
	"sync"

	"goflare.io/parfum/models"
	"goflare.io/parfum/models/enum"
)

// Snapshot is the read model handed to presentation code.
type Snapshot struct {
	Items      []models.CartItem `json:"items"`
	ItemCount  int               `json:"itemCount"`
	Subtotal   float64           `json:"subtotal"`
	IsCartOpen bool              `json:"isCartOpen"`
}

// Store owns one cart. Mutations are applied one at a time against the
// latest state and never fail. Listeners run after the state has changed and
// before the next mutation starts; they must not mutate the store.
type Store struct {
	// op serializes mutations together with their notifications.
	op sync.Mutex

	mu   sync.Mutex
	cart models.Cart
	open bool

	listenerMu sync.Mutex
	listeners  map[int]Listener
	nextID     int
}

func NewStore() *Store {
	s := &Store{
		cart:      *models.NewCart(),
		listeners: make(map[int]Listener),
	}
	s.Subscribe(s.openOnAdd)
	return s
}

// Subscribe registers l and returns a func that removes it.
func (s *Store) Subscribe(l Listener) func() {
	s.listenerMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.listenerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenerMu.Lock()
			delete(s.listeners, id)
			s.listenerMu.Unlock()
		})
	}
}

// AddItem merges item into the line with the same variant, accumulating only
// the quantity, or appends it as a new line. Items without a variant or with a
// non-positive quantity are ignored.
func (s *Store) AddItem(item models.CartItem) models.Cart {
	if item.VariantID == "" || item.Quantity <= 0 {
		return s.Cart()
	}

	return s.mutate(enum.CartEventItemAdded, item.VariantID, func(c models.Cart) (models.Cart, bool) {
		if i := c.Find(item.VariantID); i >= 0 {
			c.Items[i].Quantity += item.Quantity
		} else {
			c.Items = append(c.Items, item)
		}
		return c, true
	})
}

// RemoveItem drops the line for variantID. Missing variants are a no-op.
func (s *Store) RemoveItem(variantID string) models.Cart {
	return s.mutate(enum.CartEventItemRemoved, variantID, func(c models.Cart) (models.Cart, bool) {
		i := c.Find(variantID)
		if i < 0 {
			return c, false
		}
		c.Items = append(c.Items[:i], c.Items[i+1:]...)
		return c, true
	})
}

// UpdateQuantity sets the quantity of variantID; quantity <= 0 removes the line.
func (s *Store) UpdateQuantity(variantID string, quantity int) models.Cart {
	if quantity <= 0 {
		return s.RemoveItem(variantID)
	}

	return s.mutate(enum.CartEventQuantityUpdated, variantID, func(c models.Cart) (models.Cart, bool) {
		i := c.Find(variantID)
		if i < 0 {
			return c, false
		}
		c.Items[i].Quantity = quantity
		return c, true
	})
}

// ClearCart empties the cart unconditionally.
func (s *Store) ClearCart() models.Cart {
	return s.mutate(enum.CartEventCleared, "", func(models.Cart) (models.Cart, bool) {
		return *models.NewCart(), true
	})
}

// Hydrate replaces the whole state with cart, bypassing merge logic.
func (s *Store) Hydrate(cart models.Cart) models.Cart {
	next := cart.Clone()
	return s.mutate(enum.CartEventHydrated, "", func(models.Cart) (models.Cart, bool) {
		return next, true
	})
}

// mutate applies fn to a private copy of the cart. When fn reports a change
// the copy is installed and listeners are notified.
func (s *Store) mutate(typ enum.CartEventType, variantID string, fn func(models.Cart) (models.Cart, bool)) models.Cart {
	s.op.Lock()
	defer s.op.Unlock()

	s.mu.Lock()
	next, changed := fn(s.cart.Clone())
	if changed {
		s.cart = next
	}
	out := s.cart.Clone()
	s.mu.Unlock()

	if changed {
		s.emit(Event{Type: typ, VariantID: variantID, Cart: out.Clone()})
	}
	return out
}

func (s *Store) emit(e Event) {
	s.listenerMu.Lock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	ls := make([]Listener, 0, len(ids))
	for _, id := range ids {
		ls = append(ls, s.listeners[id])
	}
	s.listenerMu.Unlock()

	for _, l := range ls {
		l(e)
	}
}

func (s *Store) openOnAdd(e Event) {
	if e.Type == enum.CartEventItemAdded {
		s.OpenCart()
	}
}

func (s *Store) Cart() models.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Clone()
}

func (s *Store) Items() []models.CartItem {
	return s.Cart().Items
}

func (s *Store) ItemCount() int {
	return s.Cart().ItemCount()
}

func (s *Store) Subtotal() float64 {
	return s.Cart().Subtotal()
}

func (s *Store) IsCartOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// OpenCart and CloseCart only toggle drawer visibility; the items are untouched.
func (s *Store) OpenCart() {
	s.mu.Lock()
	s.open = true
	s.mu.Unlock()
}

func (s *Store) CloseCart() {
	s.mu.Lock()
	s.open = false
	s.mu.Unlock()
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Items:      s.cart.Clone().Items,
		ItemCount:  s.cart.ItemCount(),
		Subtotal:   s.cart.Subtotal(),
		IsCartOpen: s.open,
	}
}
