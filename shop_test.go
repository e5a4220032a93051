package parfum

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap/zaptest"

	"goflare.io/parfum/cart"
	"goflare.io/parfum/checkout"
	"goflare.io/parfum/event"
	"goflare.io/parfum/models"
	"goflare.io/parfum/models/enum"
	"goflare.io/parfum/order"
	"goflare.io/parfum/storage"
)

type fakeOrders struct {
	mu        sync.Mutex
	orders    map[string]*models.Order
	created   int
	nextID    uint64
	createErr error
}

var _ order.Repository = (*fakeOrders)(nil)

func newFakeOrders() *fakeOrders {
	return &fakeOrders{orders: make(map[string]*models.Order)}
}

func (f *fakeOrders) CreateOrder(_ context.Context, _ pgx.Tx, o *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	f.created++
	o.ID = f.nextID
	f.orders[o.CheckoutSessionID] = o
	return nil
}

func (f *fakeOrders) GetOrderByCheckoutSessionID(_ context.Context, _ pgx.Tx, id string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (f *fakeOrders) ListOrderItems(_ context.Context, _ pgx.Tx, orderID uint64) ([]models.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.ID == orderID {
			return o.Items, nil
		}
	}
	return nil, nil
}

func (f *fakeOrders) UpdateOrderStatus(_ context.Context, _ pgx.Tx, orderID uint64, status enum.OrderStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.ID == orderID {
			o.Status = status
			return nil
		}
	}
	return order.ErrNotFound
}

type fakeEvents struct {
	mu     sync.Mutex
	events map[string]*models.Event

	// lookupGate, when set, holds the first lookups until all of them arrived.
	lookupGate *sync.WaitGroup
	lookups    atomic.Int32
	gateSize   int32
}

var _ event.Repository = (*fakeEvents)(nil)

func newFakeEvents() *fakeEvents {
	return &fakeEvents{events: make(map[string]*models.Event)}
}

func (f *fakeEvents) Create(_ context.Context, _ pgx.Tx, e *models.Event) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.events[e.ID]; ok {
		return false, nil
	}
	cp := *e
	f.events[e.ID] = &cp
	return true, nil
}

func (f *fakeEvents) GetByID(_ context.Context, id string) (*models.Event, error) {
	if f.lookupGate != nil && f.lookups.Add(1) <= f.gateSize {
		f.lookupGate.Done()
		f.lookupGate.Wait()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[id]
	if !ok {
		return nil, event.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *fakeEvents) MarkAsProcessed(_ context.Context, _ pgx.Tx, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[id].Processed = true
	f.events[id].LastError = ""
	return nil
}

func (f *fakeEvents) MarkAsFailed(_ context.Context, id string, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[id].LastError = cause.Error()
	return nil
}

type fakeTransactor struct{}

func (fakeTransactor) ExecuteTransaction(_ context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

type fakePublisher struct {
	mu     sync.Mutex
	orders []*models.Order
}

func (f *fakePublisher) PublishOrderCompleted(_ context.Context, o *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, o)
	return nil
}

type fakeSessions struct{}

func (fakeSessions) New(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}, nil
}

type fixture struct {
	svc       Service
	kv        *storage.MemoryKV
	orders    *fakeOrders
	events    *fakeEvents
	publisher *fakePublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	f := &fixture{
		kv:        storage.NewMemoryKV(),
		orders:    newFakeOrders(),
		events:    newFakeEvents(),
		publisher: &fakePublisher{},
	}
	registry := cart.NewRegistry(f.kv, time.Minute, logger)
	checkoutService := checkout.NewService(fakeSessions{}, checkout.DefaultConfig(), logger)
	f.svc = NewService(registry, checkoutService, f.orders, f.events, fakeTransactor{}, nil, f.publisher, logger)
	t.Cleanup(f.svc.Shutdown)
	return f
}

func perfume(variantID string, price float64, quantity int) models.CartItem {
	return models.CartItem{
		ProductID:   "p-" + variantID,
		VariantID:   variantID,
		Name:        "Oud Noir",
		Image:       "https://cdn.example.com/oud.jpg",
		Size:        "50ml",
		ProductType: enum.ProductTypePerfume,
		Price:       price,
		Quantity:    quantity,
	}
}

func completedEvent(t *testing.T, id, cartSession string, items []models.CartItem) *stripe.Event {
	t.Helper()
	metadata, err := models.EncodeSummaryMetadata(models.NewLineSummaries(items))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	metadata[models.MetadataCartSession] = cartSession

	raw, err := json.Marshal(map[string]any{
		"id":                  "cs_test_1",
		"object":              "checkout.session",
		"client_reference_id": cartSession,
		"currency":            "eur",
		"amount_total":        6593,
		"payment_status":      "paid",
		"payment_intent":      "pi_123",
		"customer_details":    map[string]any{"email": "shopper@example.com"},
		"metadata":            metadata,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return &stripe.Event{
		ID:   id,
		Type: stripe.EventTypeCheckoutSessionCompleted,
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestService_CartOperationsPerSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	snap := f.svc.AddItem(ctx, "s1", perfume("v1", 29.99, 2))
	if snap.ItemCount != 2 || !snap.IsCartOpen {
		t.Errorf("expected 2 items and an open drawer, got %+v", snap)
	}
	snap = f.svc.UpdateQuantity(ctx, "s1", "v1", 5)
	if snap.ItemCount != 5 {
		t.Errorf("expected 5 items, got %d", snap.ItemCount)
	}
	if got := f.svc.Cart(ctx, "s2").ItemCount; got != 0 {
		t.Errorf("expected other session to be empty, got %d", got)
	}
	snap = f.svc.CloseCart(ctx, "s1")
	if snap.IsCartOpen {
		t.Error("expected drawer closed")
	}
	snap = f.svc.RemoveItem(ctx, "s1", "v1")
	if len(snap.Items) != 0 {
		t.Errorf("expected empty cart, got %+v", snap.Items)
	}
	if _, err := f.kv.Get(ctx, cart.SessionKey("s1")); err != nil {
		t.Errorf("expected cart persisted, got %v", err)
	}
}

func TestService_CheckoutUsesSessionCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Checkout(ctx, "s1", nil); !errors.Is(err, checkout.ErrEmptyCart) {
		t.Errorf("expected ErrEmptyCart for empty session cart, got %v", err)
	}

	f.svc.AddItem(ctx, "s1", perfume("v1", 29.99, 1))
	session, err := f.svc.Checkout(ctx, "s1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.URL == "" {
		t.Error("expected redirect URL")
	}
}

func TestService_CheckoutExplicitItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Checkout(ctx, "s1", json.RawMessage(`null`)); !errors.Is(err, checkout.ErrEmptyCart) {
		t.Errorf("expected ErrEmptyCart for null items, got %v", err)
	}
	if _, err := f.svc.Checkout(ctx, "s1", json.RawMessage(`[{"variantId":"v1","name":"Oud","price":10,"quantity":1,"productType":"perfume","size":"50ml"}]`)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestService_ProcessCheckoutCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	items := []models.CartItem{perfume("v1", 29.99, 2), perfume("v2", 5.95, 1)}
	for _, item := range items {
		f.svc.AddItem(ctx, "s1", item)
	}

	evt := completedEvent(t, "evt_1", "s1", items)
	if err := f.svc.ProcessEvent(ctx, evt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	o, err := f.orders.GetOrderByCheckoutSessionID(ctx, nil, "cs_test_1")
	if err != nil {
		t.Fatalf("expected order recorded, got %v", err)
	}
	if o.Status != enum.OrderStatusPaid {
		t.Errorf("expected paid, got %s", o.Status)
	}
	if o.ItemCount != 3 || len(o.Items) != 2 {
		t.Errorf("expected 3 units over 2 lines, got %d over %d", o.ItemCount, len(o.Items))
	}
	if o.CustomerEmail != "shopper@example.com" || o.PaymentIntentID != "pi_123" {
		t.Errorf("unexpected order %+v", o)
	}
	if o.CartSessionID != "s1" {
		t.Errorf("expected cart session s1, got %q", o.CartSessionID)
	}

	if got := f.svc.Cart(ctx, "s1").ItemCount; got != 0 {
		t.Errorf("expected session cart cleared, got %d", got)
	}
	if _, err = f.kv.Get(ctx, cart.SessionKey("s1")); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected persisted cart removed, got %v", err)
	}
	if len(f.publisher.orders) != 1 {
		t.Errorf("expected 1 published order, got %d", len(f.publisher.orders))
	}

	recorded, err := f.events.GetByID(ctx, "evt_1")
	if err != nil || !recorded.Processed {
		t.Errorf("expected event marked processed, got %+v, %v", recorded, err)
	}
}

func TestService_ProcessEventIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	evt := completedEvent(t, "evt_1", "s1", []models.CartItem{perfume("v1", 10, 1)})
	for i := 0; i < 3; i++ {
		if err := f.svc.ProcessEvent(ctx, evt); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if f.orders.created != 1 {
		t.Errorf("expected 1 order, got %d", f.orders.created)
	}

	// A redelivery under a new event id still maps to the same checkout session.
	if err := f.svc.ProcessEvent(ctx, completedEvent(t, "evt_2", "s1", []models.CartItem{perfume("v1", 10, 1)})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.orders.created != 1 {
		t.Errorf("expected 1 order, got %d", f.orders.created)
	}
}

func TestService_ProcessEventMissingSummaryFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	evt := &stripe.Event{
		ID:   "evt_bad",
		Type: stripe.EventTypeCheckoutSessionCompleted,
		Data: &stripe.EventData{Raw: json.RawMessage(`{"id":"cs_bad","object":"checkout.session"}`)},
	}
	if err := f.svc.ProcessEvent(ctx, evt); !errors.Is(err, models.ErrMissingSummary) {
		t.Errorf("expected ErrMissingSummary, got %v", err)
	}
	recorded, err := f.events.GetByID(ctx, "evt_bad")
	if err != nil {
		t.Fatalf("expected event recorded, got %v", err)
	}
	if recorded.Processed || recorded.LastError == "" {
		t.Errorf("expected failed event, got %+v", recorded)
	}
}

func TestService_ProcessAsyncPaymentFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.ProcessEvent(ctx, completedEvent(t, "evt_1", "s1", []models.CartItem{perfume("v1", 10, 1)})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	failed := &stripe.Event{
		ID:   "evt_2",
		Type: stripe.EventTypeCheckoutSessionAsyncPaymentFailed,
		Data: &stripe.EventData{Raw: json.RawMessage(`{"id":"cs_test_1","object":"checkout.session"}`)},
	}
	if err := f.svc.ProcessEvent(ctx, failed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	o, _ := f.orders.GetOrderByCheckoutSessionID(ctx, nil, "cs_test_1")
	if o.Status != enum.OrderStatusFailed {
		t.Errorf("expected failed, got %s", o.Status)
	}
}

func TestService_ProcessUnknownEventType(t *testing.T) {
	f := newFixture(t)

	err := f.svc.ProcessEvent(context.Background(), &stripe.Event{ID: "evt_x", Type: stripe.EventTypeChargeRefunded})
	if err == nil {
		t.Error("expected error for unhandled event type")
	}
}

func TestService_DispatchWithoutNATSProcessesInProcess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.DispatchEvent(ctx, completedEvent(t, "evt_1", "s1", []models.CartItem{perfume("v1", 10, 1)})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.svc.Shutdown()

	if _, err := f.orders.GetOrderByCheckoutSessionID(ctx, nil, "cs_test_1"); err != nil {
		t.Errorf("expected order recorded, got %v", err)
	}
}

func TestService_ProcessEventConcurrentDeliveries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const deliveries = 4
	f.events.lookupGate = &sync.WaitGroup{}
	f.events.lookupGate.Add(deliveries)
	f.events.gateSize = deliveries

	evt := completedEvent(t, "evt_dup", "s1", []models.CartItem{perfume("v1", 10, 1)})
	errs := make(chan error, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.svc.ProcessEvent(ctx, evt)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if f.orders.created != 1 {
		t.Errorf("expected 1 order, got %d", f.orders.created)
	}
	if len(f.publisher.orders) != 1 {
		t.Errorf("expected 1 published order, got %d", len(f.publisher.orders))
	}
}

func TestService_ProcessCompletedUniqueViolationIsAlreadyRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.svc.AddItem(ctx, "s1", perfume("v1", 10, 1))
	f.orders.createErr = fmt.Errorf("failed to insert order: %w", &pgconn.PgError{Code: "23505"})

	if err := f.svc.ProcessEvent(ctx, completedEvent(t, "evt_1", "s1", []models.CartItem{perfume("v1", 10, 1)})); err != nil {
		t.Fatalf("expected nil for an order recorded elsewhere, got %v", err)
	}
	if len(f.publisher.orders) != 0 {
		t.Errorf("expected nothing published, got %d", len(f.publisher.orders))
	}
	if got := f.svc.Cart(ctx, "s1").ItemCount; got != 1 {
		t.Errorf("expected cart left to the recording instance, got %d items", got)
	}
	recorded, _ := f.events.GetByID(ctx, "evt_1")
	if !recorded.Processed {
		t.Error("expected event marked processed")
	}
}

func TestService_ProcessAsyncPaymentSucceededPublishesOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	items := []models.CartItem{perfume("v1", 10, 1), perfume("v2", 20, 2)}
	if err := f.svc.ProcessEvent(ctx, completedEvent(t, "evt_1", "s1", items)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	succeeded := &stripe.Event{
		ID:   "evt_2",
		Type: stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded,
		Data: &stripe.EventData{Raw: json.RawMessage(`{"id":"cs_test_1","object":"checkout.session"}`)},
	}
	if err := f.svc.ProcessEvent(ctx, succeeded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.publisher.orders) != 2 {
		t.Fatalf("expected 2 published orders, got %d", len(f.publisher.orders))
	}
	last := f.publisher.orders[1]
	if last.Status != enum.OrderStatusPaid || len(last.Items) != 2 {
		t.Errorf("expected paid order with its items, got %+v", last)
	}
}
