package parfum

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nats-io/nats.go"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"goflare.io/parfum/cart"
	"goflare.io/parfum/checkout"
	"goflare.io/parfum/driver"
	"goflare.io/parfum/event"
	"goflare.io/parfum/models"
	"goflare.io/parfum/order"
)

const workerPoolSize = 10

// Service 是店面對外的入口：每個訪客 session 的購物車、結帳與 Stripe 事件處理
type Service interface {
	Cart(ctx context.Context, sessionID string) cart.Snapshot
	AddItem(ctx context.Context, sessionID string, item models.CartItem) cart.Snapshot
	RemoveItem(ctx context.Context, sessionID, variantID string) cart.Snapshot
	UpdateQuantity(ctx context.Context, sessionID, variantID string, quantity int) cart.Snapshot
	ClearCart(ctx context.Context, sessionID string) cart.Snapshot
	OpenCart(ctx context.Context, sessionID string) cart.Snapshot
	CloseCart(ctx context.Context, sessionID string) cart.Snapshot

	// Checkout creates a processor session for items, or for the session's
	// own cart when items is nil.
	Checkout(ctx context.Context, sessionID string, items json.RawMessage) (*checkout.Session, error)
	CheckoutFailure(err error) checkout.Failure

	DispatchEvent(ctx context.Context, event *stripe.Event) error
	ProcessEvent(ctx context.Context, event *stripe.Event) error

	Shutdown()
}

// Transactor runs fn inside a database transaction.
type Transactor interface {
	ExecuteTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error
}

var _ Transactor = (*driver.TransactionManager)(nil)

// OrderPublisher announces completed orders to downstream consumers.
type OrderPublisher interface {
	PublishOrderCompleted(ctx context.Context, order *models.Order) error
}

type service struct {
	carts    *cart.Registry
	checkout *checkout.Service
	order    order.Repository
	event    event.Repository

	transactionManager Transactor
	eventManager       *EventManager
	workerPool         *WorkerPool
	publisher          OrderPublisher

	logger *zap.Logger
}

// NewService wires the storefront. natsConn and publisher may be nil: events
// are then processed in-process and completed orders are not announced.
func NewService(
	carts *cart.Registry, checkoutService *checkout.Service, orders order.Repository, events event.Repository, tm Transactor,
	natsConn *nats.Conn, publisher OrderPublisher,
	logger *zap.Logger) Service {
	s := &service{
		carts:              carts,
		checkout:           checkoutService,
		order:              orders,
		event:              events,
		transactionManager: tm,
		publisher:          publisher,
		logger:             logger,
	}
	s.eventManager = NewEventManager(natsConn, logger)
	s.workerPool = NewWorkerPool(workerPoolSize, s, logger)
	s.registerEventHandlers()

	// 訂閱事件
	if natsConn != nil {
		if err := s.eventManager.SubscribeToEvents(s.workerPool); err != nil {
			logger.Error("Failed to subscribe to events", zap.Error(err))
		}
	}

	return s
}

// withStore applies fn to the session's Store and returns the resulting snapshot.
func (s *service) withStore(ctx context.Context, sessionID string, fn func(*cart.Store)) cart.Snapshot {
	var snap cart.Snapshot
	s.carts.Use(ctx, sessionID, func(store *cart.Store) {
		fn(store)
		snap = store.Snapshot()
	})
	return snap
}

func (s *service) Cart(ctx context.Context, sessionID string) cart.Snapshot {
	return s.withStore(ctx, sessionID, func(*cart.Store) {})
}

func (s *service) AddItem(ctx context.Context, sessionID string, item models.CartItem) cart.Snapshot {
	return s.withStore(ctx, sessionID, func(store *cart.Store) { store.AddItem(item) })
}

func (s *service) RemoveItem(ctx context.Context, sessionID, variantID string) cart.Snapshot {
	return s.withStore(ctx, sessionID, func(store *cart.Store) { store.RemoveItem(variantID) })
}

func (s *service) UpdateQuantity(ctx context.Context, sessionID, variantID string, quantity int) cart.Snapshot {
	return s.withStore(ctx, sessionID, func(store *cart.Store) { store.UpdateQuantity(variantID, quantity) })
}

func (s *service) ClearCart(ctx context.Context, sessionID string) cart.Snapshot {
	return s.withStore(ctx, sessionID, func(store *cart.Store) { store.ClearCart() })
}

func (s *service) OpenCart(ctx context.Context, sessionID string) cart.Snapshot {
	return s.withStore(ctx, sessionID, func(store *cart.Store) { store.OpenCart() })
}

func (s *service) CloseCart(ctx context.Context, sessionID string) cart.Snapshot {
	return s.withStore(ctx, sessionID, func(store *cart.Store) { store.CloseCart() })
}

func (s *service) Checkout(ctx context.Context, sessionID string, raw json.RawMessage) (*checkout.Session, error) {
	var items []models.CartItem
	if raw == nil {
		items = s.Cart(ctx, sessionID).Items
	} else {
		decoded, err := checkout.DecodeItems(raw)
		if err != nil {
			return nil, err
		}
		items = decoded
	}

	return s.checkout.Checkout(ctx, items, sessionID)
}

func (s *service) CheckoutFailure(err error) checkout.Failure {
	return s.checkout.Failure(err)
}

// DispatchEvent hands a verified webhook event to the processing pipeline:
// through NATS when connected, straight to the worker pool otherwise.
func (s *service) DispatchEvent(ctx context.Context, evt *stripe.Event) error {
	if s.eventManager.Connected() {
		if err := s.eventManager.Publish(evt); err != nil {
			return fmt.Errorf("failed to publish event %s: %w", evt.ID, err)
		}
		return nil
	}
	return s.workerPool.Submit(context.WithoutCancel(ctx), evt)
}

func (s *service) ProcessEvent(ctx context.Context, evt *stripe.Event) error {
	existing, err := s.event.GetByID(ctx, evt.ID)
	switch {
	case err == nil && existing.Processed:
		s.logger.Info("Event already processed", zap.String("event_id", evt.ID))
		return nil
	case err != nil && !errors.Is(err, event.ErrNotFound):
		return fmt.Errorf("failed to look up event %s: %w", evt.ID, err)
	}

	handler, exists := s.eventManager.GetHandler(evt.Type)
	if !exists {
		return fmt.Errorf("no handler registered for event type: %s", evt.Type)
	}

	if existing == nil {
		now := time.Now()
		inserted, err := s.event.Create(ctx, nil, &models.Event{
			ID:        evt.ID,
			Type:      evt.Type,
			Processed: false,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			s.logger.Error("Failed to create event", zap.Error(err))
			return err
		}
		// 另一個 worker 已經認領此事件
		if !inserted {
			s.logger.Info("Event already claimed", zap.String("event_id", evt.ID))
			return nil
		}
	}

	if err = handler(ctx, evt); err != nil {
		s.logger.Error("處理事件時出錯",
			zap.String("event_id", evt.ID),
			zap.String("event_type", string(evt.Type)),
			zap.Error(err),
		)
		if markErr := s.event.MarkAsFailed(ctx, evt.ID, err); markErr != nil {
			s.logger.Warn("Failed to record event failure", zap.String("event_id", evt.ID), zap.Error(markErr))
		}
		return err
	}

	if err = s.event.MarkAsProcessed(ctx, nil, evt.ID); err != nil {
		s.logger.Error("Failed to mark event as processed", zap.String("event_id", evt.ID), zap.Error(err))
		return err
	}

	s.logger.Info("Stripe event processed", zap.String("event_id", evt.ID))

	return nil
}

func (s *service) Shutdown() {
	s.eventManager.Close()
	s.workerPool.Shutdown()
}
