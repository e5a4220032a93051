package parfum

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/nats-io/nats.go"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"goflare.io/parfum/driver"
	"goflare.io/parfum/models"
	"goflare.io/parfum/models/enum"
	"goflare.io/parfum/order"
)

const (
	// EventSubjectPrefix is the NATS subject prefix webhook events are published under.
	EventSubjectPrefix = "payment.service.event."
	// EventQueueGroup spreads events over storefront instances so each is handled once.
	EventQueueGroup = "parfum-storefront"
)

type EventHandler func(context.Context, *stripe.Event) error

type EventManager struct {
	natsConn     *nats.Conn
	subscription *nats.Subscription
	handlers     map[stripe.EventType]EventHandler
	logger       *zap.Logger
}

func NewEventManager(natsConn *nats.Conn, logger *zap.Logger) *EventManager {
	return &EventManager{
		natsConn: natsConn,
		handlers: make(map[stripe.EventType]EventHandler),
		logger:   logger,
	}
}

func (em *EventManager) RegisterHandler(eventType stripe.EventType, handler EventHandler) {
	em.handlers[eventType] = handler
}

func (em *EventManager) GetHandler(eventType stripe.EventType) (EventHandler, bool) {
	handler, exists := em.handlers[eventType]
	return handler, exists
}

// Connected reports whether events travel through NATS.
func (em *EventManager) Connected() bool {
	return em.natsConn != nil && em.natsConn.IsConnected()
}

// Publish sends event to its subject under EventSubjectPrefix.
func (em *EventManager) Publish(event *stripe.Event) error {
	if em.natsConn == nil {
		return nats.ErrConnectionClosed
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return em.natsConn.Publish(EventSubjectPrefix+string(event.Type), data)
}

func (em *EventManager) SubscribeToEvents(wp *WorkerPool) error {
	sub, err := em.natsConn.QueueSubscribe(EventSubjectPrefix+">", EventQueueGroup, func(msg *nats.Msg) {
		var event stripe.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			em.logger.Error("Failed to unmarshal event", zap.Error(err))
			return
		}

		if err := wp.Submit(context.Background(), &event); err != nil {
			em.logger.Warn("Dropped event", zap.String("event_id", event.ID), zap.Error(err))
		}
	})
	if err != nil {
		return err
	}

	em.subscription = sub
	return nil
}

// Close stops receiving events. The connection itself is owned by the caller.
func (em *EventManager) Close() {
	if em.subscription == nil {
		return
	}
	if err := em.subscription.Unsubscribe(); err != nil {
		em.logger.Warn("Failed to unsubscribe from events", zap.Error(err))
	}
	em.subscription = nil
}

func (s *service) registerEventHandlers() {
	eventHandlers := map[stripe.EventType]EventHandler{
		// Checkout Session Events
		stripe.EventTypeCheckoutSessionCompleted:             s.handleCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded: s.handleCheckoutSessionAsyncPaymentSucceeded,
		stripe.EventTypeCheckoutSessionAsyncPaymentFailed:    s.handleCheckoutSessionAsyncPaymentFailed,
		stripe.EventTypeCheckoutSessionExpired:               s.handleCheckoutSessionExpired,
	}

	for eventType, handler := range eventHandlers {
		s.eventManager.RegisterHandler(eventType, handler)
	}
}

func decodeCheckoutSession(event *stripe.Event) (*stripe.CheckoutSession, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkout session: %w", err)
	}
	return &session, nil
}

// cartSessionOf returns the storefront session the checkout was started from.
func cartSessionOf(session *stripe.CheckoutSession) string {
	if id := session.Metadata[models.MetadataCartSession]; id != "" {
		return id
	}
	return session.ClientReferenceID
}

func newOrderNumber() string {
	return "PF-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

func newOrder(session *stripe.CheckoutSession, summaries []models.LineSummary) *models.Order {
	o := &models.Order{
		OrderNumber:       newOrderNumber(),
		CartSessionID:     cartSessionOf(session),
		CheckoutSessionID: session.ID,
		Status:            enum.OrderStatusPending,
		Currency:          session.Currency,
		AmountTotal:       session.AmountTotal,
		Items:             models.NewOrderItems(summaries),
	}
	for _, item := range o.Items {
		o.ItemCount += item.Quantity
	}
	if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid ||
		session.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired {
		o.Status = enum.OrderStatusPaid
	}
	if session.PaymentIntent != nil {
		o.PaymentIntentID = session.PaymentIntent.ID
	}
	if session.CustomerDetails != nil {
		o.CustomerEmail = session.CustomerDetails.Email
	}
	return o
}

func (s *service) handleCheckoutSessionCompleted(ctx context.Context, event *stripe.Event) error {
	s.logger.Info("Handling Checkout Session completed event", zap.String("event_id", event.ID))

	session, err := decodeCheckoutSession(event)
	if err != nil {
		s.logger.Error("Failed to unmarshal Checkout Session", zap.Error(err))
		return err
	}

	summaries, err := models.ParseOrderSummary(session.Metadata)
	if err != nil {
		return fmt.Errorf("checkout session %s: %w", session.ID, err)
	}

	var created *models.Order
	err = s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		existing, err := s.order.GetOrderByCheckoutSessionID(ctx, tx, session.ID)
		if err == nil {
			s.logger.Info("Order already recorded for checkout session",
				zap.String("checkout_session_id", session.ID),
				zap.String("order_number", existing.OrderNumber))
			return nil
		}
		if !errors.Is(err, order.ErrNotFound) {
			return fmt.Errorf("failed to get order: %w", err)
		}

		o := newOrder(session, summaries)
		if err = s.order.CreateOrder(ctx, tx, o); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}
		created = o
		return nil
	})
	if driver.IsUniqueViolation(err) {
		s.logger.Info("Order recorded concurrently for checkout session",
			zap.String("checkout_session_id", session.ID))
		return nil
	}
	if err != nil {
		return err
	}
	if created == nil {
		return nil
	}

	s.logger.Info("Order recorded",
		zap.String("order_number", created.OrderNumber),
		zap.String("checkout_session_id", created.CheckoutSessionID),
		zap.String("status", string(created.Status)),
		zap.Int64("amount_total", created.AmountTotal))

	if created.CartSessionID != "" {
		s.carts.Discard(ctx, created.CartSessionID)
	}

	if s.publisher != nil {
		if err = s.publisher.PublishOrderCompleted(ctx, created); err != nil {
			s.logger.Warn("Failed to publish completed order",
				zap.String("order_number", created.OrderNumber),
				zap.Error(err))
		}
	}
	return nil
}

func (s *service) handleCheckoutSessionAsyncPaymentSucceeded(ctx context.Context, event *stripe.Event) error {
	return s.updateOrderStatus(ctx, event, enum.OrderStatusPaid)
}

func (s *service) handleCheckoutSessionAsyncPaymentFailed(ctx context.Context, event *stripe.Event) error {
	return s.updateOrderStatus(ctx, event, enum.OrderStatusFailed)
}

func (s *service) updateOrderStatus(ctx context.Context, event *stripe.Event, status enum.OrderStatus) error {
	s.logger.Info("Handling Checkout Session payment event",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)))

	session, err := decodeCheckoutSession(event)
	if err != nil {
		s.logger.Error("Failed to unmarshal Checkout Session", zap.Error(err))
		return err
	}

	var updated *models.Order
	err = s.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		o, err := s.order.GetOrderByCheckoutSessionID(ctx, tx, session.ID)
		if err != nil {
			s.logger.Error("Order not found for checkout session", zap.String("checkout_session_id", session.ID), zap.Error(err))
			return err
		}

		if err = s.order.UpdateOrderStatus(ctx, tx, o.ID, status); err != nil {
			return fmt.Errorf("更新訂單狀態失敗: %w", err)
		}
		o.Status = status

		if status == enum.OrderStatusPaid {
			if o.Items, err = s.order.ListOrderItems(ctx, tx, o.ID); err != nil {
				return fmt.Errorf("failed to list order items: %w", err)
			}
		}
		updated = o
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Order status updated",
		zap.String("order_number", updated.OrderNumber),
		zap.String("status", string(status)))

	// 延遲付款成功後訂單才算完成
	if status == enum.OrderStatusPaid && s.publisher != nil {
		if err = s.publisher.PublishOrderCompleted(ctx, updated); err != nil {
			s.logger.Warn("Failed to publish completed order",
				zap.String("order_number", updated.OrderNumber),
				zap.Error(err))
		}
	}
	return nil
}

// The cart is left untouched so the shopper can retry.
func (s *service) handleCheckoutSessionExpired(_ context.Context, event *stripe.Event) error {
	session, err := decodeCheckoutSession(event)
	if err != nil {
		s.logger.Error("Failed to unmarshal Checkout Session", zap.Error(err))
		return err
	}

	s.logger.Info("Checkout session expired",
		zap.String("event_id", event.ID),
		zap.String("checkout_session_id", session.ID),
		zap.String("cart_session_id", cartSessionOf(session)))
	return nil
}
