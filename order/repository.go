package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"goflare.io/parfum/driver"
	"goflare.io/parfum/models"
	"goflare.io/parfum/models/enum"
)

// ErrNotFound is returned when no order matches the lookup.
var ErrNotFound = errors.New("order not found")

var _ Repository = (*repository)(nil)

type Repository interface {
	CreateOrder(ctx context.Context, tx pgx.Tx, order *models.Order) error
	GetOrderByCheckoutSessionID(ctx context.Context, tx pgx.Tx, checkoutSessionID string) (*models.Order, error)
	ListOrderItems(ctx context.Context, tx pgx.Tx, orderID uint64) ([]models.OrderItem, error)
	UpdateOrderStatus(ctx context.Context, tx pgx.Tx, orderID uint64, status enum.OrderStatus) error
}

type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type repository struct {
	conn   driver.PostgresPool
	logger *zap.Logger
}

func NewRepository(conn driver.PostgresPool, logger *zap.Logger) Repository {
	return &repository{
		conn:   conn,
		logger: logger,
	}
}

func (r *repository) db(tx pgx.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.conn
}

const insertOrderSQL = `
INSERT INTO orders (order_number, cart_session_id, checkout_session_id, payment_intent_id,
                    customer_email, status, currency, amount_total, item_count)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id, created_at`

const insertOrderItemSQL = `
INSERT INTO order_items (order_id, product_id, variant_id, name, quantity, unit_price)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`

// CreateOrder inserts the order and its items. It must run inside tx.
func (r *repository) CreateOrder(ctx context.Context, tx pgx.Tx, order *models.Order) error {
	if tx == nil {
		return errors.New("create order requires a transaction")
	}

	err := tx.QueryRow(ctx, insertOrderSQL,
		order.OrderNumber,
		order.CartSessionID,
		order.CheckoutSessionID,
		order.PaymentIntentID,
		order.CustomerEmail,
		string(order.Status),
		string(order.Currency),
		order.AmountTotal,
		order.ItemCount,
	).Scan(&order.ID, &order.CreatedAt)
	if err != nil {
		r.logger.Error("Failed to create order", zap.Error(err))
		return fmt.Errorf("failed to insert order: %w", err)
	}

	batch := &pgx.Batch{}
	for i := range order.Items {
		order.Items[i].OrderID = order.ID
		item := order.Items[i]
		batch.Queue(insertOrderItemSQL,
			item.OrderID, item.ProductID, item.VariantID, item.Name, item.Quantity, item.UnitPrice)
	}

	results := tx.SendBatch(ctx, batch)
	for i := range order.Items {
		if err = results.QueryRow().Scan(&order.Items[i].ID); err != nil {
			_ = results.Close()
			r.logger.Error("Failed to add order item", zap.String("variant_id", order.Items[i].VariantID), zap.Error(err))
			return fmt.Errorf("failed to insert order item %s: %w", order.Items[i].VariantID, err)
		}
	}
	return results.Close()
}

const selectOrderSQL = `
SELECT id, order_number, cart_session_id, checkout_session_id, payment_intent_id,
       customer_email, status, currency, amount_total, item_count, created_at
FROM orders
WHERE checkout_session_id = $1`

func (r *repository) GetOrderByCheckoutSessionID(ctx context.Context, tx pgx.Tx, checkoutSessionID string) (*models.Order, error) {
	var (
		o        models.Order
		status   string
		currency string
	)
	err := r.db(tx).QueryRow(ctx, selectOrderSQL, checkoutSessionID).Scan(
		&o.ID, &o.OrderNumber, &o.CartSessionID, &o.CheckoutSessionID, &o.PaymentIntentID,
		&o.CustomerEmail, &status, &currency, &o.AmountTotal, &o.ItemCount, &o.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get order", zap.String("checkout_session_id", checkoutSessionID), zap.Error(err))
		return nil, err
	}
	o.Status = enum.OrderStatus(status)
	o.Currency = stripe.Currency(currency)
	return &o, nil
}

func (r *repository) ListOrderItems(ctx context.Context, tx pgx.Tx, orderID uint64) ([]models.OrderItem, error) {
	rows, err := r.db(tx).Query(ctx, `
SELECT id, order_id, product_id, variant_id, name, quantity, unit_price
FROM order_items
WHERE order_id = $1
ORDER BY id`, orderID)
	if err != nil {
		r.logger.Error("Failed to list order items", zap.Uint64("order_id", orderID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		if err = rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.VariantID, &item.Name, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *repository) UpdateOrderStatus(ctx context.Context, tx pgx.Tx, orderID uint64, status enum.OrderStatus) error {
	tag, err := r.db(tx).Exec(ctx, `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`, orderID, string(status))
	if err != nil {
		r.logger.Error("Failed to update order status", zap.Uint64("order_id", orderID), zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
