package models

import (
	"time"

	"github.com/stripe/stripe-go/v79"

	"goflare.io/parfum/models/enum"
)

// Order 代表一筆已完成結帳的訂單
type Order struct {
	ID                uint64           `json:"id"`
	OrderNumber       string           `json:"order_number"`
	CartSessionID     string           `json:"cart_session_id"`
	CheckoutSessionID string           `json:"checkout_session_id"`
	PaymentIntentID   string           `json:"payment_intent_id"`
	CustomerEmail     string           `json:"customer_email"`
	Status            enum.OrderStatus `json:"status"`
	Currency          stripe.Currency  `json:"currency"`
	AmountTotal       int64            `json:"amount_total"`
	ItemCount         int              `json:"item_count"`
	Items             []OrderItem      `json:"items"`
	CreatedAt         time.Time        `json:"created_at"`
}

// OrderItem 代表訂單中的單個商品項目
type OrderItem struct {
	ID        uint64  `json:"id"`
	OrderID   uint64  `json:"order_id"`
	ProductID string  `json:"product_id"`
	VariantID string  `json:"variant_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

func NewOrderItems(summaries []LineSummary) []OrderItem {
	items := make([]OrderItem, 0, len(summaries))
	for _, s := range summaries {
		items = append(items, OrderItem{
			ProductID: s.ProductID,
			VariantID: s.VariantID,
			Name:      s.Name,
			Quantity:  s.Quantity,
			UnitPrice: s.Price,
		})
	}
	return items
}
