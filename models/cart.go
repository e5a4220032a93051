package models

import (
	"github.com/shopspring/decimal"

	"goflare.io/parfum/models/enum"
)

// CartItem 代表購物車中的單個商品項目，以 VariantID 去重
type CartItem struct {
	ProductID   string           `json:"productId"`
	VariantID   string           `json:"variantId"`
	Name        string           `json:"name"`
	Image       string           `json:"image"`
	Size        string           `json:"size"`
	ProductType enum.ProductType `json:"productType"`
	Price       float64          `json:"price"`
	Quantity    int              `json:"quantity"`
}

// Cart 代表購物車
type Cart struct {
	Items []CartItem `json:"items"`
}

func NewCart() *Cart {
	return &Cart{Items: []CartItem{}}
}

// LineTotal returns price * quantity for the item.
func (ci CartItem) LineTotal() decimal.Decimal {
	return decimal.NewFromFloat(ci.Price).Mul(decimal.NewFromInt(int64(ci.Quantity)))
}

// ItemCount is the total number of units, not the number of lines.
func (c Cart) ItemCount() int {
	count := 0
	for _, item := range c.Items {
		count += item.Quantity
	}
	return count
}

// Subtotal is recomputed from the items on every call.
func (c Cart) Subtotal() float64 {
	return c.SubtotalDecimal().InexactFloat64()
}

func (c Cart) SubtotalDecimal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.LineTotal())
	}
	return total.Round(2)
}

// Find returns the index of the item with the given variant, or -1.
func (c Cart) Find(variantID string) int {
	for i, item := range c.Items {
		if item.VariantID == variantID {
			return i
		}
	}
	return -1
}

func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Clone returns a copy that shares no backing array with c.
func (c Cart) Clone() Cart {
	items := make([]CartItem, len(c.Items))
	copy(items, c.Items)
	return Cart{Items: items}
}
