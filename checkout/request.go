// Package checkout maps cart items onto a payment session request and creates
// the session with the payment processor.
package checkout

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"goflare.io/parfum/models"
)

// LineItem is one processor line item.
type LineItem struct {
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	Images          []string `json:"images,omitempty"`
	UnitAmountCents int64    `json:"unit_amount_cents"`
	Quantity        int64    `json:"quantity"`
}

// Metadata is attached to the session for reconciliation with the
// confirmation event.
type Metadata struct {
	ItemCount int                  `json:"itemCount"`
	Items     []models.LineSummary `json:"items"`
}

// SessionRequest is the processor-independent shape of a checkout session.
type SessionRequest struct {
	Items    []LineItem `json:"items"`
	Metadata Metadata   `json:"metadata"`
}

// BuildCheckoutRequest validates items and maps each of them to a line item.
func BuildCheckoutRequest(items []models.CartItem) (*SessionRequest, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	req := &SessionRequest{
		Items: make([]LineItem, 0, len(items)),
		Metadata: Metadata{
			ItemCount: len(items),
			Items:     models.NewLineSummaries(items),
		},
	}
	for _, item := range items {
		li := LineItem{
			Name:            item.Name,
			Description:     Describe(item),
			UnitAmountCents: ToCents(item.Price),
			Quantity:        int64(item.Quantity),
		}
		if item.Image != "" {
			li.Images = []string{item.Image}
		}
		req.Items = append(req.Items, li)
	}
	return req, nil
}

// Describe returns "<type label> - <size>", dropping whichever part is unknown.
func Describe(item models.CartItem) string {
	label := item.ProductType.Label()
	switch {
	case label != "" && item.Size != "":
		return fmt.Sprintf("%s - %s", label, item.Size)
	case label != "":
		return label
	default:
		return item.Size
	}
}

// ToCents converts a major-unit price to minor units, rounding half up.
func ToCents(price float64) int64 {
	return decimal.NewFromFloat(price).Shift(2).Round(0).IntPart()
}

// DecodeItems decodes a raw "items" field. Anything other than a list,
// including an absent or null field, is treated as an empty cart.
func DecodeItems(raw json.RawMessage) ([]models.CartItem, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyCart
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil || len(elems) == 0 {
		return nil, ErrEmptyCart
	}

	items := make([]models.CartItem, 0, len(elems))
	for _, elem := range elems {
		var item models.CartItem
		if err := json.Unmarshal(elem, &item); err != nil {
			return nil, ErrInvalidItems
		}
		items = append(items, item)
	}
	return items, nil
}
