package cart

import (
	"goflare.io/parfum/models"
	"goflare.io/parfum/models/enum"
)

// Event is emitted by a Store after every successful mutation.
type Event struct {
	Type      enum.CartEventType
	VariantID string
	Cart      models.Cart
}

// Listener receives store events synchronously, in mutation order.
type Listener func(Event)
