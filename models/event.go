package models

import (
	"time"

	"github.com/stripe/stripe-go/v79"
)

// Event 記錄已收到的 Stripe 事件，用於冪等處理
type Event struct {
	ID        string           `json:"id"`
	Type      stripe.EventType `json:"type"`
	Processed bool             `json:"processed"`
	LastError string           `json:"last_error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}
