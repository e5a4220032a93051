// Package storage provides the string key-value stores a cart is persisted to.
package storage

import (
	"context"
	"errors"
)

// Returned when no value is stored under the requested key.
var ErrNotFound = errors.New("storage: key not found")

// KV is a string-keyed, string-valued durable store.
type KV interface {
	// Get returns the stored value, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
