package storage

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryKV_GetMissing(t *testing.T) {
	kv := NewMemoryKV()

	if _, err := kv.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryKV_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()

	if err := kv.Set(ctx, "k", "v1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := kv.Set(ctx, "k", "v2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := kv.Get(ctx, "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "v2" {
		t.Errorf("expected %q, got %q", "v2", got)
	}

	if err := kv.Delete(ctx, "k"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := kv.Delete(ctx, "k"); err != nil {
		t.Errorf("deleting a missing key should succeed, got %v", err)
	}
	if kv.Len() != 0 {
		t.Errorf("expected empty store, got %d keys", kv.Len())
	}
}
