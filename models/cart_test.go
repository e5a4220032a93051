package models

import "testing"

func TestCart_Derived(t *testing.T) {
	c := Cart{Items: []CartItem{
		{VariantID: "v1", Price: 29.99, Quantity: 3},
		{VariantID: "v2", Price: 0.1, Quantity: 3},
	}}

	if c.ItemCount() != 6 {
		t.Errorf("expected 6 units, got %d", c.ItemCount())
	}
	if c.Subtotal() != 90.27 {
		t.Errorf("expected 90.27, got %v", c.Subtotal())
	}
	if NewCart().Subtotal() != 0 || NewCart().ItemCount() != 0 {
		t.Error("empty cart must total zero")
	}
}

func TestCart_FindAndClone(t *testing.T) {
	c := Cart{Items: []CartItem{{VariantID: "v1", Quantity: 1}, {VariantID: "v2", Quantity: 1}}}

	if c.Find("v2") != 1 || c.Find("v3") != -1 {
		t.Error("unexpected Find result")
	}

	clone := c.Clone()
	clone.Items[0].Quantity = 9
	if c.Items[0].Quantity != 1 {
		t.Error("clone must not share items")
	}
}
