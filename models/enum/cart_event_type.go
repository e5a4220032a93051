package enum

// CartEventType 表示購物車變更事件的類型
type CartEventType string

const (
	CartEventItemAdded       CartEventType = "item_added"
	CartEventItemRemoved     CartEventType = "item_removed"
	CartEventQuantityUpdated CartEventType = "quantity_updated"
	CartEventCleared         CartEventType = "cart_cleared"
	CartEventHydrated        CartEventType = "cart_hydrated"
)
