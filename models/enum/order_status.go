package enum

// OrderStatus 表示訂單的狀態
type OrderStatus string

const (
	OrderStatusPaid    OrderStatus = "paid"
	OrderStatusPending OrderStatus = "pending"
	OrderStatusExpired OrderStatus = "expired"
	OrderStatusFailed  OrderStatus = "failed"
)
