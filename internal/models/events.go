package models

import "time"

// Event types
const (
	EventTypeOrderCreated  = "ORDER_CREATED"
	EventTypeOrderPaid     = "ORDER_PAID"
	EventTypeOrderFailed   = "ORDER_FAILED"
	EventTypeOrderRefunded = "ORDER_REFUNDED"
	EventTypeOrderDisputed = "ORDER_DISPUTED"
	EventTypeStockRestored = "STOCK_RESTORED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when checkout creates an order
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	Gateway     string          `json:"gateway"`
	TotalAmount int64           `json:"total_amount"`
	Items       []OrderItemData `json:"items"`
}

// OrderPaidEvent published when a payment confirmation is reconciled.
// Consumed by the bookkeeping worker for coupon/customer side effects.
type OrderPaidEvent struct {
	BaseEvent
	OrderID       int64  `json:"order_id"`
	OrderNumber   string `json:"order_number"`
	CustomerEmail string `json:"customer_email"`
	CouponCode    string `json:"coupon_code,omitempty"`
	Amount        int64  `json:"amount"`
	Provider      string `json:"provider"`
	TxRef         string `json:"tx_ref"`
}

// OrderFailedEvent published when a payment fails or is canceled
type OrderFailedEvent struct {
	BaseEvent
	OrderID  int64  `json:"order_id"`
	Status   string `json:"status"`
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
}

// OrderRefundedEvent published when a charge refund is reconciled
type OrderRefundedEvent struct {
	BaseEvent
	OrderID  int64  `json:"order_id"`
	Provider string `json:"provider"`
	Amount   int64  `json:"amount"`
}

// OrderDisputedEvent published when a dispute is opened on an order
type OrderDisputedEvent struct {
	BaseEvent
	OrderID  int64  `json:"order_id"`
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
}

// StockRestoredEvent published after compensating ledger rows are written
type StockRestoredEvent struct {
	BaseEvent
	OrderID   int64 `json:"order_id"`
	VariantID int64 `json:"variant_id"`
	Quantity  int   `json:"quantity"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	VariantID int64 `json:"variant_id"`
	Quantity  int   `json:"quantity"`
	UnitPrice int64 `json:"unit_price"`
}
