package models

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Product represents a catalog product
type Product struct {
	ID        int64         `db:"id" json:"id"`
	Name      string        `db:"name" json:"name"`
	SalePrice sql.NullInt64 `db:"sale_price" json:"sale_price"`
	BasePrice int64         `db:"base_price" json:"base_price"`
	ImageURL  string        `db:"image_url" json:"image_url"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
}

// Variant represents a sellable product variant joined with its parent
// product's price fields, as read by the checkout path
type Variant struct {
	ID               int64         `db:"id" json:"id"`
	ProductID        int64         `db:"product_id" json:"product_id"`
	Name             string        `db:"name" json:"name"`
	SKU              string        `db:"sku" json:"sku"`
	SalePrice        sql.NullInt64 `db:"sale_price" json:"sale_price"`
	BasePrice        sql.NullInt64 `db:"base_price" json:"base_price"`
	PriceModifier    int64         `db:"price_modifier" json:"price_modifier"`
	ProductName      string        `db:"product_name" json:"product_name"`
	ProductSalePrice sql.NullInt64 `db:"product_sale_price" json:"product_sale_price"`
	ProductBasePrice int64         `db:"product_base_price" json:"product_base_price"`
	ImageURL         string        `db:"image_url" json:"image_url"`
}

// VariantStock is the cached per-variant availability counter. The
// inventory movement ledger is the source of truth; this row is updated
// in the same transaction as every ledger insert.
type VariantStock struct {
	VariantID int64     `db:"variant_id" json:"variant_id"`
	Available int       `db:"available" json:"available"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Order represents a customer order
type Order struct {
	ID               int64          `db:"id" json:"id"`
	OrderNumber      string         `db:"order_number" json:"order_number"`
	Status           string         `db:"status" json:"status"`
	Subtotal         int64          `db:"subtotal" json:"subtotal"`
	ShippingCost     int64          `db:"shipping_cost" json:"shipping_cost"`
	DiscountAmount   int64          `db:"discount_amount" json:"discount_amount"`
	TotalAmount      int64          `db:"total_amount" json:"total_amount"`
	Gateway          string         `db:"gateway" json:"gateway"`
	GatewayTxRef     sql.NullString `db:"gateway_tx_ref" json:"gateway_tx_ref,omitempty"`
	GatewayChargeRef sql.NullString `db:"gateway_charge_ref" json:"gateway_charge_ref,omitempty"`
	LastEventType    sql.NullString `db:"last_event_type" json:"last_event_type,omitempty"`
	CustomerName     string         `db:"customer_name" json:"customer_name"`
	CustomerEmail    string         `db:"customer_email" json:"customer_email"`
	CustomerPhone    string         `db:"customer_phone" json:"customer_phone"`
	ShippingAddress  string         `db:"shipping_address" json:"shipping_address"`
	ShippingCity     string         `db:"shipping_city" json:"shipping_city"`
	ShippingZip      string         `db:"shipping_zip" json:"shipping_zip"`
	CouponCode       sql.NullString `db:"coupon_code" json:"coupon_code,omitempty"`
	GuestToken       string         `db:"guest_token" json:"guest_token,omitempty"`
	IdempotencyKey   string         `db:"idempotency_key" json:"idempotency_key,omitempty"`
	NeedsReview      bool           `db:"needs_review" json:"needs_review"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
}

// OrderLineItem is a point-in-time snapshot of a purchased variant.
// Rows are immutable after insertion so historical orders stay correct
// even when catalog data changes later.
type OrderLineItem struct {
	ID          int64  `db:"id" json:"id"`
	OrderID     int64  `db:"order_id" json:"order_id"`
	ProductID   int64  `db:"product_id" json:"product_id"`
	VariantID   int64  `db:"variant_id" json:"variant_id"`
	ProductName string `db:"product_name" json:"product_name"`
	VariantName string `db:"variant_name" json:"variant_name"`
	ImageURL    string `db:"image_url" json:"image_url"`
	Quantity    int    `db:"quantity" json:"quantity"`
	UnitPrice   int64  `db:"unit_price" json:"unit_price"`
	LineTotal   int64  `db:"line_total" json:"line_total"`
}

// InventoryMovement is one row of the append-only stock ledger.
// Rows are never updated or deleted.
type InventoryMovement struct {
	ID        int64     `db:"id" json:"id"`
	VariantID int64     `db:"variant_id" json:"variant_id"`
	OrderID   int64     `db:"order_id" json:"order_id"`
	Type      string    `db:"movement_type" json:"movement_type"`
	Quantity  int       `db:"quantity" json:"quantity"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Payment represents one confirmed payment attempt. Rows are inserted
// once; only the status field moves on refund/dispute outcomes.
type Payment struct {
	ID           int64           `db:"id" json:"id"`
	OrderID      int64           `db:"order_id" json:"order_id"`
	Provider     string          `db:"provider" json:"provider"`
	Status       string          `db:"status" json:"status"`
	Method       string          `db:"method" json:"method"`
	GatewayTxRef string          `db:"gateway_tx_ref" json:"gateway_tx_ref"`
	Amount       int64           `db:"amount" json:"amount"`
	Installments int             `db:"installments" json:"installments"`
	RawPayload   json.RawMessage `db:"raw_payload" json:"raw_payload,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// GatewayWebhookEvent is the dedup row for provider notifications.
// The (provider, external_event_id) unique constraint is the core
// deduplication mechanism.
type GatewayWebhookEvent struct {
	ID              int64           `db:"id" json:"id"`
	Provider        string          `db:"provider" json:"provider"`
	ExternalEventID string          `db:"external_event_id" json:"external_event_id"`
	EventType       string          `db:"event_type" json:"event_type"`
	Payload         json.RawMessage `db:"payload" json:"payload,omitempty"`
	ProcessedAt     sql.NullTime    `db:"processed_at" json:"processed_at,omitempty"`
	ErrorMessage    sql.NullString  `db:"error_message" json:"error_message,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// Coupon represents a flat-amount discount code
type Coupon struct {
	Code        string    `db:"code" json:"code"`
	Discount    int64     `db:"discount" json:"discount"`
	Redemptions int       `db:"redemptions" json:"redemptions"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// ExternalSKU maps a marketplace provider's SKU to an internal variant
type ExternalSKU struct {
	Provider    string `db:"provider" json:"provider"`
	ExternalSKU string `db:"external_sku" json:"external_sku"`
	VariantID   int64  `db:"variant_id" json:"variant_id"`
}

// Order statuses
const (
	OrderStatusPending   = "PENDING"
	OrderStatusPaid      = "PAID"
	OrderStatusShipped   = "SHIPPED"
	OrderStatusDelivered = "DELIVERED"
	OrderStatusRefunded  = "REFUNDED"
	OrderStatusDisputed  = "DISPUTED"
	OrderStatusFailed    = "FAILED"
	OrderStatusCancelled = "CANCELLED"
)

// Inventory movement types. RESERVE and DEBIT take stock; RELEASE and
// REFUND are their respective compensations.
const (
	MovementReserve = "RESERVE"
	MovementDebit   = "DEBIT"
	MovementRelease = "RELEASE"
	MovementRefund  = "REFUND"
)

// StockMode controls which movement type a gateway's checkout inserts
type StockMode string

const (
	StockModeReserve StockMode = "reserve"
	StockModeDebit   StockMode = "debit"
)

// CheckoutMovement returns the ledger movement type for this mode
func (m StockMode) CheckoutMovement() string {
	if m == StockModeDebit {
		return MovementDebit
	}
	return MovementReserve
}

// CompensationFor returns the compensating movement type for an
// original RESERVE or DEBIT movement
func CompensationFor(movementType string) string {
	if movementType == MovementDebit {
		return MovementRefund
	}
	return MovementRelease
}

// IsTerminalStatus reports whether a status admits no further
// transitions outside the dispute-reopening path
func IsTerminalStatus(status string) bool {
	switch status {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded, OrderStatusFailed:
		return true
	}
	return false
}

// Payment statuses
const (
	PaymentStatusConfirmed = "CONFIRMED"
	PaymentStatusRefunded  = "REFUNDED"
	PaymentStatusDisputed  = "DISPUTED"
)
