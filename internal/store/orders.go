package store

import (
	"context"
	"database/sql"
	"fmt"

	"checkout-engine/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateOrderTx inserts a new order inside tx and assigns its
// human-readable order number from the serial id
func (s *Store) CreateOrderTx(ctx context.Context, tx *sqlx.Tx, order *models.Order) error {
	query := `
		INSERT INTO orders (
			order_number, status, subtotal, shipping_cost, discount_amount, total_amount,
			gateway, customer_name, customer_email, customer_phone,
			shipping_address, shipping_city, shipping_zip,
			coupon_code, guest_token, idempotency_key, needs_review
		)
		VALUES ('', $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id, created_at, updated_at`

	err := tx.QueryRowxContext(ctx, query,
		order.Status, order.Subtotal, order.ShippingCost, order.DiscountAmount, order.TotalAmount,
		order.Gateway, order.CustomerName, order.CustomerEmail, order.CustomerPhone,
		order.ShippingAddress, order.ShippingCity, order.ShippingZip,
		order.CouponCode, order.GuestToken, order.IdempotencyKey, order.NeedsReview,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return err
	}

	order.OrderNumber = fmt.Sprintf("ORD-%06d", order.ID)
	_, err = tx.ExecContext(ctx,
		"UPDATE orders SET order_number = $1 WHERE id = $2", order.OrderNumber, order.ID)
	return err
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE idempotency_key = $1", key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByGatewayRef retrieves an order by its stored transaction or
// charge reference. Fallback lookup for provider events that do not
// echo back metadata.
func (s *Store) GetOrderByGatewayRef(ctx context.Context, provider, ref string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, `
		SELECT * FROM orders
		WHERE gateway = $1 AND (gateway_tx_ref = $2 OR gateway_charge_ref = $2)
		ORDER BY created_at DESC LIMIT 1`,
		provider, ref)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrderStatusTx updates order status and the last applied webhook
// event type inside tx
func (s *Store) UpdateOrderStatusTx(ctx context.Context, tx *sqlx.Tx, orderID int64, status, eventType string) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, last_event_type = $2, updated_at = NOW() WHERE id = $3",
		status, eventType, orderID)
	return err
}

// UpdateOrderGatewayRefs stores session/charge references after gateway calls
func (s *Store) UpdateOrderGatewayRefs(ctx context.Context, orderID int64, txRef, chargeRef string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orders SET
			gateway_tx_ref = COALESCE(NULLIF($1, ''), gateway_tx_ref),
			gateway_charge_ref = COALESCE(NULLIF($2, ''), gateway_charge_ref),
			updated_at = NOW()
		WHERE id = $3`,
		txRef, chargeRef, orderID)
	return err
}

// UpdateOrderGatewayRefsTx is the transactional variant of UpdateOrderGatewayRefs
func (s *Store) UpdateOrderGatewayRefsTx(ctx context.Context, tx *sqlx.Tx, orderID int64, txRef, chargeRef string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE orders SET
			gateway_tx_ref = COALESCE(NULLIF($1, ''), gateway_tx_ref),
			gateway_charge_ref = COALESCE(NULLIF($2, ''), gateway_charge_ref),
			updated_at = NOW()
		WHERE id = $3`,
		txRef, chargeRef, orderID)
	return err
}

// CreateLineItemTx inserts an immutable line item snapshot inside tx
func (s *Store) CreateLineItemTx(ctx context.Context, tx *sqlx.Tx, item *models.OrderLineItem) error {
	query := `
		INSERT INTO order_line_items (
			order_id, product_id, variant_id, product_name, variant_name,
			image_url, quantity, unit_price, line_total
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	return tx.QueryRowxContext(ctx, query,
		item.OrderID, item.ProductID, item.VariantID, item.ProductName, item.VariantName,
		item.ImageURL, item.Quantity, item.UnitPrice, item.LineTotal,
	).Scan(&item.ID)
}

// GetLineItemsByOrderID retrieves all line items for an order
func (s *Store) GetLineItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderLineItem, error) {
	var items []models.OrderLineItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_line_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// CreatePaymentTx inserts a payment row inside tx
func (s *Store) CreatePaymentTx(ctx context.Context, tx *sqlx.Tx, payment *models.Payment) error {
	query := `
		INSERT INTO payments (
			order_id, provider, status, method, gateway_tx_ref, amount, installments, raw_payload
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	return tx.QueryRowxContext(ctx, query,
		payment.OrderID, payment.Provider, payment.Status, payment.Method,
		payment.GatewayTxRef, payment.Amount, payment.Installments, payment.RawPayload,
	).Scan(&payment.ID, &payment.CreatedAt, &payment.UpdatedAt)
}

// GetPaymentByTxRef retrieves a payment by provider transaction reference
func (s *Store) GetPaymentByTxRef(ctx context.Context, provider, txRef string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE provider = $1 AND gateway_tx_ref = $2 LIMIT 1",
		provider, txRef)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPaymentsByOrderID retrieves payments for an order, newest first
func (s *Store) GetPaymentsByOrderID(ctx context.Context, orderID int64) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.SelectContext(ctx, &payments,
		"SELECT * FROM payments WHERE order_id = $1 ORDER BY created_at DESC", orderID)
	return payments, err
}

// UpdatePaymentStatusTx moves a payment's status (refund/dispute outcomes only)
func (s *Store) UpdatePaymentStatusTx(ctx context.Context, tx *sqlx.Tx, orderID int64, status string) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE payments SET status = $1, updated_at = NOW() WHERE order_id = $2",
		status, orderID)
	return err
}
