package store

import (
	"context"
	"fmt"

	"checkout-engine/internal/models"

	"github.com/jmoiron/sqlx"
)

// InsertMovementTx applies a movement's delta to the cached stock
// counter and appends the ledger row in the same transaction.
// RESERVE/DEBIT decrement availability; RELEASE/REFUND restore it. The
// counter update runs first so an exhausted counter leaves no ledger
// row behind, even when the caller swallows ErrStockExhausted and
// commits.
func (s *Store) InsertMovementTx(ctx context.Context, tx *sqlx.Tx, m *models.InventoryMovement) error {
	switch m.Type {
	case models.MovementReserve, models.MovementDebit:
		res, err := tx.ExecContext(ctx, `
			UPDATE variant_stock SET available = available - $1, updated_at = NOW()
			WHERE variant_id = $2 AND available >= $1`,
			m.Quantity, m.VariantID)
		if err != nil {
			return fmt.Errorf("failed to decrement stock counter: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("%w: variant %d", ErrStockExhausted, m.VariantID)
		}
	case models.MovementRelease, models.MovementRefund:
		_, err := tx.ExecContext(ctx, `
			UPDATE variant_stock SET available = available + $1, updated_at = NOW()
			WHERE variant_id = $2`,
			m.Quantity, m.VariantID)
		if err != nil {
			return fmt.Errorf("failed to restore stock counter: %w", err)
		}
	}

	err := tx.QueryRowxContext(ctx, `
		INSERT INTO inventory_movements (variant_id, order_id, movement_type, quantity)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		m.VariantID, m.OrderID, m.Type, m.Quantity,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert movement: %w", err)
	}
	return nil
}

// ErrStockExhausted is returned when the authoritative counter update
// finds less stock than the movement requires
var ErrStockExhausted = fmt.Errorf("insufficient stock")

// GetMovementsByOrder retrieves all ledger rows for an order
func (s *Store) GetMovementsByOrder(ctx context.Context, orderID int64) ([]models.InventoryMovement, error) {
	var movements []models.InventoryMovement
	err := s.db.SelectContext(ctx, &movements,
		"SELECT * FROM inventory_movements WHERE order_id = $1 ORDER BY id", orderID)
	return movements, err
}

// GetUncompensatedMovements retrieves the order's original RESERVE/DEBIT
// rows that do not yet have a compensating RELEASE/REFUND row for the
// same (order, variant) pair. The check-before-compensate invariant
// keeps stock restoration idempotent.
func (s *Store) GetUncompensatedMovements(ctx context.Context, orderID int64) ([]models.InventoryMovement, error) {
	var movements []models.InventoryMovement
	err := s.db.SelectContext(ctx, &movements, `
		SELECT m.* FROM inventory_movements m
		WHERE m.order_id = $1
		  AND m.movement_type IN ('RESERVE', 'DEBIT')
		  AND NOT EXISTS (
			SELECT 1 FROM inventory_movements c
			WHERE c.order_id = m.order_id
			  AND c.variant_id = m.variant_id
			  AND c.movement_type IN ('RELEASE', 'REFUND')
		  )
		ORDER BY m.id`,
		orderID)
	return movements, err
}
