package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"checkout-engine/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// WithTx runs fn inside a transaction, rolling back on error
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

const variantSelect = `
	SELECT v.id, v.product_id, v.name, v.sku, v.sale_price, v.base_price, v.price_modifier,
	       p.name AS product_name, p.sale_price AS product_sale_price,
	       p.base_price AS product_base_price, p.image_url
	FROM product_variants v
	JOIN products p ON p.id = v.product_id`

// GetVariantByID retrieves a variant with its parent product's price fields
func (s *Store) GetVariantByID(ctx context.Context, id int64) (*models.Variant, error) {
	var v models.Variant
	err := s.db.GetContext(ctx, &v, variantSelect+" WHERE v.id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("variant not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// GetVariantsByIDs retrieves multiple variants by IDs
func (s *Store) GetVariantsByIDs(ctx context.Context, ids []int64) ([]models.Variant, error) {
	if len(ids) == 0 {
		return []models.Variant{}, nil
	}

	query, args, err := sqlx.In(variantSelect+" WHERE v.id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var variants []models.Variant
	err = s.db.SelectContext(ctx, &variants, query, args...)
	return variants, err
}

// GetVariantStock retrieves the cached availability counter for a variant
func (s *Store) GetVariantStock(ctx context.Context, variantID int64) (*models.VariantStock, error) {
	var vs models.VariantStock
	err := s.db.GetContext(ctx, &vs, "SELECT * FROM variant_stock WHERE variant_id = $1", variantID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("stock counter not found for variant: %d", variantID)
	}
	if err != nil {
		return nil, err
	}
	return &vs, nil
}

// ListVariantStock retrieves all stock counters (used for cache warm-up)
func (s *Store) ListVariantStock(ctx context.Context) ([]models.VariantStock, error) {
	var counters []models.VariantStock
	err := s.db.SelectContext(ctx, &counters, "SELECT * FROM variant_stock ORDER BY variant_id")
	return counters, err
}

// SetVariantStock overwrites a stock counter (ERP sync)
func (s *Store) SetVariantStock(ctx context.Context, variantID int64, available int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO variant_stock (variant_id, available, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (variant_id) DO UPDATE SET available = $2, updated_at = NOW()`,
		variantID, available)
	return err
}

// GetCouponByCode retrieves an active coupon
func (s *Store) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var c models.Coupon
	err := s.db.GetContext(ctx, &c,
		"SELECT * FROM coupons WHERE code = $1 AND active = TRUE", code)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// IncrementCouponRedemptions bumps a coupon's redemption counter
func (s *Store) IncrementCouponRedemptions(ctx context.Context, code string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE coupons SET redemptions = redemptions + 1 WHERE code = $1", code)
	return err
}

// LookupExternalSKU resolves a marketplace SKU to an internal variant id.
// Returns 0 when no mapping exists.
func (s *Store) LookupExternalSKU(ctx context.Context, provider, sku string) (int64, error) {
	var m models.ExternalSKU
	err := s.db.GetContext(ctx, &m,
		"SELECT * FROM external_sku_map WHERE provider = $1 AND external_sku = $2",
		provider, sku)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return m.VariantID, nil
}

// UpsertExternalSKU creates or replaces a marketplace SKU mapping
// (operator followup for orders flagged by an unmapped SKU)
func (s *Store) UpsertExternalSKU(ctx context.Context, m *models.ExternalSKU) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO external_sku_map (provider, external_sku, variant_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, external_sku) DO UPDATE SET variant_id = $3`,
		m.Provider, m.ExternalSKU, m.VariantID)
	return err
}

// UpsertCustomerStats records best-effort customer purchase bookkeeping
func (s *Store) UpsertCustomerStats(ctx context.Context, email string, amount int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customer_stats (email, orders_count, total_spent, updated_at)
		VALUES ($1, 1, $2, NOW())
		ON CONFLICT (email) DO UPDATE SET
			orders_count = customer_stats.orders_count + 1,
			total_spent = customer_stats.total_spent + $2,
			updated_at = NOW()`,
		email, amount)
	return err
}
