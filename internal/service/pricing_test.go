package service

import (
	"database/sql"
	"testing"

	"checkout-engine/internal/models"

	"github.com/stretchr/testify/assert"
)

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: true}
}

func TestResolveUnitPriceVariantSaleWins(t *testing.T) {
	v := &models.Variant{
		SalePrice:        nullInt(9000),
		BasePrice:        nullInt(12000),
		ProductSalePrice: nullInt(8000),
		ProductBasePrice: 15000,
	}

	assert.Equal(t, int64(9000), ResolveUnitPrice(v))
}

func TestResolveUnitPriceVariantBaseFallback(t *testing.T) {
	v := &models.Variant{
		BasePrice:        nullInt(12000),
		ProductBasePrice: 15000,
	}

	assert.Equal(t, int64(12000), ResolveUnitPrice(v))
}

func TestResolveUnitPriceProductFallbackWithModifier(t *testing.T) {
	v := &models.Variant{
		ProductSalePrice: nullInt(8000),
		ProductBasePrice: 15000,
		PriceModifier:    500,
	}

	assert.Equal(t, int64(8500), ResolveUnitPrice(v))
}

func TestResolveUnitPriceProductBaseWhenNoSale(t *testing.T) {
	v := &models.Variant{
		ProductBasePrice: 15000,
		PriceModifier:    -1000,
	}

	assert.Equal(t, int64(14000), ResolveUnitPrice(v))
}

func TestResolveUnitPriceZeroSaleIsIgnored(t *testing.T) {
	// a sale price of zero means "no sale", not "free"
	v := &models.Variant{
		SalePrice:        nullInt(0),
		BasePrice:        nullInt(12000),
		ProductBasePrice: 15000,
	}

	assert.Equal(t, int64(12000), ResolveUnitPrice(v))
}
