package service

import "checkout-engine/internal/models"

// ResolveUnitPrice returns the effective unit price for a variant.
// Resolution order: variant sale price, variant base price, then the
// parent product's sale-or-base price plus the variant's modifier.
// The order is significant and must not change.
func ResolveUnitPrice(v *models.Variant) int64 {
	if v.SalePrice.Valid && v.SalePrice.Int64 > 0 {
		return v.SalePrice.Int64
	}
	if v.BasePrice.Valid && v.BasePrice.Int64 > 0 {
		return v.BasePrice.Int64
	}

	productPrice := v.ProductBasePrice
	if v.ProductSalePrice.Valid && v.ProductSalePrice.Int64 > 0 {
		productPrice = v.ProductSalePrice.Int64
	}
	return productPrice + v.PriceModifier
}
