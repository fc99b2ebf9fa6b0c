package service

import (
	"errors"
	"fmt"
)

// Checkout error taxonomy. Every sentinel maps to a stable error code
// surfaced to the HTTP caller.
var (
	ErrEmptyCart          = errors.New("cart is empty")
	ErrInvalidQuantity    = errors.New("item quantity must be a positive integer")
	ErrVariantNotFound    = errors.New("variant not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrOrderNotFound      = errors.New("order not found")
	ErrEventNotSeen       = errors.New("event has never been received")
	ErrUnresolvedOrder    = errors.New("could not resolve order from event")
)

// ErrorCode returns the stable code for a checkout error
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrEmptyCart), errors.Is(err, ErrInvalidQuantity):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrVariantNotFound):
		return "VARIANT_NOT_FOUND"
	case errors.Is(err, ErrInsufficientStock):
		return "INSUFFICIENT_STOCK"
	case errors.Is(err, ErrGatewayUnavailable):
		return "GATEWAY_ERROR"
	case errors.Is(err, ErrOrderNotFound):
		return "ORDER_NOT_FOUND"
	case errors.Is(err, ErrEventNotSeen):
		return "EVENT_NOT_FOUND"
	}
	return "INTERNAL_ERROR"
}

// InsufficientStockError wraps ErrInsufficientStock with the offending variant
func InsufficientStockError(variantID int64) error {
	return fmt.Errorf("%w: variant %d", ErrInsufficientStock, variantID)
}
