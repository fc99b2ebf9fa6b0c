package service

import (
	"context"
	"testing"

	"checkout-engine/config"
	"checkout-engine/internal/gateway"
	"checkout-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func validationCheckout() *CheckoutService {
	cardgate := gateway.NewCardGate(config.GatewayConfig{StockMode: "reserve", TimeoutSec: 1})
	return &CheckoutService{
		gateways: gateway.NewRegistry(cardgate),
		cfg:      config.CheckoutConfig{DefaultProvider: "cardgate"},
		logger:   zap.NewNop(),
	}
}

func TestCreateCheckoutRejectsEmptyCart(t *testing.T) {
	cs := validationCheckout()

	_, err := cs.CreateCheckout(context.Background(), &CreateCheckoutRequest{})
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Equal(t, "VALIDATION_ERROR", ErrorCode(err))
}

func TestCreateCheckoutRejectsNonPositiveQuantity(t *testing.T) {
	cs := validationCheckout()

	for _, qty := range []int{0, -3} {
		_, err := cs.CreateCheckout(context.Background(), &CreateCheckoutRequest{
			Items: []CheckoutItemRequest{{VariantID: 7, Quantity: qty}},
		})
		assert.ErrorIs(t, err, ErrInvalidQuantity)
	}
}

func TestCreateCheckoutRejectsUnknownProvider(t *testing.T) {
	cs := validationCheckout()

	_, err := cs.CreateCheckout(context.Background(), &CreateCheckoutRequest{
		Items:    []CheckoutItemRequest{{VariantID: 7, Quantity: 1}},
		Provider: "paypal",
	})
	assert.ErrorIs(t, err, gateway.ErrUnknownProvider)
}

func TestCreateCheckoutIdempotency(t *testing.T) {
	// two concurrent checkouts with the same idempotency key must
	// produce exactly one order; the unique constraint on
	// orders.idempotency_key backs the lookup short-circuit
	t.Skip("Integration test - requires database")
}

func TestCreateCheckoutDuplicateReturnsRedirect(t *testing.T) {
	// a retried checkout whose order is still pending must get a
	// redirect target back, not just the order id
	t.Skip("Integration test - requires database and Redis")
}

func TestResumeCheckoutFallsBackWhenGatewayGone(t *testing.T) {
	cs := validationCheckout()
	cs.cfg.FallbackEnabled = true
	cs.cfg.FallbackBaseURL = "https://shop.example/pay"

	order := &models.Order{
		ID:          7,
		OrderNumber: "ORD-000007",
		Status:      models.OrderStatusPending,
		Gateway:     "paypal",
		GuestToken:  "gt-7",
	}

	url := cs.resumeCheckout(context.Background(), order)
	assert.Equal(t, "https://shop.example/pay/ORD-000007?token=gt-7", url)
}

func TestResumeCheckoutWithoutFallbackReturnsEmpty(t *testing.T) {
	cs := validationCheckout()

	order := &models.Order{
		ID:         7,
		Status:     models.OrderStatusPending,
		Gateway:    "paypal",
		GuestToken: "gt-7",
	}

	assert.Empty(t, cs.resumeCheckout(context.Background(), order))
}

func TestCreateCheckoutInsufficientStock(t *testing.T) {
	t.Skip("Integration test - requires database and Redis")
}
