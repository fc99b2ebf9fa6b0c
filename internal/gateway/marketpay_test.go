package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"checkout-engine/config"
	"checkout-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMarketPay(baseURL string) *MarketPay {
	return NewMarketPay(config.GatewayConfig{
		BaseURL:    baseURL,
		APIKey:     "mk_test_456",
		StockMode:  "debit",
		TimeoutSec: 5,
	})
}

func TestMarketPayParsePaymentApproved(t *testing.T) {
	payload := []byte(`{
		"event_id": "mp_001",
		"topic": "payment.approved",
		"resource": {
			"payment_id": "pay_789",
			"external_reference": "42",
			"amount": 15000,
			"payment_method": "pix",
			"installments": 1
		}
	}`)

	ev, err := newTestMarketPay("").ParseEvent(payload)
	require.NoError(t, err)

	assert.Equal(t, "marketpay", ev.Provider)
	assert.Equal(t, EventPaymentConfirmed, ev.Kind)
	assert.Equal(t, int64(42), ev.OrderID)
	assert.Equal(t, "pay_789", ev.TxRef)
	assert.Equal(t, int64(15000), ev.Amount)
}

func TestMarketPayParseDisputeResolved(t *testing.T) {
	g := newTestMarketPay("")

	evWon, err := g.ParseEvent([]byte(`{"event_id":"mp_002","topic":"dispute.resolved","resource":{"payment_id":"pay_789","resolution":"seller_won"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventDisputeWon, evWon.Kind)
	assert.Zero(t, evWon.OrderID, "dispute topics carry no external reference")

	evLost, err := g.ParseEvent([]byte(`{"event_id":"mp_003","topic":"dispute.resolved","resource":{"payment_id":"pay_789","resolution":"buyer_won"}}`))
	require.NoError(t, err)
	assert.Equal(t, EventDisputeLost, evLost.Kind)
}

func TestMarketPayParseOrderCreated(t *testing.T) {
	payload := []byte(`{
		"event_id": "mp_004",
		"topic": "order.created",
		"resource": {
			"payment_id": "pay_900",
			"amount": 21000,
			"payment_method": "card",
			"order": {
				"reference": "MKT-555",
				"buyer": {"name": "Ana Souza", "email": "ana@example.com"},
				"shipping": {"address": "Rua A 10", "city": "Recife", "zip": "50000-000", "cost": 1000},
				"discount": 0,
				"items": [
					{"sku": "EXT-SHIRT-M", "title": "Shirt M", "quantity": 2, "unit_price": 10000}
				]
			}
		}
	}`)

	ev, err := newTestMarketPay("").ParseEvent(payload)
	require.NoError(t, err)

	assert.Equal(t, EventMarketplaceOrder, ev.Kind)
	require.NotNil(t, ev.Order)
	assert.Equal(t, "MKT-555", ev.Order.ExternalRef)
	assert.Equal(t, "ana@example.com", ev.Order.CustomerEmail)
	assert.Equal(t, int64(1000), ev.Order.ShippingCost)
	require.Len(t, ev.Order.Items, 1)
	assert.Equal(t, "EXT-SHIRT-M", ev.Order.Items[0].SKU)
	assert.Equal(t, 2, ev.Order.Items[0].Quantity)
}

func TestMarketPayParseUnknownTopic(t *testing.T) {
	ev, err := newTestMarketPay("").ParseEvent([]byte(`{"event_id":"mp_005","topic":"shipment.delivered_to_carrier","resource":{}}`))
	require.NoError(t, err)

	assert.Equal(t, EventUnknown, ev.Kind)
}

func TestMarketPayParseMalformed(t *testing.T) {
	_, err := newTestMarketPay("").ParseEvent([]byte(`{"resource":{}}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestMarketPayCreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_links", r.URL.Path)
		assert.Equal(t, "mk_test_456", r.Header.Get("X-Api-Key"))

		var req marketpayLinkRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "42", req.ExternalRef)

		json.NewEncoder(w).Encode(marketpayLinkResponse{
			PaymentID: "pay_789",
			InitPoint: "https://pay.marketpay.example/pay_789",
		})
	}))
	defer srv.Close()

	order := &models.Order{ID: 42, OrderNumber: "ORD-000042", TotalAmount: 15000}

	session, err := newTestMarketPay(srv.URL).CreateSession(context.Background(), order, []models.OrderLineItem{
		{ProductName: "Shirt", VariantName: "M", Quantity: 1, UnitPrice: 15000},
	})
	require.NoError(t, err)

	assert.Equal(t, "pay_789", session.TxRef)
	assert.Equal(t, "https://pay.marketpay.example/pay_789", session.RedirectURL)
}

func TestMarketPayFetchEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/events/mp_001", r.URL.Path)
		w.Write([]byte(`{"event_id":"mp_001","topic":"payment.cancelled","resource":{"payment_id":"pay_789"}}`))
	}))
	defer srv.Close()

	ev, err := newTestMarketPay(srv.URL).FetchEvent(context.Background(), "mp_001")
	require.NoError(t, err)

	assert.Equal(t, EventPaymentCanceled, ev.Kind)
}

func TestRegistryLookup(t *testing.T) {
	registry := NewRegistry(newTestCardGate(""), newTestMarketPay(""))

	a, err := registry.Get("cardgate")
	require.NoError(t, err)
	assert.Equal(t, models.StockModeReserve, a.StockMode())

	b, err := registry.Get("marketpay")
	require.NoError(t, err)
	assert.Equal(t, models.StockModeDebit, b.StockMode())

	_, err = registry.Get("paypal")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}
