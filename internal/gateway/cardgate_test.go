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

func newTestCardGate(baseURL string) *CardGate {
	return NewCardGate(config.GatewayConfig{
		BaseURL:    baseURL,
		APIKey:     "sk_test_123",
		StockMode:  "reserve",
		TimeoutSec: 5,
	})
}

func TestCardGateParsePaymentConfirmed(t *testing.T) {
	payload := []byte(`{
		"id": "evt_001",
		"type": "checkout.session.completed",
		"data": {"object": {
			"session": "cs_123",
			"charge": "ch_456",
			"amount": 9000,
			"payment_method": "card",
			"installments": 3,
			"metadata": {"order_id": "42"}
		}}
	}`)

	ev, err := newTestCardGate("").ParseEvent(payload)
	require.NoError(t, err)

	assert.Equal(t, "cardgate", ev.Provider)
	assert.Equal(t, "evt_001", ev.ExternalID)
	assert.Equal(t, EventPaymentConfirmed, ev.Kind)
	assert.Equal(t, int64(42), ev.OrderID)
	assert.Equal(t, "cs_123", ev.TxRef)
	assert.Equal(t, "ch_456", ev.ChargeRef)
	assert.Equal(t, int64(9000), ev.Amount)
	assert.Equal(t, 3, ev.Installments)
}

func TestCardGateParseWithoutMetadata(t *testing.T) {
	// refund events do not echo back session metadata
	payload := []byte(`{
		"id": "evt_002",
		"type": "charge.refunded",
		"data": {"object": {"charge": "ch_456", "amount": 9000}}
	}`)

	ev, err := newTestCardGate("").ParseEvent(payload)
	require.NoError(t, err)

	assert.Equal(t, EventChargeRefunded, ev.Kind)
	assert.Zero(t, ev.OrderID)
	assert.Equal(t, "ch_456", ev.ChargeRef)
}

func TestCardGateParseDisputeOutcomes(t *testing.T) {
	won := []byte(`{"id":"evt_003","type":"charge.dispute.closed","data":{"object":{"status":"won"}}}`)
	lost := []byte(`{"id":"evt_004","type":"charge.dispute.closed","data":{"object":{"status":"lost"}}}`)

	g := newTestCardGate("")

	evWon, err := g.ParseEvent(won)
	require.NoError(t, err)
	assert.Equal(t, EventDisputeWon, evWon.Kind)

	evLost, err := g.ParseEvent(lost)
	require.NoError(t, err)
	assert.Equal(t, EventDisputeLost, evLost.Kind)
}

func TestCardGateParseUnknownType(t *testing.T) {
	payload := []byte(`{"id":"evt_005","type":"payout.created","data":{"object":{}}}`)

	ev, err := newTestCardGate("").ParseEvent(payload)
	require.NoError(t, err)

	assert.Equal(t, EventUnknown, ev.Kind)
	assert.Equal(t, "payout.created", ev.Type)
}

func TestCardGateParseMalformed(t *testing.T) {
	g := newTestCardGate("")

	_, err := g.ParseEvent([]byte("not json"))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = g.ParseEvent([]byte(`{"data":{}}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestCardGateCreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))

		var req cardgateSessionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(9000), req.Amount)
		assert.Equal(t, "42", req.Metadata["order_id"])
		require.Len(t, req.LineItems, 1)

		json.NewEncoder(w).Encode(cardgateSessionResponse{
			ID:  "cs_123",
			URL: "https://pay.cardgate.example/cs_123",
		})
	}))
	defer srv.Close()

	order := &models.Order{ID: 42, TotalAmount: 9000}
	items := []models.OrderLineItem{
		{ProductName: "Shirt", Quantity: 1, UnitPrice: 9000},
	}

	session, err := newTestCardGate(srv.URL).CreateSession(context.Background(), order, items)
	require.NoError(t, err)

	assert.Equal(t, "cs_123", session.TxRef)
	assert.Equal(t, "https://pay.cardgate.example/cs_123", session.RedirectURL)
}

func TestCardGateCreateSessionServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestCardGate(srv.URL).CreateSession(context.Background(),
		&models.Order{ID: 1, TotalAmount: 100}, nil)
	assert.Error(t, err)
}

func TestCardGateFetchEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/events/evt_001", r.URL.Path)
		w.Write([]byte(`{
			"id": "evt_001",
			"type": "payment.failed",
			"data": {"object": {"session": "cs_123", "reason": "card_declined"}}
		}`))
	}))
	defer srv.Close()

	ev, err := newTestCardGate(srv.URL).FetchEvent(context.Background(), "evt_001")
	require.NoError(t, err)

	assert.Equal(t, EventPaymentFailed, ev.Kind)
	assert.Equal(t, "card_declined", ev.Reason)
}

func TestCardGateFetchEventNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newTestCardGate(srv.URL).FetchEvent(context.Background(), "evt_missing")
	assert.Error(t, err)
}
