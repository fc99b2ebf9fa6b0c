package service

import (
	"context"
	"testing"

	"checkout-engine/internal/gateway"

	"github.com/stretchr/testify/assert"
)

func TestHandleUnknownProvider(t *testing.T) {
	rs := &ReconcilerService{gateways: gateway.NewRegistry()}

	err := rs.Handle(context.Background(), "paypal", []byte(`{}`))
	assert.ErrorIs(t, err, gateway.ErrUnknownProvider)
}

func TestHandleDuplicateEventIsAcknowledged(t *testing.T) {
	// a processed dedup row short-circuits before any state change
	t.Skip("Integration test - requires database")
}

func TestHandleConcurrentDeliveriesApplyOnce(t *testing.T) {
	// two simultaneous deliveries of the same event both miss the dedup
	// lookup; only the one whose insert wins the unique constraint may
	// apply the transition, the loser just acknowledges
	t.Skip("Integration test - requires database")
}

func TestHandleConfirmationPaysOrder(t *testing.T) {
	// PENDING + payment.confirmed: status PAID, payment row inserted,
	// reservations left in place
	t.Skip("Integration test - requires database")
}

func TestHandleFailureReleasesStock(t *testing.T) {
	// PENDING + payment.failed: status FAILED, RELEASE movements for
	// every open reservation, counters and cache restored
	t.Skip("Integration test - requires database and Redis")
}

func TestHandleUnresolvableOrderRecordsError(t *testing.T) {
	// the dedup row keeps the error message and the handler still
	// acknowledges so the provider stops retrying
	t.Skip("Integration test - requires database")
}

func TestImportMarketplaceOrder(t *testing.T) {
	// order.created creates a PAID order with DEBIT movements, mapping
	// SKUs through external_sku_map; unmapped SKUs flag needs_review
	t.Skip("Integration test - requires database and Redis")
}

func TestImportMarketplaceOversellSkipsDebit(t *testing.T) {
	// an item the counter cannot absorb produces no ledger row and no
	// cache mirror; the order commits flagged needs_review
	t.Skip("Integration test - requires database and Redis")
}

func TestReplayUnseenEvent(t *testing.T) {
	rs := &ReplayerService{gateways: gateway.NewRegistry()}

	_, err := rs.Replay(context.Background(), "paypal", "evt_1")
	assert.ErrorIs(t, err, gateway.ErrUnknownProvider)
}

func TestReplayFetchesProviderOfRecord(t *testing.T) {
	// replay re-fetches the event from the provider and runs it through
	// the same transition path as a live webhook
	t.Skip("Integration test - requires database and a gateway stub")
}
