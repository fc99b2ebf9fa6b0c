package service

import (
	"testing"

	"checkout-engine/internal/gateway"
	"checkout-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingOrder() *models.Order {
	return &models.Order{ID: 42, Status: models.OrderStatusPending}
}

func reservation(t string) []models.InventoryMovement {
	return []models.InventoryMovement{
		{ID: 1, OrderID: 42, VariantID: 7, Type: t, Quantity: 2},
	}
}

func TestPaymentConfirmedFromPending(t *testing.T) {
	plan, err := PlanTransition(TransitionInput{
		Order:         pendingOrder(),
		Event:         &gateway.Event{Kind: gateway.EventPaymentConfirmed, TxRef: "tx-1"},
		Uncompensated: reservation(models.MovementReserve),
	})
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusPaid, plan.NewStatus)
	assert.True(t, plan.RecordPayment)
	assert.Empty(t, plan.Compensations, "reservation already accounted, no ledger effect")
}

func TestPaymentConfirmedIsIdempotent(t *testing.T) {
	order := &models.Order{ID: 42, Status: models.OrderStatusPaid}

	plan, err := PlanTransition(TransitionInput{
		Order:      order,
		Event:      &gateway.Event{Kind: gateway.EventPaymentConfirmed, TxRef: "tx-1"},
		HasPayment: true,
	})
	require.NoError(t, err)

	assert.True(t, plan.IsNoop(), "re-delivered confirmation must not double-insert a payment")
}

func TestPaymentFailedRestoresStock(t *testing.T) {
	plan, err := PlanTransition(TransitionInput{
		Order:         pendingOrder(),
		Event:         &gateway.Event{Kind: gateway.EventPaymentFailed},
		Uncompensated: reservation(models.MovementReserve),
	})
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusFailed, plan.NewStatus)
	require.Len(t, plan.Compensations, 1)
	assert.Equal(t, models.MovementRelease, plan.Compensations[0].Type)
	assert.Equal(t, 2, plan.Compensations[0].Quantity)
	assert.Equal(t, int64(7), plan.Compensations[0].VariantID)
}

func TestPaymentFailedCompensatesDebitWithRefund(t *testing.T) {
	plan, err := PlanTransition(TransitionInput{
		Order:         pendingOrder(),
		Event:         &gateway.Event{Kind: gateway.EventPaymentFailed},
		Uncompensated: reservation(models.MovementDebit),
	})
	require.NoError(t, err)

	require.Len(t, plan.Compensations, 1)
	assert.Equal(t, models.MovementRefund, plan.Compensations[0].Type)
}

func TestPaymentFailedDeliveredTwice(t *testing.T) {
	// first delivery already transitioned the order and compensated the
	// ledger; the second finds nothing left to do
	order := &models.Order{ID: 42, Status: models.OrderStatusFailed}

	plan, err := PlanTransition(TransitionInput{
		Order:         order,
		Event:         &gateway.Event{Kind: gateway.EventPaymentFailed},
		Uncompensated: nil,
	})
	require.NoError(t, err)

	assert.True(t, plan.IsNoop())
}

func TestPaymentFailedRedeliveryRestoresLeftoverStock(t *testing.T) {
	// a crash between the status write and the restore leaves the order
	// failed with its reservation intact; the redelivered event (or a
	// manual replay) must still plan the restore
	order := &models.Order{ID: 42, Status: models.OrderStatusFailed}

	plan, err := PlanTransition(TransitionInput{
		Order:         order,
		Event:         &gateway.Event{Kind: gateway.EventPaymentFailed},
		Uncompensated: reservation(models.MovementReserve),
	})
	require.NoError(t, err)

	assert.Empty(t, plan.NewStatus, "status already applied")
	require.Len(t, plan.Compensations, 1)
	assert.Equal(t, models.MovementRelease, plan.Compensations[0].Type)
	assert.Equal(t, 2, plan.Compensations[0].Quantity)
}

func TestPaymentCanceledRedeliveryRestoresLeftoverStock(t *testing.T) {
	order := &models.Order{ID: 42, Status: models.OrderStatusCancelled}

	plan, err := PlanTransition(TransitionInput{
		Order:         order,
		Event:         &gateway.Event{Kind: gateway.EventPaymentCanceled},
		Uncompensated: reservation(models.MovementReserve),
	})
	require.NoError(t, err)

	assert.Empty(t, plan.NewStatus)
	require.Len(t, plan.Compensations, 1)
	assert.Equal(t, models.MovementRelease, plan.Compensations[0].Type)
}

func TestChargeRefundedRedeliveryRestoresLeftoverStock(t *testing.T) {
	order := &models.Order{ID: 42, Status: models.OrderStatusRefunded}

	plan, err := PlanTransition(TransitionInput{
		Order:         order,
		Event:         &gateway.Event{Kind: gateway.EventChargeRefunded},
		Uncompensated: reservation(models.MovementDebit),
	})
	require.NoError(t, err)

	assert.Empty(t, plan.NewStatus)
	assert.Empty(t, plan.PaymentStatusUpdate)
	require.Len(t, plan.Compensations, 1)
	assert.Equal(t, models.MovementRefund, plan.Compensations[0].Type)
}

func TestPaymentCanceled(t *testing.T) {
	plan, err := PlanTransition(TransitionInput{
		Order:         pendingOrder(),
		Event:         &gateway.Event{Kind: gateway.EventPaymentCanceled},
		Uncompensated: reservation(models.MovementReserve),
	})
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusCancelled, plan.NewStatus)
	assert.Len(t, plan.Compensations, 1)
}

func TestChargeRefundedFromPaid(t *testing.T) {
	order := &models.Order{ID: 42, Status: models.OrderStatusPaid}

	plan, err := PlanTransition(TransitionInput{
		Order:         order,
		Event:         &gateway.Event{Kind: gateway.EventChargeRefunded},
		Uncompensated: reservation(models.MovementDebit),
	})
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusRefunded, plan.NewStatus)
	assert.Equal(t, models.PaymentStatusRefunded, plan.PaymentStatusUpdate)
	assert.Len(t, plan.Compensations, 1)
}

func TestChargeRefundedSkipsAlreadyRestoredStock(t *testing.T) {
	// a prior failed/cancelled transition already restored the stock;
	// the refund must not restore it again
	order := &models.Order{ID: 42, Status: models.OrderStatusPaid}

	plan, err := PlanTransition(TransitionInput{
		Order:         order,
		Event:         &gateway.Event{Kind: gateway.EventChargeRefunded},
		Uncompensated: nil,
	})
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusRefunded, plan.NewStatus)
	assert.Empty(t, plan.Compensations)
}

func TestRefundDoesNotResurrectPendingOrder(t *testing.T) {
	plan, err := PlanTransition(TransitionInput{
		Order: pendingOrder(),
		Event: &gateway.Event{Kind: gateway.EventChargeRefunded},
	})
	require.NoError(t, err)

	assert.True(t, plan.IsNoop())
}

func TestDisputeLifecycle(t *testing.T) {
	order := &models.Order{ID: 42, Status: models.OrderStatusPaid}

	opened, err := PlanTransition(TransitionInput{
		Order: order,
		Event: &gateway.Event{Kind: gateway.EventDisputeOpened},
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusDisputed, opened.NewStatus)
	assert.Equal(t, models.PaymentStatusDisputed, opened.PaymentStatusUpdate)
	assert.Empty(t, opened.Compensations)

	order.Status = models.OrderStatusDisputed

	won, err := PlanTransition(TransitionInput{
		Order:      order,
		Event:      &gateway.Event{Kind: gateway.EventDisputeWon},
		HasPayment: true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, won.NewStatus)
	assert.False(t, won.RecordPayment, "dispute won must not insert a second payment")

	lost, err := PlanTransition(TransitionInput{
		Order: order,
		Event: &gateway.Event{Kind: gateway.EventDisputeLost},
	})
	require.NoError(t, err)
	assert.Empty(t, lost.NewStatus, "dispute lost leaves the status disputed")
	assert.True(t, lost.Annotate, "dispute outcome must be recorded on the order")
}

func TestRefundedOrderCanBeRedisputed(t *testing.T) {
	order := &models.Order{ID: 42, Status: models.OrderStatusRefunded}

	plan, err := PlanTransition(TransitionInput{
		Order: order,
		Event: &gateway.Event{Kind: gateway.EventDisputeOpened},
	})
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusDisputed, plan.NewStatus)
}

func TestTerminalStatusesResistRegression(t *testing.T) {
	for _, status := range []string{
		models.OrderStatusCancelled,
		models.OrderStatusFailed,
		models.OrderStatusDelivered,
	} {
		order := &models.Order{ID: 42, Status: status}

		plan, err := PlanTransition(TransitionInput{
			Order: order,
			Event: &gateway.Event{Kind: gateway.EventPaymentConfirmed, TxRef: "tx-1"},
		})
		require.NoError(t, err)
		assert.True(t, plan.IsNoop(), "status %s must not regress to paid", status)
	}
}

func TestUnknownEventKindIsIgnored(t *testing.T) {
	plan, err := PlanTransition(TransitionInput{
		Order: pendingOrder(),
		Event: &gateway.Event{Kind: gateway.EventUnknown, Type: "provider.new_feature"},
	})
	require.NoError(t, err)

	assert.True(t, plan.IsNoop())
}

func TestMarketplaceOrderEventIsNotATransition(t *testing.T) {
	_, err := PlanTransition(TransitionInput{
		Order: pendingOrder(),
		Event: &gateway.Event{Kind: gateway.EventMarketplaceOrder},
	})
	assert.Error(t, err)
}
