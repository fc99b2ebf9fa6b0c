package service

import (
	"fmt"

	"checkout-engine/internal/gateway"
	"checkout-engine/internal/models"
)

// TransitionInput is everything PlanTransition needs to decide the
// order's next state without touching storage
type TransitionInput struct {
	Order *models.Order
	Event *gateway.Event

	// HasPayment is true when a payment row already exists for the
	// event's transaction reference
	HasPayment bool

	// Uncompensated holds the order's original RESERVE/DEBIT movements
	// that have no compensating row yet
	Uncompensated []models.InventoryMovement
}

// TransitionPlan describes the storage effects of applying one event.
// Re-applying the same event yields an empty plan, which is what makes
// every transition idempotent.
type TransitionPlan struct {
	NewStatus string

	// RecordPayment inserts a payment row with the event's details
	RecordPayment bool

	// PaymentStatusUpdate moves the existing payment's status
	// (refund/dispute outcomes); empty means no update
	PaymentStatusUpdate string

	// Compensations are the RELEASE/REFUND rows to insert
	Compensations []models.InventoryMovement

	// Annotate records the event type on the order without changing
	// its status (dispute lost)
	Annotate bool
}

// IsNoop reports whether applying the plan would change nothing
func (p *TransitionPlan) IsNoop() bool {
	return p.NewStatus == "" && !p.RecordPayment && p.PaymentStatusUpdate == "" && len(p.Compensations) == 0 && !p.Annotate
}

// PlanTransition computes the state-machine transition for an event.
// This is the single code path exercised by both live webhooks and
// manual replay.
func PlanTransition(in TransitionInput) (*TransitionPlan, error) {
	order := in.Order
	plan := &TransitionPlan{}

	switch in.Event.Kind {
	case gateway.EventPaymentConfirmed:
		// only a pending order moves to paid; a paid/shipped/delivered
		// order re-receiving the confirmation is a no-op
		if order.Status == models.OrderStatusPending {
			plan.NewStatus = models.OrderStatusPaid
		}
		if !in.HasPayment && order.Status == models.OrderStatusPending {
			plan.RecordPayment = true
		}

	case gateway.EventPaymentFailed:
		switch order.Status {
		case models.OrderStatusPending:
			plan.NewStatus = models.OrderStatusFailed
			plan.Compensations = compensate(in.Uncompensated)
		case models.OrderStatusFailed:
			// the status write and the restore commit separately, so a
			// redelivery may find the order already failed with originals
			// still owing their compensation
			plan.Compensations = compensate(in.Uncompensated)
		}

	case gateway.EventPaymentCanceled:
		switch order.Status {
		case models.OrderStatusPending:
			plan.NewStatus = models.OrderStatusCancelled
			plan.Compensations = compensate(in.Uncompensated)
		case models.OrderStatusCancelled:
			plan.Compensations = compensate(in.Uncompensated)
		}

	case gateway.EventChargeRefunded:
		switch order.Status {
		case models.OrderStatusPaid, models.OrderStatusShipped, models.OrderStatusDelivered, models.OrderStatusDisputed:
			plan.NewStatus = models.OrderStatusRefunded
			plan.PaymentStatusUpdate = models.PaymentStatusRefunded
			// ledger check: restore only what a prior failed/cancelled
			// transition has not already restored
			plan.Compensations = compensate(in.Uncompensated)
		case models.OrderStatusRefunded:
			plan.Compensations = compensate(in.Uncompensated)
		}

	case gateway.EventDisputeOpened:
		switch order.Status {
		case models.OrderStatusPaid, models.OrderStatusShipped, models.OrderStatusDelivered, models.OrderStatusRefunded:
			plan.NewStatus = models.OrderStatusDisputed
			plan.PaymentStatusUpdate = models.PaymentStatusDisputed
		}

	case gateway.EventDisputeWon:
		if order.Status == models.OrderStatusDisputed {
			plan.NewStatus = models.OrderStatusPaid
			plan.PaymentStatusUpdate = models.PaymentStatusConfirmed
		}

	case gateway.EventDisputeLost:
		// status stays disputed; the event type annotation on the
		// order records the outcome
		if order.Status == models.OrderStatusDisputed {
			plan.Annotate = true
		}

	case gateway.EventUnknown:
		// safely ignored

	case gateway.EventMarketplaceOrder:
		return nil, fmt.Errorf("marketplace order events are imported, not transitioned")

	default:
		return nil, fmt.Errorf("unhandled event kind: %v", in.Event.Kind)
	}

	return plan, nil
}

// compensate builds one compensating movement per uncompensated
// original: RELEASE for RESERVE, REFUND for DEBIT
func compensate(originals []models.InventoryMovement) []models.InventoryMovement {
	if len(originals) == 0 {
		return nil
	}
	out := make([]models.InventoryMovement, 0, len(originals))
	for _, m := range originals {
		out = append(out, models.InventoryMovement{
			VariantID: m.VariantID,
			OrderID:   m.OrderID,
			Type:      models.CompensationFor(m.Type),
			Quantity:  m.Quantity,
		})
	}
	return out
}
