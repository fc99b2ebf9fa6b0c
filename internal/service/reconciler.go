package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"checkout-engine/internal/broker"
	"checkout-engine/internal/gateway"
	"checkout-engine/internal/models"
	"checkout-engine/internal/store"
	"checkout-engine/internal/util"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// ReconcilerService applies asynchronous, possibly duplicated, possibly
// out-of-order provider notifications to the order aggregate and the
// inventory ledger.
type ReconcilerService struct {
	store          *store.Store
	stock          *StockService
	gateways       *gateway.Registry
	eventPublisher *broker.EventPublisher
	logger         *zap.Logger
}

// NewReconcilerService creates a new reconciler
func NewReconcilerService(
	store *store.Store,
	stock *StockService,
	gateways *gateway.Registry,
	eventPublisher *broker.EventPublisher,
) *ReconcilerService {
	return &ReconcilerService{
		store:          store,
		stock:          stock,
		gateways:       gateways,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
	}
}

// Handle processes one raw webhook delivery. It returns an error only
// for input the adapter cannot parse at all (or an unknown provider);
// every other failure is recorded on the dedup row and acknowledged so
// the provider stops retrying.
func (rs *ReconcilerService) Handle(ctx context.Context, provider string, payload []byte) error {
	ctx, span := util.StartSpan(ctx, "ReconcilerService.Handle")
	defer span.End()

	adapter, err := rs.gateways.Get(provider)
	if err != nil {
		return err
	}

	ev, err := adapter.ParseEvent(payload)
	if err != nil {
		return err
	}

	util.WebhookEventsTotal.WithLabelValues(provider, ev.Type).Inc()

	existing, err := rs.store.GetWebhookEvent(ctx, provider, ev.ExternalID)
	if err != nil {
		rs.logger.Error("Dedup lookup failed",
			zap.String("provider", provider),
			zap.String("event_id", ev.ExternalID),
			zap.Error(err))
		return nil
	}
	if existing != nil && existing.ProcessedAt.Valid {
		util.WebhookDuplicatesTotal.WithLabelValues(provider).Inc()
		rs.logger.Info("Event already processed",
			zap.String("provider", provider),
			zap.String("event_id", ev.ExternalID))
		return nil
	}

	// the row must exist before processing so a partial failure is
	// recorded, not lost
	if existing == nil {
		inserted, err := rs.store.InsertWebhookEvent(ctx, provider, ev.ExternalID, ev.Type, ev.Raw)
		if err != nil {
			rs.logger.Error("Failed to record webhook event",
				zap.String("provider", provider),
				zap.String("event_id", ev.ExternalID),
				zap.Error(err))
			return nil
		}
		// losing the insert race means a concurrent delivery owns this
		// event; acknowledge without applying it a second time
		if !inserted {
			util.WebhookDuplicatesTotal.WithLabelValues(provider).Inc()
			rs.logger.Info("Concurrent delivery already owns event",
				zap.String("provider", provider),
				zap.String("event_id", ev.ExternalID))
			return nil
		}
	}

	if err := rs.Apply(ctx, ev); err != nil {
		util.WebhookFailuresTotal.WithLabelValues(provider).Inc()
		rs.logger.Error("Webhook processing failed",
			zap.String("provider", provider),
			zap.String("event_id", ev.ExternalID),
			zap.String("type", ev.Type),
			zap.Error(err))
		if markErr := rs.store.MarkWebhookEventFailed(ctx, provider, ev.ExternalID, err.Error()); markErr != nil {
			rs.logger.Error("Failed to record webhook error", zap.Error(markErr))
		}
		return nil
	}

	if err := rs.store.MarkWebhookEventProcessed(ctx, provider, ev.ExternalID); err != nil {
		rs.logger.Error("Failed to mark webhook processed", zap.Error(err))
	}
	return nil
}

// Apply runs the state-machine transition for a normalized event. It is
// the single transition path shared by live webhooks and manual replay.
func (rs *ReconcilerService) Apply(ctx context.Context, ev *gateway.Event) error {
	if ev.Kind == gateway.EventUnknown {
		rs.logger.Info("Ignoring unknown event type",
			zap.String("provider", ev.Provider),
			zap.String("type", ev.Type))
		return nil
	}

	if ev.Kind == gateway.EventMarketplaceOrder {
		return rs.importMarketplaceOrder(ctx, ev)
	}

	order, err := rs.resolveOrder(ctx, ev)
	if err != nil {
		return err
	}

	movements, err := rs.store.GetUncompensatedMovements(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("failed to load uncompensated movements: %w", err)
	}

	hasPayment := false
	if ev.TxRef != "" {
		payment, err := rs.store.GetPaymentByTxRef(ctx, ev.Provider, ev.TxRef)
		if err != nil {
			return fmt.Errorf("failed to look up payment: %w", err)
		}
		hasPayment = payment != nil
	}

	plan, err := PlanTransition(TransitionInput{
		Order:         order,
		Event:         ev,
		HasPayment:    hasPayment,
		Uncompensated: movements,
	})
	if err != nil {
		return err
	}

	if plan.IsNoop() {
		msg := "Event produced no transition"
		if models.IsTerminalStatus(order.Status) {
			msg = "Event for settled order ignored"
		}
		rs.logger.Info(msg,
			zap.Int64("order_id", order.ID),
			zap.String("status", order.Status),
			zap.String("type", ev.Type))
		return nil
	}

	if err := rs.applyPlan(ctx, order, ev, plan); err != nil {
		return err
	}

	for _, c := range plan.Compensations {
		rs.stock.MirrorRestore(ctx, c.VariantID, c.Quantity)
		util.StockRestoredTotal.Add(float64(c.Quantity))
		rs.publishStockRestored(ctx, order, &c)
	}

	rs.publishTransition(ctx, order, ev, plan)

	rs.logger.Info("Order transition applied",
		zap.Int64("order_id", order.ID),
		zap.String("from", order.Status),
		zap.String("to", plan.NewStatus),
		zap.String("event_type", ev.Type),
		zap.Int("compensations", len(plan.Compensations)))
	return nil
}

// applyPlan writes the plan's effects in one transaction. Stock-restore
// failure inside the transaction aborts it, but the terminal status
// write is retried without compensations because money-state
// correctness outranks stock-count correctness.
func (rs *ReconcilerService) applyPlan(ctx context.Context, order *models.Order, ev *gateway.Event, plan *TransitionPlan) error {
	run := func(withCompensations bool) error {
		return rs.store.WithTx(ctx, func(tx *sqlx.Tx) error {
			if plan.NewStatus != "" {
				if err := rs.store.UpdateOrderStatusTx(ctx, tx, order.ID, plan.NewStatus, ev.Type); err != nil {
					return fmt.Errorf("failed to update order status: %w", err)
				}
			} else {
				if err := rs.store.UpdateOrderStatusTx(ctx, tx, order.ID, order.Status, ev.Type); err != nil {
					return fmt.Errorf("failed to annotate order: %w", err)
				}
			}

			if ev.TxRef != "" || ev.ChargeRef != "" {
				if err := rs.store.UpdateOrderGatewayRefsTx(ctx, tx, order.ID, ev.TxRef, ev.ChargeRef); err != nil {
					return fmt.Errorf("failed to store gateway refs: %w", err)
				}
			}

			if plan.RecordPayment {
				payment := &models.Payment{
					OrderID:      order.ID,
					Provider:     ev.Provider,
					Status:       models.PaymentStatusConfirmed,
					Method:       ev.Method,
					GatewayTxRef: ev.TxRef,
					Amount:       ev.Amount,
					Installments: ev.Installments,
					RawPayload:   ev.Raw,
				}
				if err := rs.store.CreatePaymentTx(ctx, tx, payment); err != nil {
					return fmt.Errorf("failed to record payment: %w", err)
				}
			}

			if plan.PaymentStatusUpdate != "" {
				if err := rs.store.UpdatePaymentStatusTx(ctx, tx, order.ID, plan.PaymentStatusUpdate); err != nil {
					return fmt.Errorf("failed to update payment status: %w", err)
				}
			}

			if withCompensations {
				for i := range plan.Compensations {
					if err := rs.store.InsertMovementTx(ctx, tx, &plan.Compensations[i]); err != nil {
						return fmt.Errorf("failed to insert compensation: %w", err)
					}
				}
			}
			return nil
		})
	}

	err := run(true)
	if err != nil && len(plan.Compensations) > 0 {
		rs.logger.Error("Transition with stock restore failed, retrying status-only",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
		if retryErr := run(false); retryErr != nil {
			return retryErr
		}
		// the discrepancy stays visible through the dedup row's error
		return fmt.Errorf("stock restore failed for order %d (status applied): %w", order.ID, err)
	}
	return err
}

// resolveOrder finds the event's target order: metadata order id first,
// then the stored transaction/charge references
func (rs *ReconcilerService) resolveOrder(ctx context.Context, ev *gateway.Event) (*models.Order, error) {
	if ev.OrderID != 0 {
		order, err := rs.store.GetOrderByID(ctx, ev.OrderID)
		if err == nil {
			return order, nil
		}
		rs.logger.Warn("Metadata order id did not resolve, trying refs",
			zap.Int64("order_id", ev.OrderID),
			zap.Error(err))
	}

	for _, ref := range []string{ev.TxRef, ev.ChargeRef} {
		if ref == "" {
			continue
		}
		order, err := rs.store.GetOrderByGatewayRef(ctx, ev.Provider, ref)
		if err != nil {
			return nil, err
		}
		if order != nil {
			return order, nil
		}
	}

	return nil, fmt.Errorf("%w: provider=%s event=%s", ErrUnresolvedOrder, ev.Provider, ev.ExternalID)
}

// importMarketplaceOrder handles the marketplace provider's
// order-creation event: the provider ran the whole checkout itself, so
// the order, line items, ledger movements and payment are created here.
// Items whose SKU has no internal mapping still produce a line item but
// flag the order for manual reconciliation.
func (rs *ReconcilerService) importMarketplaceOrder(ctx context.Context, ev *gateway.Event) error {
	if ev.Order == nil {
		return fmt.Errorf("marketplace order event %s carries no order data", ev.ExternalID)
	}

	// a marketplace order re-delivered after a partial failure must not
	// create a second order
	if ev.TxRef != "" {
		existing, err := rs.store.GetOrderByGatewayRef(ctx, ev.Provider, ev.TxRef)
		if err != nil {
			return err
		}
		if existing != nil {
			rs.logger.Info("Marketplace order already imported",
				zap.Int64("order_id", existing.ID),
				zap.String("event_id", ev.ExternalID))
			return nil
		}
	}

	ext := ev.Order
	var subtotal int64
	needsReview := false

	type resolvedItem struct {
		variantID int64
		variant   *models.Variant
		item      gateway.ExternalItem
	}
	resolved := make([]resolvedItem, 0, len(ext.Items))
	for _, item := range ext.Items {
		variantID, err := rs.store.LookupExternalSKU(ctx, ev.Provider, item.SKU)
		if err != nil {
			return fmt.Errorf("SKU lookup failed for %q: %w", item.SKU, err)
		}
		ri := resolvedItem{variantID: variantID, item: item}
		if variantID != 0 {
			v, err := rs.store.GetVariantByID(ctx, variantID)
			if err != nil {
				return fmt.Errorf("mapped variant %d missing: %w", variantID, err)
			}
			ri.variant = v
		} else {
			needsReview = true
			rs.logger.Warn("Marketplace item has no SKU mapping",
				zap.String("sku", item.SKU),
				zap.String("event_id", ev.ExternalID))
		}
		resolved = append(resolved, ri)
		subtotal += item.UnitPrice * int64(item.Quantity)
	}

	order := &models.Order{
		Status:          models.OrderStatusPaid,
		Subtotal:        subtotal,
		ShippingCost:    ext.ShippingCost,
		DiscountAmount:  ext.DiscountAmount,
		TotalAmount:     subtotal - ext.DiscountAmount + ext.ShippingCost,
		Gateway:         ev.Provider,
		GatewayTxRef:    sql.NullString{String: ev.TxRef, Valid: ev.TxRef != ""},
		LastEventType:   sql.NullString{String: ev.Type, Valid: true},
		CustomerName:    ext.CustomerName,
		CustomerEmail:   ext.CustomerEmail,
		ShippingAddress: ext.ShippingAddress,
		ShippingCity:    ext.ShippingCity,
		ShippingZip:     ext.ShippingZip,
		GuestToken:      uuid.New().String(),
		IdempotencyKey:  fmt.Sprintf("%s:%s", ev.Provider, ev.ExternalID),
		NeedsReview:     needsReview,
	}

	// debits the counter actually absorbed, mirrored to the cache after
	// commit
	applied := make([]models.InventoryMovement, 0, len(resolved))

	err := rs.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		applied = applied[:0]
		if err := rs.store.CreateOrderTx(ctx, tx, order); err != nil {
			return fmt.Errorf("failed to create marketplace order: %w", err)
		}

		for _, ri := range resolved {
			lineItem := &models.OrderLineItem{
				OrderID:     order.ID,
				VariantID:   ri.variantID,
				ProductName: ri.item.Title,
				Quantity:    ri.item.Quantity,
				UnitPrice:   ri.item.UnitPrice,
				LineTotal:   ri.item.UnitPrice * int64(ri.item.Quantity),
			}
			if ri.variant != nil {
				lineItem.ProductID = ri.variant.ProductID
				lineItem.ProductName = ri.variant.ProductName
				lineItem.VariantName = ri.variant.Name
				lineItem.ImageURL = ri.variant.ImageURL
			}
			if err := rs.store.CreateLineItemTx(ctx, tx, lineItem); err != nil {
				return fmt.Errorf("failed to create line item: %w", err)
			}

			// the marketplace already sold the unit, so the ledger
			// records an immediate debit; unmatched items have no
			// variant to debit
			if ri.variantID != 0 {
				movement := &models.InventoryMovement{
					VariantID: ri.variantID,
					OrderID:   order.ID,
					Type:      models.MovementDebit,
					Quantity:  ri.item.Quantity,
				}
				if err := rs.store.InsertMovementTx(ctx, tx, movement); err != nil {
					if !errors.Is(err, store.ErrStockExhausted) {
						return err
					}
					// marketplace oversold against our counter; the
					// ledger stays untouched for this item and the
					// discrepancy goes to manual reconciliation
					rs.logger.Warn("Marketplace debit exceeds counter, flagging order",
						zap.Int64("variant_id", ri.variantID),
						zap.Int64("order_id", order.ID))
					needsReview = true
					continue
				}
				applied = append(applied, *movement)
			}
		}

		if needsReview && !order.NeedsReview {
			if _, err := tx.ExecContext(ctx,
				"UPDATE orders SET needs_review = TRUE WHERE id = $1", order.ID); err != nil {
				return fmt.Errorf("failed to flag order for review: %w", err)
			}
			order.NeedsReview = true
		}

		payment := &models.Payment{
			OrderID:      order.ID,
			Provider:     ev.Provider,
			Status:       models.PaymentStatusConfirmed,
			Method:       ev.Method,
			GatewayTxRef: ev.TxRef,
			Amount:       order.TotalAmount,
			Installments: ev.Installments,
			RawPayload:   ev.Raw,
		}
		return rs.store.CreatePaymentTx(ctx, tx, payment)
	})
	if err != nil {
		return err
	}

	for _, m := range applied {
		rs.stock.MirrorDebit(ctx, m.VariantID, m.Quantity)
	}

	rs.publishOrderPaid(ctx, order, ev)

	rs.logger.Info("Marketplace order imported",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Bool("needs_review", needsReview))
	return nil
}

// MapExternalSKU stores a provider SKU mapping so future marketplace
// imports resolve the variant instead of flagging the order
func (rs *ReconcilerService) MapExternalSKU(ctx context.Context, provider, sku string, variantID int64) error {
	if _, err := rs.gateways.Get(provider); err != nil {
		return err
	}
	if _, err := rs.store.GetVariantByID(ctx, variantID); err != nil {
		return fmt.Errorf("%w: %d", ErrVariantNotFound, variantID)
	}
	return rs.store.UpsertExternalSKU(ctx, &models.ExternalSKU{
		Provider:    provider,
		ExternalSKU: sku,
		VariantID:   variantID,
	})
}

// publishTransition emits the fire-and-forget domain event for a
// transition; failures never affect the committed transition
func (rs *ReconcilerService) publishTransition(ctx context.Context, order *models.Order, ev *gateway.Event, plan *TransitionPlan) {
	switch plan.NewStatus {
	case models.OrderStatusPaid:
		rs.publishOrderPaid(ctx, order, ev)
	case models.OrderStatusFailed, models.OrderStatusCancelled:
		event := &models.OrderFailedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeOrderFailed,
				Timestamp: time.Now(),
			},
			OrderID:  order.ID,
			Status:   plan.NewStatus,
			Provider: ev.Provider,
			Reason:   ev.Reason,
		}
		if err := rs.eventPublisher.PublishOrderFailed(ctx, event); err != nil {
			rs.logger.Error("Failed to publish OrderFailed event", zap.Error(err))
		}
	case models.OrderStatusDisputed:
		event := &models.OrderDisputedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeOrderDisputed,
				Timestamp: time.Now(),
			},
			OrderID:  order.ID,
			Provider: ev.Provider,
			Reason:   ev.Reason,
		}
		if err := rs.eventPublisher.PublishOrderDisputed(ctx, event); err != nil {
			rs.logger.Error("Failed to publish OrderDisputed event", zap.Error(err))
		}
	case models.OrderStatusRefunded:
		event := &models.OrderRefundedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeOrderRefunded,
				Timestamp: time.Now(),
			},
			OrderID:  order.ID,
			Provider: ev.Provider,
			Amount:   ev.Amount,
		}
		if err := rs.eventPublisher.PublishOrderRefunded(ctx, event); err != nil {
			rs.logger.Error("Failed to publish OrderRefunded event", zap.Error(err))
		}
	}
}

func (rs *ReconcilerService) publishStockRestored(ctx context.Context, order *models.Order, c *models.InventoryMovement) {
	event := &models.StockRestoredEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeStockRestored,
			Timestamp: time.Now(),
		},
		OrderID:   order.ID,
		VariantID: c.VariantID,
		Quantity:  c.Quantity,
	}
	if err := rs.eventPublisher.PublishStockRestored(ctx, event); err != nil {
		rs.logger.Error("Failed to publish StockRestored event", zap.Error(err))
	}
}

func (rs *ReconcilerService) publishOrderPaid(ctx context.Context, order *models.Order, ev *gateway.Event) {
	event := &models.OrderPaidEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPaid,
			Timestamp: time.Now(),
		},
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CustomerEmail: order.CustomerEmail,
		CouponCode:    order.CouponCode.String,
		Amount:        order.TotalAmount,
		Provider:      ev.Provider,
		TxRef:         ev.TxRef,
	}
	if err := rs.eventPublisher.PublishOrderPaid(ctx, event); err != nil {
		rs.logger.Error("Failed to publish OrderPaid event", zap.Error(err))
	}
}
