package worker

import (
	"context"
	"log"

	"checkout-engine/internal/broker"
	"checkout-engine/internal/models"
	"checkout-engine/internal/store"
	"checkout-engine/internal/util"

	"go.uber.org/zap"
)

// BookkeepingWorker consumes order events and performs best-effort
// side effects: coupon redemption counts and customer purchase stats.
// These run outside the payment transaction boundary; a failure here
// never affects the payment-confirmed transition.
type BookkeepingWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	store        *store.Store
	logger       *zap.Logger
}

// NewBookkeepingWorker creates a new bookkeeping worker
func NewBookkeepingWorker(consumer *broker.Consumer, st *store.Store) *BookkeepingWorker {
	w := &BookkeepingWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		store:        st,
		logger:       util.GetLogger(),
	}

	w.eventHandler.OnOrderPaid(w.handleOrderPaid)
	w.eventHandler.OnOrderFailed(w.handleOrderFailed)

	return w
}

func (w *BookkeepingWorker) handleOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error {
	if event.CouponCode != "" {
		if err := w.store.IncrementCouponRedemptions(ctx, event.CouponCode); err != nil {
			w.logger.Error("Failed to bump coupon redemptions",
				zap.String("coupon", event.CouponCode),
				zap.Int64("order_id", event.OrderID),
				zap.Error(err))
		}
	}

	if event.CustomerEmail != "" {
		if err := w.store.UpsertCustomerStats(ctx, event.CustomerEmail, event.Amount); err != nil {
			w.logger.Error("Failed to update customer stats",
				zap.Int64("order_id", event.OrderID),
				zap.Error(err))
		}
	}

	// best effort: the message is committed regardless
	return nil
}

// handleOrderFailed emits the structured failure record operators
// alert on; no storage side effects
func (w *BookkeepingWorker) handleOrderFailed(ctx context.Context, event *models.OrderFailedEvent) error {
	w.logger.Warn("Order failed",
		zap.Int64("order_id", event.OrderID),
		zap.String("status", event.Status),
		zap.String("provider", event.Provider),
		zap.String("reason", event.Reason))
	return nil
}

// Start starts the worker
func (w *BookkeepingWorker) Start(ctx context.Context) error {
	log.Println("Starting bookkeeping worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *BookkeepingWorker) Stop() error {
	log.Println("Stopping bookkeeping worker...")
	return w.consumer.Close()
}
