package service

import (
	"context"
	"fmt"

	"checkout-engine/internal/gateway"
	"checkout-engine/internal/models"
	"checkout-engine/internal/store"
	"checkout-engine/internal/util"

	"go.uber.org/zap"
)

// ReplayerService re-runs the reconciliation of a previously received
// event for manual recovery of failed deliveries. The event is
// re-fetched from the provider of record, never replayed from the
// stored payload.
type ReplayerService struct {
	store      *store.Store
	gateways   *gateway.Registry
	reconciler *ReconcilerService
	logger     *zap.Logger
}

// NewReplayerService creates a new replayer
func NewReplayerService(store *store.Store, gateways *gateway.Registry, reconciler *ReconcilerService) *ReplayerService {
	return &ReplayerService{
		store:      store,
		gateways:   gateways,
		reconciler: reconciler,
		logger:     util.GetLogger(),
	}
}

// ListFailed returns unprocessed events with a recorded error, for the
// operator deciding what to replay
func (rp *ReplayerService) ListFailed(ctx context.Context, limit int) ([]models.GatewayWebhookEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return rp.store.ListFailedWebhookEvents(ctx, limit)
}

// Replay re-fetches the named event and re-runs the reconciler's
// transition path. A never-seen event cannot be replayed.
func (rp *ReplayerService) Replay(ctx context.Context, provider, externalEventID string) (string, error) {
	ctx, span := util.StartSpan(ctx, "ReplayerService.Replay")
	defer span.End()

	adapter, err := rp.gateways.Get(provider)
	if err != nil {
		return "", err
	}

	row, err := rp.store.GetWebhookEvent(ctx, provider, externalEventID)
	if err != nil {
		return "", fmt.Errorf("failed to look up event: %w", err)
	}
	if row == nil {
		return "", fmt.Errorf("%w: %s/%s", ErrEventNotSeen, provider, externalEventID)
	}

	ev, err := adapter.FetchEvent(ctx, externalEventID)
	if err != nil {
		util.EventsReplayedTotal.WithLabelValues(provider, "fetch_failed").Inc()
		return "", fmt.Errorf("failed to re-fetch event from provider: %w", err)
	}

	if err := rp.reconciler.Apply(ctx, ev); err != nil {
		util.EventsReplayedTotal.WithLabelValues(provider, "failed").Inc()
		if markErr := rp.store.MarkWebhookEventFailed(ctx, provider, externalEventID, err.Error()); markErr != nil {
			rp.logger.Error("Failed to record replay error", zap.Error(markErr))
		}
		return "", err
	}

	// success clears any error recorded by earlier attempts
	if err := rp.store.MarkWebhookEventProcessed(ctx, provider, externalEventID); err != nil {
		rp.logger.Error("Failed to mark replayed event processed", zap.Error(err))
	}

	util.EventsReplayedTotal.WithLabelValues(provider, "ok").Inc()
	rp.logger.Info("Event replayed",
		zap.String("provider", provider),
		zap.String("event_id", externalEventID),
		zap.String("type", ev.Type))
	return ev.Type, nil
}
