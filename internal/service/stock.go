package service

import (
	"context"
	"errors"
	"fmt"

	"checkout-engine/internal/redisclient"
	"checkout-engine/internal/store"
	"checkout-engine/internal/util"

	"go.uber.org/zap"
)

// StockService is the stock projector: it answers availability checks
// from the Redis counter cache with the database counter as fallback,
// and keeps the cache in step with ledger writes.
type StockService struct {
	store  *store.Store
	redis  *redisclient.Client
	logger *zap.Logger
}

// NewStockService creates a new stock service
func NewStockService(store *store.Store, redis *redisclient.Client) *StockService {
	return &StockService{
		store:  store,
		redis:  redis,
		logger: util.GetLogger(),
	}
}

// Available returns the current availability for a variant, preferring
// the cached counter
func (ss *StockService) Available(ctx context.Context, variantID int64) (int, error) {
	available, err := ss.redis.GetStock(ctx, variantID)
	if err == nil {
		return available, nil
	}
	if !errors.Is(err, redisclient.ErrStockUnknown) {
		ss.logger.Warn("Redis stock read failed, falling back to DB",
			zap.Int64("variant_id", variantID),
			zap.Error(err))
	}

	vs, err := ss.store.GetVariantStock(ctx, variantID)
	if err != nil {
		return 0, err
	}

	if err := ss.redis.SetStock(ctx, variantID, vs.Available); err != nil {
		ss.logger.Warn("Failed to seed stock cache",
			zap.Int64("variant_id", variantID),
			zap.Error(err))
	}
	return vs.Available, nil
}

// CheckAvailability verifies qty is available for a variant. This
// check and the ledger insert are not atomic together; the guarded
// counter update inside the checkout transaction is the authoritative
// backstop, and the remaining window is compensated, not locked away.
func (ss *StockService) CheckAvailability(ctx context.Context, variantID int64, qty int) error {
	ctx, span := util.StartSpan(ctx, "StockService.CheckAvailability")
	defer span.End()

	available, err := ss.Available(ctx, variantID)
	if err != nil {
		return fmt.Errorf("availability check failed for variant %d: %w", variantID, err)
	}
	if available < qty {
		util.StockCheckFailedTotal.WithLabelValues("insufficient").Inc()
		return InsufficientStockError(variantID)
	}
	return nil
}

// MirrorDebit applies a committed ledger decrement to the cache. The
// Lua script refuses to drive the counter negative; a stale cache is
// reseeded on the next Available miss.
func (ss *StockService) MirrorDebit(ctx context.Context, variantID int64, qty int) {
	if _, err := ss.redis.ReserveStock(ctx, variantID, qty); err != nil && !errors.Is(err, redisclient.ErrStockUnknown) {
		ss.logger.Warn("Failed to mirror debit to cache",
			zap.Int64("variant_id", variantID),
			zap.Error(err))
	}
}

// MirrorRestore applies a committed compensation to the cache
func (ss *StockService) MirrorRestore(ctx context.Context, variantID int64, qty int) {
	if err := ss.redis.RestoreStock(ctx, variantID, qty); err != nil {
		ss.logger.Warn("Failed to mirror restore to cache",
			zap.Int64("variant_id", variantID),
			zap.Error(err))
	}
}

// SyncStockToRedis seeds the cache from the database counters at boot
func (ss *StockService) SyncStockToRedis(ctx context.Context) error {
	ss.logger.Info("Starting stock sync to Redis")

	counters, err := ss.store.ListVariantStock(ctx)
	if err != nil {
		return fmt.Errorf("failed to list stock counters: %w", err)
	}

	for _, vs := range counters {
		if err := ss.redis.SetStock(ctx, vs.VariantID, vs.Available); err != nil {
			ss.logger.Error("Failed to seed stock cache",
				zap.Int64("variant_id", vs.VariantID),
				zap.Error(err))
		}
	}

	ss.logger.Info("Stock sync completed", zap.Int("count", len(counters)))
	return nil
}
