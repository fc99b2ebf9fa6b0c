package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"checkout-engine/config"
	"checkout-engine/internal/store"
	"checkout-engine/internal/util"

	"go.uber.org/zap"
)

// StockSyncService reconciles the variant stock counters against an
// external ERP. External calls are chunked and a failed chunk never
// aborts the whole run.
type StockSyncService struct {
	store     *store.Store
	stock     *StockService
	baseURL   string
	apiKey    string
	batchSize int
	client    *http.Client
	logger    *zap.Logger
}

// NewStockSyncService creates a new stock sync service
func NewStockSyncService(store *store.Store, stock *StockService, cfg config.ERPConfig) *StockSyncService {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 50
	}
	return &StockSyncService{
		store:     store,
		stock:     stock,
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		batchSize: batch,
		client:    &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
		logger:    util.GetLogger(),
	}
}

// SyncResult summarizes one sync run
type SyncResult struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}

type erpStockRequest struct {
	VariantIDs []int64 `json:"variant_ids"`
}

type erpStockResponse struct {
	Levels []struct {
		VariantID int64 `json:"variant_id"`
		OnHand    int   `json:"on_hand"`
	} `json:"levels"`
}

// Sync pulls on-hand quantities from the ERP in batches and overwrites
// the local counters and cache
func (sy *StockSyncService) Sync(ctx context.Context) (*SyncResult, error) {
	if sy.baseURL == "" {
		return nil, fmt.Errorf("ERP sync is not configured")
	}

	counters, err := sy.store.ListVariantStock(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}

	ids := make([]int64, 0, len(counters))
	for _, vs := range counters {
		ids = append(ids, vs.VariantID)
	}

	result := &SyncResult{}
	for start := 0; start < len(ids); start += sy.batchSize {
		end := start + sy.batchSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		levels, err := sy.fetchChunk(ctx, chunk)
		if err != nil {
			sy.logger.Error("ERP chunk fetch failed",
				zap.Int("chunk_start", start),
				zap.Int("chunk_size", len(chunk)),
				zap.Error(err))
			result.Failed += len(chunk)
			util.StockSyncVariantsTotal.WithLabelValues("failed").Add(float64(len(chunk)))
			continue
		}

		for variantID, onHand := range levels {
			if err := sy.store.SetVariantStock(ctx, variantID, onHand); err != nil {
				sy.logger.Error("Failed to write synced counter",
					zap.Int64("variant_id", variantID),
					zap.Error(err))
				result.Failed++
				util.StockSyncVariantsTotal.WithLabelValues("failed").Inc()
				continue
			}
			if err := sy.stock.redis.SetStock(ctx, variantID, onHand); err != nil {
				sy.logger.Warn("Failed to refresh stock cache",
					zap.Int64("variant_id", variantID),
					zap.Error(err))
			}
			result.Synced++
			util.StockSyncVariantsTotal.WithLabelValues("ok").Inc()
		}
	}

	sy.logger.Info("Stock sync finished",
		zap.Int("synced", result.Synced),
		zap.Int("failed", result.Failed))
	return result, nil
}

func (sy *StockSyncService) fetchChunk(ctx context.Context, ids []int64) (map[int64]int, error) {
	data, err := json.Marshal(erpStockRequest{VariantIDs: ids})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sy.baseURL+"/v1/stock/levels", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+sy.apiKey)

	resp, err := sy.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ERP returned %d: %s", resp.StatusCode, b)
	}

	var erpResp erpStockResponse
	if err := json.NewDecoder(resp.Body).Decode(&erpResp); err != nil {
		return nil, err
	}

	levels := make(map[int64]int, len(erpResp.Levels))
	for _, l := range erpResp.Levels {
		levels[l.VariantID] = l.OnHand
	}
	return levels, nil
}
