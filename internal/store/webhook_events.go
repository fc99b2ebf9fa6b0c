package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"checkout-engine/internal/models"
)

// GetWebhookEvent retrieves a dedup row by (provider, external event id)
func (s *Store) GetWebhookEvent(ctx context.Context, provider, externalEventID string) (*models.GatewayWebhookEvent, error) {
	var ev models.GatewayWebhookEvent
	err := s.db.GetContext(ctx, &ev,
		"SELECT * FROM gateway_webhook_events WHERE provider = $1 AND external_event_id = $2",
		provider, externalEventID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// InsertWebhookEvent records first receipt of an event with a null
// processed_at. The unique constraint makes concurrent receipts of the
// same event collapse into one row; the return value reports whether
// this call won the row and therefore owns processing it.
func (s *Store) InsertWebhookEvent(ctx context.Context, provider, externalEventID, eventType string, payload json.RawMessage) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO gateway_webhook_events (provider, external_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, external_event_id) DO NOTHING`,
		provider, externalEventID, eventType, payload)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// MarkWebhookEventProcessed stamps processed_at and clears any previous
// error (replay recovery path)
func (s *Store) MarkWebhookEventProcessed(ctx context.Context, provider, externalEventID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE gateway_webhook_events
		SET processed_at = NOW(), error_message = NULL
		WHERE provider = $1 AND external_event_id = $2`,
		provider, externalEventID)
	return err
}

// MarkWebhookEventFailed records a processing failure on the dedup row
// so it stays visible to operators and replayable
func (s *Store) MarkWebhookEventFailed(ctx context.Context, provider, externalEventID, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE gateway_webhook_events
		SET error_message = $3
		WHERE provider = $1 AND external_event_id = $2`,
		provider, externalEventID, errMsg)
	return err
}

// ListFailedWebhookEvents returns unprocessed events carrying an error,
// newest first (operator visibility for replay)
func (s *Store) ListFailedWebhookEvents(ctx context.Context, limit int) ([]models.GatewayWebhookEvent, error) {
	var events []models.GatewayWebhookEvent
	err := s.db.SelectContext(ctx, &events, `
		SELECT * FROM gateway_webhook_events
		WHERE processed_at IS NULL AND error_message IS NOT NULL
		ORDER BY created_at DESC LIMIT $1`,
		limit)
	return events, err
}
