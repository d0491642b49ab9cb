package store

import (
	"context"
	"database/sql"
	"time"
)

// WebhookRepo is the append-only log of provider events, keyed by
// (provider, event_id) so duplicate deliveries insert nothing.
type WebhookRepo struct {
	db *sql.DB
}

func NewWebhookRepo(db *sql.DB) *WebhookRepo {
	return &WebhookRepo{db: db}
}

// Insert records an incoming event. Returns false when the (provider,
// event_id) pair was already logged.
func (r *WebhookRepo) Insert(ctx context.Context, provider, eventID, resourceType, resourceID, action string, payload []byte, signatureValid bool, receivedAt time.Time) (int64, bool, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `INSERT INTO webhook_events
		(provider, event_id, resource_type, resource_id, action, payload, signature_valid, processed, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8)
		ON CONFLICT (provider, event_id) DO NOTHING
		RETURNING id`,
		provider, eventID, resourceType, resourceID, action, payload, signatureValid, receivedAt).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// MarkProcessed flags an event after its transition has been applied.
func (r *WebhookRepo) MarkProcessed(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE webhook_events SET processed = true WHERE id = $1`, id)
	return err
}
