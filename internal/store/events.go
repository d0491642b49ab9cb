package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"club-billing-engine/internal/models"
)

// EventRepo writes the append-only subscription audit trail. There are no
// update or delete methods on purpose.
type EventRepo struct {
	db *sql.DB
}

func NewEventRepo(db *sql.DB) *EventRepo {
	return &EventRepo{db: db}
}

func (r *EventRepo) Record(ctx context.Context, event *models.SubscriptionEvent) error {
	var metadata []byte
	if event.Metadata != nil {
		var err error
		metadata, err = json.Marshal(event.Metadata)
		if err != nil {
			return err
		}
	}

	_, err := r.db.ExecContext(ctx, `INSERT INTO subscription_events
		(subscription_id, event_type, actor_type, actor_id, reason, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		event.SubscriptionID, event.EventType, event.ActorType, event.ActorID,
		event.Reason, metadata)
	return err
}
