package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"club-billing-engine/internal/models"
)

// ExecutionRepo persists the worker-run ledger. Rows are only ever appended
// and closed, never deleted; a crash mid-run leaves a running row behind.
type ExecutionRepo struct {
	db *sql.DB
}

func NewExecutionRepo(db *sql.DB) *ExecutionRepo {
	return &ExecutionRepo{db: db}
}

// Start opens a running ledger row and returns its id.
func (r *ExecutionRepo) Start(ctx context.Context, workerName string, startedAt time.Time) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `INSERT INTO worker_executions
		(worker_name, status, started_at)
		VALUES ($1, 'running', $2)
		RETURNING id`, workerName, startedAt).Scan(&id)
	return id, err
}

// Complete closes the row with its counters and computed duration.
func (r *ExecutionRepo) Complete(ctx context.Context, id int64, completedAt time.Time, durationMillis int64, stats *models.RunStats) error {
	var metadata []byte
	if stats.Metadata != nil {
		var err error
		metadata, err = json.Marshal(stats.Metadata)
		if err != nil {
			return err
		}
	}

	_, err := r.db.ExecContext(ctx, `UPDATE worker_executions
		SET status = 'completed', completed_at = $2, duration_ms = $3,
		    items_processed = $4, items_succeeded = $5, items_failed = $6, metadata = $7
		WHERE id = $1`,
		id, completedAt, durationMillis,
		stats.ItemsProcessed, stats.ItemsSucceeded, stats.ItemsFailed, metadata)
	return err
}

// Fail closes the row with an error message.
func (r *ExecutionRepo) Fail(ctx context.Context, id int64, completedAt time.Time, message string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE worker_executions
		SET status = 'failed', completed_at = $2, error_message = $3
		WHERE id = $1`, id, completedAt, message)
	return err
}
