// Package tracker brackets every scheduled worker run in the append-only
// execution ledger: start -> (complete | fail).
package tracker

import (
	"context"
	"time"

	"club-billing-engine/internal/common/logger"
	"club-billing-engine/internal/models"
	"club-billing-engine/internal/store"
)

type Tracker struct {
	executions *store.ExecutionRepo
	logger     logger.Logger
	now        func() time.Time
}

func New(executions *store.ExecutionRepo, log logger.Logger) *Tracker {
	return &Tracker{
		executions: executions,
		logger:     log,
		now:        time.Now,
	}
}

// SetNowFunc overrides the clock, for tests.
func (t *Tracker) SetNowFunc(now func() time.Time) {
	t.now = now
}

// StartExecution opens a running ledger row and returns its id together with
// the start time used for the duration computation.
func (t *Tracker) StartExecution(ctx context.Context, workerName string) (int64, time.Time, error) {
	startedAt := t.now().UTC()
	id, err := t.executions.Start(ctx, workerName, startedAt)
	if err != nil {
		return 0, startedAt, err
	}
	t.logger.Debug("execution started", map[string]interface{}{
		"executionId": id,
		"worker":      workerName,
	})
	return id, startedAt, nil
}

// CompleteExecution closes the run with its stats and computed duration.
func (t *Tracker) CompleteExecution(ctx context.Context, id int64, startedAt time.Time, stats *models.RunStats) error {
	completedAt := t.now().UTC()
	return t.executions.Complete(ctx, id, completedAt, completedAt.Sub(startedAt).Milliseconds(), stats)
}

// FailExecution closes the run with an error message.
func (t *Tracker) FailExecution(ctx context.Context, id int64, message string) error {
	return t.executions.Fail(ctx, id, t.now().UTC(), message)
}
