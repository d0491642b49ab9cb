// Package invoiceschedule generates seasonal invoices for clubs from their
// due scheduled jobs. A job that fails a business precondition is marked
// failed with a descriptive reason and is not auto-retried.
package invoiceschedule

import (
	"context"
	"fmt"
	"time"

	"club-billing-engine/internal/common/logger"
	"club-billing-engine/internal/models"
	"club-billing-engine/internal/notify"
	"club-billing-engine/internal/store"
)

const WorkerName = "invoice-schedule"

type Handler struct {
	config   *Config
	invoices *store.InvoiceRepo
	notifier notify.Dispatcher
	logger   logger.Logger
	now      func() time.Time
}

func NewHandler(config *Config, st *store.Store, notifier notify.Dispatcher, log logger.Logger) *Handler {
	return &Handler{
		config:   config,
		invoices: st.Invoices,
		notifier: notifier,
		logger:   log.WithFields(map[string]interface{}{"worker": WorkerName}),
		now:      time.Now,
	}
}

// SetNowFunc overrides the clock, for tests.
func (h *Handler) SetNowFunc(now func() time.Time) {
	h.now = now
}

// Run processes every due invoice job once. A job marked failed for a
// business reason counts as processed; only internal errors count as
// failures.
func (h *Handler) Run(ctx context.Context) (*models.RunStats, error) {
	jobs, err := h.invoices.GetPendingJobs(ctx, h.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("select pending invoice jobs: %w", err)
	}

	h.logger.Info("invoice schedule started", map[string]interface{}{
		"dueJobs": len(jobs),
	})

	stats := &models.RunStats{}
	for _, job := range jobs {
		if err := h.processJob(ctx, job); err != nil {
			stats.AddFailure()
			h.logger.WithError(err).Error("invoice job failed", map[string]interface{}{
				"jobId":  job.ID,
				"clubId": job.ClubID,
			})
			continue
		}
		stats.AddSuccess()
	}
	return stats, nil
}
