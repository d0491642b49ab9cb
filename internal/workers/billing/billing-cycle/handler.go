// Package billingcycle charges every active subscription whose billing date
// has arrived. The local payment row is written before the provider is
// called, so a crash mid-call still leaves a record the next run resubmits
// under the same idempotency key.
package billingcycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"club-billing-engine/internal/common/logger"
	"club-billing-engine/internal/models"
	"club-billing-engine/internal/notify"
	"club-billing-engine/internal/provider"
	"club-billing-engine/internal/store"
)

const WorkerName = "billing-cycle"

type Handler struct {
	config        *Config
	subscriptions *store.SubscriptionRepo
	payments      *store.PaymentRepo
	mandates      *store.MandateRepo
	events        *store.EventRepo
	provider      provider.PaymentProvider
	notifier      notify.Dispatcher
	logger        logger.Logger
	now           func() time.Time
}

func NewHandler(config *Config, st *store.Store, prov provider.PaymentProvider, notifier notify.Dispatcher, log logger.Logger) *Handler {
	return &Handler{
		config:        config,
		subscriptions: st.Subscriptions,
		payments:      st.Payments,
		mandates:      st.Mandates,
		events:        st.Events,
		provider:      prov,
		notifier:      notifier,
		logger:        log.WithFields(map[string]interface{}{"worker": WorkerName}),
		now:           time.Now,
	}
}

// SetNowFunc overrides the clock, for tests.
func (h *Handler) SetNowFunc(now func() time.Time) {
	h.now = now
}

// Run charges every due subscription once. Items are processed sequentially;
// a per-item failure is logged and never aborts the batch.
func (h *Handler) Run(ctx context.Context) (*models.RunStats, error) {
	today := h.now().UTC()
	due, err := h.subscriptions.GetDueSubscriptions(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("select due subscriptions: %w", err)
	}

	h.logger.Info("billing cycle started", map[string]interface{}{
		"dueSubscriptions": len(due),
	})

	stats := &models.RunStats{}
	for _, sub := range due {
		if err := h.processSubscription(ctx, sub); err != nil {
			if errors.Is(err, errSkipped) {
				continue
			}
			stats.AddFailure()
			h.logger.WithError(err).Error("subscription charge failed", map[string]interface{}{
				"subscriptionId": sub.ID,
			})
			continue
		}
		stats.AddSuccess()
	}
	return stats, nil
}

// errSkipped marks an item that needed no work this run (already charged for
// the period). Skips count toward neither success nor failure.
var errSkipped = errors.New("skipped")
