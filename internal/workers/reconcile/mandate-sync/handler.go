// Package mandatesync reconciles mandates and subscriptions with the
// provider in two phases: first it polls provider mandate statuses, then it
// creates provider-side subscriptions for locally approved ones that still
// lack a provider link.
package mandatesync

import (
	"context"
	"fmt"
	"time"

	"club-billing-engine/internal/common/logger"
	"club-billing-engine/internal/models"
	"club-billing-engine/internal/provider"
	"club-billing-engine/internal/reconcile"
	"club-billing-engine/internal/store"
)

const WorkerName = "mandate-sync"

type Handler struct {
	config        *Config
	subscriptions *store.SubscriptionRepo
	mandates      *store.MandateRepo
	events        *store.EventRepo
	provider      provider.PaymentProvider
	applier       *reconcile.Applier
	logger        logger.Logger
	now           func() time.Time
}

func NewHandler(config *Config, st *store.Store, prov provider.PaymentProvider, applier *reconcile.Applier, log logger.Logger) *Handler {
	return &Handler{
		config:        config,
		subscriptions: st.Subscriptions,
		mandates:      st.Mandates,
		events:        st.Events,
		provider:      prov,
		applier:       applier,
		logger:        log.WithFields(map[string]interface{}{"worker": WorkerName}),
		now:           time.Now,
	}
}

// SetNowFunc overrides the clock, for tests.
func (h *Handler) SetNowFunc(now func() time.Time) {
	h.now = now
}

// Run performs both reconciliation phases. A failure in the mandate phase
// does not stop the subscription phase; each phase's list query failing
// aborts only that phase.
func (h *Handler) Run(ctx context.Context) (*models.RunStats, error) {
	stats := &models.RunStats{}

	mandateErr := h.syncMandateStatuses(ctx, stats)
	if mandateErr != nil {
		h.logger.WithError(mandateErr).Error("mandate status sync aborted", nil)
	}
	subErr := h.syncSubscriptions(ctx, stats)
	if subErr != nil {
		h.logger.WithError(subErr).Error("subscription sync aborted", nil)
	}

	if mandateErr != nil || subErr != nil {
		return stats, fmt.Errorf("reconciliation incomplete: mandates=%v subscriptions=%v", mandateErr, subErr)
	}
	return stats, nil
}
