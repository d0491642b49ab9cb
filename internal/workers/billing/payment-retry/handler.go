// Package paymentretry re-attempts failed subscription charges on a day-based
// backoff schedule and suspends subscriptions that exhaust the retry budget.
package paymentretry

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

const WorkerName = "payment-retry"

// suspensionReason is recorded on the audit event when retries run out.
const suspensionReason = "Maximum payment retry attempts exceeded"

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

// Run retries every eligible failed payment once. Eligibility is purely
// day-based: a payment with retryCount prior attempts waits BackoffDays
// since its last failure before the next attempt.
func (h *Handler) Run(ctx context.Context) (*models.RunStats, error) {
	candidates, err := h.payments.GetPaymentsForRetry(ctx, h.config.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("select payments for retry: %w", err)
	}

	h.logger.Info("payment retry started", map[string]interface{}{
		"candidates": len(candidates),
	})

	stats := &models.RunStats{}
	for _, payment := range candidates {
		if !h.eligible(payment) {
			continue
		}
		if err := h.retryPayment(ctx, payment); err != nil {
			if errors.Is(err, errSkipped) {
				continue
			}
			stats.AddFailure()
			h.logger.WithError(err).Error("payment retry failed", map[string]interface{}{
				"paymentId": payment.ID,
			})
			continue
		}
		stats.AddSuccess()
	}
	return stats, nil
}

// eligible applies the backoff table against the last failure date.
func (h *Handler) eligible(payment *models.ProviderPayment) bool {
	if payment.LastFailedAt == nil {
		return true
	}
	required := h.config.BackoffDays(payment.RetryCount)
	elapsed := int(h.now().UTC().Sub(payment.LastFailedAt.UTC()).Hours() / 24)
	if elapsed < required {
		h.logger.Debug("payment not yet eligible for retry", map[string]interface{}{
			"paymentId":    payment.ID,
			"retryCount":   payment.RetryCount,
			"daysElapsed":  elapsed,
			"daysRequired": required,
		})
		return false
	}
	return true
}

var errSkipped = errors.New("skipped")
