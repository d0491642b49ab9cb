// Package reconcile applies provider-observed state to local records. Both
// the polling reconciler and webhook ingestion route through the same applier,
// so whichever path observes a change first wins and the other becomes a
// no-op.
package reconcile

import (
	"context"
	"time"

	"club-billing-engine/internal/common/logger"
	"club-billing-engine/internal/models"
	"club-billing-engine/internal/provider"
	"club-billing-engine/internal/store"
)

// Transition sources, recorded for audit.
const (
	SourcePolling = "polling"
	SourceWebhook = "webhook"
)

type Applier struct {
	mandates      *store.MandateRepo
	subscriptions *store.SubscriptionRepo
	payments      *store.PaymentRepo
	events        *store.EventRepo
	logger        logger.Logger
}

func NewApplier(st *store.Store, log logger.Logger) *Applier {
	return &Applier{
		mandates:      st.Mandates,
		subscriptions: st.Subscriptions,
		payments:      st.Payments,
		events:        st.Events,
		logger:        log,
	}
}

// ApplyMandateTransition moves a mandate to the status the provider reports.
// The write is a compare-and-set against the status the caller observed; an
// unknown provider status, an unchanged status or a terminal current status
// all leave the row untouched. On a transition to active, pending
// subscriptions under the same (parent, club) get the mandate linked so the
// subscription reconciler can create them provider-side on its next pass.
// Returns whether the transition was applied.
func (a *Applier) ApplyMandateTransition(ctx context.Context, mandate *models.PaymentMandate, providerStatus, source string) (bool, error) {
	next, ok := provider.TranslateMandateStatus(providerStatus)
	if !ok {
		a.logger.Warn("unknown provider mandate status, leaving mandate untouched", map[string]interface{}{
			"mandateId":      mandate.ID,
			"providerStatus": providerStatus,
			"source":         source,
		})
		return false, nil
	}
	if !provider.ShouldTransitionMandate(mandate.Status, next) {
		return false, nil
	}

	moved, err := a.mandates.TransitionStatus(ctx, mandate.ID, mandate.Status, next)
	if err != nil {
		return false, err
	}
	if !moved {
		// Lost the race to the other ingestion path.
		a.logger.Debug("mandate transition already applied elsewhere", map[string]interface{}{
			"mandateId": mandate.ID,
			"to":        string(next),
			"source":    source,
		})
		return false, nil
	}

	a.logger.Info("mandate status transitioned", map[string]interface{}{
		"mandateId": mandate.ID,
		"from":      string(mandate.Status),
		"to":        string(next),
		"source":    source,
	})

	if next == models.MandateActive {
		if err := a.linkPendingSubscriptions(ctx, mandate, source); err != nil {
			return true, err
		}
	}
	return true, nil
}

// SetMandateChargeDate stores the provider's earliest chargeable date when it
// differs from what is on record.
func (a *Applier) SetMandateChargeDate(ctx context.Context, mandate *models.PaymentMandate, date *time.Time) error {
	if equalDates(mandate.NextPossibleChargeDate, date) {
		return nil
	}
	return a.mandates.SetNextPossibleChargeDate(ctx, mandate.ID, date)
}

func equalDates(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// linkPendingSubscriptions attaches a newly active mandate to pending
// subscriptions of the same payer and club that have no mandate yet.
// Provider-side creation is deliberately left to the next reconciliation
// pass.
func (a *Applier) linkPendingSubscriptions(ctx context.Context, mandate *models.PaymentMandate, source string) error {
	subs, err := a.subscriptions.ListPendingForMandate(ctx, mandate.ParentID, mandate.ClubID)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if err := a.subscriptions.LinkMandate(ctx, sub.ID, mandate.ID); err != nil {
			a.logger.Error("failed to link mandate to pending subscription", map[string]interface{}{
				"subscriptionId": sub.ID,
				"mandateId":      mandate.ID,
				"error":          err.Error(),
			})
			continue
		}
		if err := a.events.Record(ctx, &models.SubscriptionEvent{
			SubscriptionID: sub.ID,
			EventType:      models.EventMandateLinked,
			ActorType:      models.ActorSystem,
			Reason:         "Mandate became active",
			Metadata: map[string]interface{}{
				"mandateId": mandate.ID,
				"source":    source,
			},
		}); err != nil {
			a.logger.Error("failed to record mandate_linked event", map[string]interface{}{
				"subscriptionId": sub.ID,
				"error":          err.Error(),
			})
		}
	}
	return nil
}

// ApplyPaymentTransition moves a payment row to the status the provider
// reports, under the same compare-and-set discipline as mandates. A settled
// payment never moves again.
func (a *Applier) ApplyPaymentTransition(ctx context.Context, payment *models.ProviderPayment, providerStatus, source string) (bool, error) {
	next, ok := provider.TranslatePaymentStatus(providerStatus)
	if !ok {
		a.logger.Warn("unknown provider payment status, leaving payment untouched", map[string]interface{}{
			"paymentId":      payment.ID,
			"providerStatus": providerStatus,
			"source":         source,
		})
		return false, nil
	}
	if !provider.ShouldTransitionPayment(payment.Status, next) {
		return false, nil
	}

	moved, err := a.payments.TransitionStatus(ctx, payment.ID, payment.Status, next)
	if err != nil {
		return false, err
	}
	if moved {
		a.logger.Info("payment status transitioned", map[string]interface{}{
			"paymentId": payment.ID,
			"from":      string(payment.Status),
			"to":        string(next),
			"source":    source,
		})
	}
	return moved, nil
}
