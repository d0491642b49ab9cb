// internal/workers/reconcile/mandate-sync/service.go
package mandatesync

import (
	"context"
	"errors"
	"fmt"

	commonerrors "club-billing-engine/internal/common/errors"
	"club-billing-engine/internal/models"
	"club-billing-engine/internal/provider"
	"club-billing-engine/internal/reconcile"
	"club-billing-engine/internal/store"
)

// syncMandateStatuses polls the provider for every mandate that may still
// move and routes observed changes through the shared transition applier.
func (h *Handler) syncMandateStatuses(ctx context.Context, stats *models.RunStats) error {
	mandates, err := h.mandates.ListSyncable(ctx)
	if err != nil {
		return fmt.Errorf("select syncable mandates: %w", err)
	}

	h.logger.Info("mandate status sync started", map[string]interface{}{
		"mandates": len(mandates),
	})

	for _, mandate := range mandates {
		if err := h.syncMandate(ctx, mandate); err != nil {
			stats.AddFailure()
			h.logger.WithError(err).Error("mandate sync failed", map[string]interface{}{
				"mandateId": mandate.ID,
			})
			continue
		}
		stats.AddSuccess()
	}
	return nil
}

func (h *Handler) syncMandate(ctx context.Context, mandate *models.PaymentMandate) error {
	remote, err := h.provider.GetMandate(ctx, mandate.ProviderMandateID)
	if err != nil {
		return commonerrors.NewProviderError("get mandate", err, nil)
	}

	if _, err := h.applier.ApplyMandateTransition(ctx, mandate, remote.Status, reconcile.SourcePolling); err != nil {
		return commonerrors.NewPersistenceError("apply mandate transition", err)
	}
	if err := h.applier.SetMandateChargeDate(ctx, mandate, remote.NextPossibleChargeDate); err != nil {
		return commonerrors.NewPersistenceError("set next possible charge date", err)
	}
	return nil
}

// syncSubscriptions creates provider-side subscription plans for local
// subscriptions that are approved but not yet linked. Each item is processed
// independently; an unresolved record is naturally retried next run because
// it still lacks a provider subscription id.
func (h *Handler) syncSubscriptions(ctx context.Context, stats *models.RunStats) error {
	subs, err := h.subscriptions.ListUnsynced(ctx)
	if err != nil {
		return fmt.Errorf("select unsynced subscriptions: %w", err)
	}

	h.logger.Info("subscription sync started", map[string]interface{}{
		"subscriptions": len(subs),
	})

	for _, sub := range subs {
		if err := h.syncSubscription(ctx, sub); err != nil {
			if errors.Is(err, errNoActiveMandate) {
				continue
			}
			stats.AddFailure()
			h.logger.WithError(err).Error("subscription sync failed", map[string]interface{}{
				"subscriptionId": sub.ID,
			})
			continue
		}
		stats.AddSuccess()
	}
	return nil
}

var errNoActiveMandate = errors.New("no active mandate")

func (h *Handler) syncSubscription(ctx context.Context, sub *models.Subscription) error {
	mandate, err := h.mandates.GetActiveForParentClub(ctx, sub.ParentID, sub.ClubID)
	if errors.Is(err, store.ErrNotFound) {
		// Nothing to do until the payer approves a mandate.
		return errNoActiveMandate
	}
	if err != nil {
		return commonerrors.NewQueryExecutionFailedError("active mandate lookup", err)
	}

	if err := h.validateForSync(sub, mandate); err != nil {
		return err
	}

	result, err := h.provider.CreateSubscription(ctx, &provider.SubscriptionRequest{
		ProviderMandateID: mandate.ProviderMandateID,
		Amount:            sub.Amount,
		Currency:          h.currency(sub),
		IntervalUnit:      intervalUnit(sub.BillingFrequency),
		DayOfMonth:        models.ClampBillingDay(sub.BillingDayOfMonth),
		Name:              fmt.Sprintf("Membership subscription %d", sub.ID),
		Metadata: map[string]interface{}{
			"subscriptionId": sub.ID,
			"clubId":         sub.ClubID,
		},
	})
	if err != nil {
		return commonerrors.NewProviderError("create subscription", err, nil)
	}

	if err := h.subscriptions.SetProviderSubscription(ctx, sub.ID, result.ProviderSubscriptionID, result.Status); err != nil {
		return commonerrors.NewPersistenceError("persist provider subscription", err)
	}
	if sub.MandateID == nil {
		if err := h.subscriptions.LinkMandate(ctx, sub.ID, mandate.ID); err != nil {
			return commonerrors.NewPersistenceError("link mandate", err)
		}
	}
	if sub.Status == models.SubscriptionPending {
		if err := h.subscriptions.Activate(ctx, sub.ID); err != nil {
			return commonerrors.NewPersistenceError("activate subscription", err)
		}
	}

	if err := h.events.Record(ctx, &models.SubscriptionEvent{
		SubscriptionID: sub.ID,
		EventType:      models.EventSyncedToProvider,
		ActorType:      models.ActorSystem,
		Metadata: map[string]interface{}{
			"providerSubscriptionId": result.ProviderSubscriptionID,
			"providerStatus":         result.Status,
			"mandateId":              mandate.ID,
		},
	}); err != nil {
		h.logger.Error("failed to record synced_to_provider event", map[string]interface{}{
			"subscriptionId": sub.ID,
			"error":          err.Error(),
		})
	}

	h.logger.Info("subscription linked to provider", map[string]interface{}{
		"subscriptionId":         sub.ID,
		"providerSubscriptionId": result.ProviderSubscriptionID,
	})
	return nil
}

// validateForSync runs the pre-flight checks before the provider call.
func (h *Handler) validateForSync(sub *models.Subscription, mandate *models.PaymentMandate) error {
	if mandate.ProviderMandateID == "" {
		return commonerrors.NewValidationError(
			fmt.Sprintf("mandate %d has no provider mandate id", mandate.ID))
	}
	if h.config.ProviderName != "" && mandate.Provider != h.config.ProviderName {
		return commonerrors.NewValidationError(
			fmt.Sprintf("mandate %d belongs to provider %q, expected %q",
				mandate.ID, mandate.Provider, h.config.ProviderName))
	}
	if !sub.Amount.IsPositive() {
		return commonerrors.NewValidationError(
			fmt.Sprintf("subscription %d amount must be positive, got %s", sub.ID, sub.Amount))
	}
	return nil
}

func (h *Handler) currency(sub *models.Subscription) string {
	if sub.Currency != "" {
		return sub.Currency
	}
	return h.config.Currency
}

func intervalUnit(freq models.BillingFrequency) string {
	if freq == models.BillingAnnual {
		return "yearly"
	}
	return "monthly"
}
