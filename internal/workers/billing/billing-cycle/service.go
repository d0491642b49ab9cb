// internal/workers/billing/billing-cycle/service.go
package billingcycle

import (
	"context"
	"errors"
	"fmt"

	commonerrors "club-billing-engine/internal/common/errors"
	"club-billing-engine/internal/common/metrics"
	"club-billing-engine/internal/models"
	"club-billing-engine/internal/notify"
	"club-billing-engine/internal/provider"
	"club-billing-engine/internal/store"
)

// processSubscription charges one subscription for its next billing period.
func (h *Handler) processSubscription(ctx context.Context, sub *models.Subscription) error {
	mandate, err := h.validateSubscription(ctx, sub)
	if err != nil {
		return err
	}

	periodStart, periodEnd, nextBilling := models.AdvancePeriod(
		*sub.CurrentPeriodEnd, sub.BillingFrequency, sub.BillingDayOfMonth)

	existing, err := h.payments.GetForPeriod(ctx, sub.ID, periodStart)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return commonerrors.NewQueryExecutionFailedError("payment period lookup", err)
	}

	var paymentID int64
	switch {
	case existing == nil:
		// Local record first. If the process dies between here and the
		// provider call, the pending row is resolved below on the next run.
		paymentID, err = h.payments.CreatePending(ctx, sub.ID, mandate.Provider,
			sub.Amount, h.currency(sub), periodStart, periodEnd)
		if errors.Is(err, store.ErrDuplicate) {
			return commonerrors.NewDuplicateChargeError(sub.ID, periodEnd.Format("2006-01-02"))
		}
		if err != nil {
			return commonerrors.NewPersistenceError("create pending payment", err)
		}
	case existing.Status == models.PaymentPendingSubmission && existing.ProviderPaymentID == "":
		// A previous run died between the local insert and the provider's
		// answer. Resubmit under the same period-derived idempotency key; the
		// provider deduplicates, so at most one charge exists either way.
		paymentID = existing.ID
		h.logger.Warn("resolving stale pending payment", map[string]interface{}{
			"subscriptionId": sub.ID,
			"paymentId":      existing.ID,
			"periodStart":    periodStart.Format("2006-01-02"),
		})
	default:
		h.logger.Info("period already charged, skipping", map[string]interface{}{
			"subscriptionId": sub.ID,
			"periodStart":    periodStart.Format("2006-01-02"),
		})
		return errSkipped
	}

	result, err := h.provider.CreatePayment(ctx, &provider.ChargeRequest{
		ProviderMandateID: mandate.ProviderMandateID,
		Amount:            sub.Amount,
		Currency:          h.currency(sub),
		Description:       fmt.Sprintf("Membership fees %s", periodStart.Format("January 2006")),
		IdempotencyKey:    fmt.Sprintf("sub-%d-%s", sub.ID, periodStart.Format("2006-01-02")),
		Metadata: map[string]interface{}{
			"subscriptionId": sub.ID,
			"paymentId":      paymentID,
		},
	})
	if err != nil {
		// Transport failure: the provider may or may not have accepted the
		// charge. The pending row stays and the next run resubmits it under
		// the same idempotency key; the subscription failure counter only
		// moves on a confirmed decline.
		metrics.ChargesSubmitted.WithLabelValues("error").Inc()
		return commonerrors.NewProviderError("create payment", err, nil)
	}

	if !result.Succeeded() {
		metrics.ChargesSubmitted.WithLabelValues("failed").Inc()
		return h.recordFailure(ctx, sub, paymentID, result.Failure)
	}

	metrics.ChargesSubmitted.WithLabelValues("succeeded").Inc()
	return h.recordSuccess(ctx, sub, &chargeOutcome{
		PaymentID:         paymentID,
		ProviderPaymentID: result.ProviderPaymentID,
		Status:            translateOrSubmitted(result.Status),
		PeriodStart:       periodStart,
		PeriodEnd:         periodEnd,
		NextBillingDate:   nextBilling,
	})
}

func (h *Handler) recordSuccess(ctx context.Context, sub *models.Subscription, outcome *chargeOutcome) error {
	if err := h.payments.MarkSubmitted(ctx, outcome.PaymentID, outcome.ProviderPaymentID, outcome.Status); err != nil {
		return commonerrors.NewPersistenceError("mark payment submitted", err)
	}
	if err := h.subscriptions.RecordChargeSuccess(ctx, sub.ID,
		outcome.PeriodStart, outcome.PeriodEnd, outcome.NextBillingDate); err != nil {
		return commonerrors.NewPersistenceError("advance billing period", err)
	}

	h.recordEvent(ctx, sub.ID, models.EventPaymentSucceeded, "", map[string]interface{}{
		"providerPaymentId": outcome.ProviderPaymentID,
		"amount":            sub.Amount.String(),
		"periodStart":       outcome.PeriodStart.Format("2006-01-02"),
	})

	h.sendEmail(ctx, sub, "Payment received",
		fmt.Sprintf("We have collected %s %s for the membership period starting %s.",
			sub.Amount.StringFixed(2), h.currency(sub), outcome.PeriodStart.Format("2 January 2006")))

	h.logger.Info("subscription charged", map[string]interface{}{
		"subscriptionId":    sub.ID,
		"providerPaymentId": outcome.ProviderPaymentID,
		"nextBillingDate":   outcome.NextBillingDate.Format("2006-01-02"),
	})
	return nil
}

func (h *Handler) recordFailure(ctx context.Context, sub *models.Subscription, paymentID int64, failure *provider.ChargeFailure) error {
	failedAt := h.now().UTC()
	if err := h.payments.MarkFailed(ctx, paymentID, failure.Code, failure.Details, failedAt); err != nil {
		return commonerrors.NewPersistenceError("mark payment failed", err)
	}
	if err := h.subscriptions.RecordChargeFailure(ctx, sub.ID, failedAt); err != nil {
		return commonerrors.NewPersistenceError("record charge failure", err)
	}

	h.recordEvent(ctx, sub.ID, models.EventPaymentFailed, failure.Details, failure.AsMap())

	h.sendEmail(ctx, sub, "Payment failed",
		"We could not collect your membership payment. We will retry automatically over the next few days.")

	return commonerrors.NewProviderError("create payment",
		fmt.Errorf("charge declined: %s", failure.Code), failure.AsMap())
}

func (h *Handler) recordEvent(ctx context.Context, subscriptionID int64, eventType, reason string, metadata map[string]interface{}) {
	if err := h.events.Record(ctx, &models.SubscriptionEvent{
		SubscriptionID: subscriptionID,
		EventType:      eventType,
		ActorType:      models.ActorSystem,
		Reason:         reason,
		Metadata:       metadata,
	}); err != nil {
		h.logger.Error("failed to record subscription event", map[string]interface{}{
			"subscriptionId": subscriptionID,
			"eventType":      eventType,
			"error":          err.Error(),
		})
	}
}

// sendEmail is fire-and-forget: a notification failure never changes a
// billing outcome.
func (h *Handler) sendEmail(ctx context.Context, sub *models.Subscription, subject, text string) {
	_, email, err := h.subscriptions.GetPayerContact(ctx, sub.ParentID)
	if err != nil {
		h.logger.Warn("payer contact lookup failed, skipping email", map[string]interface{}{
			"subscriptionId": sub.ID,
			"error":          err.Error(),
		})
		return
	}
	if err := h.notifier.Send(ctx, &notify.Email{To: email, Subject: subject, Text: text}); err != nil {
		h.logger.Warn("notification send failed", map[string]interface{}{
			"subscriptionId": sub.ID,
			"error":          err.Error(),
		})
	}
}

func (h *Handler) currency(sub *models.Subscription) string {
	if sub.Currency != "" {
		return sub.Currency
	}
	return h.config.Currency
}

// translateOrSubmitted normalizes the provider's payment status; an unknown
// status degrades to submitted, the weakest post-acceptance state.
func translateOrSubmitted(providerStatus string) models.PaymentStatus {
	if s, ok := provider.TranslatePaymentStatus(providerStatus); ok {
		return s
	}
	return models.PaymentSubmitted
}
