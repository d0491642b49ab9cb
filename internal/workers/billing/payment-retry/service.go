// internal/workers/billing/payment-retry/service.go
package paymentretry

import (
	"context"
	"errors"
	"fmt"
	"time"

	commonerrors "club-billing-engine/internal/common/errors"
	"club-billing-engine/internal/common/metrics"
	"club-billing-engine/internal/models"
	"club-billing-engine/internal/notify"
	"club-billing-engine/internal/provider"
	"club-billing-engine/internal/store"
)

// retryPayment re-attempts one failed charge. The attempt counter moves on
// every attempt, successful or not, so the backoff table always advances.
func (h *Handler) retryPayment(ctx context.Context, payment *models.ProviderPayment) error {
	if payment.SubscriptionID == nil {
		return errSkipped
	}
	sub, err := h.subscriptions.GetByID(ctx, *payment.SubscriptionID)
	if errors.Is(err, store.ErrNotFound) {
		return errSkipped
	}
	if err != nil {
		return commonerrors.NewQueryExecutionFailedError("subscription lookup", err)
	}
	if sub.Status != models.SubscriptionActive {
		h.logger.Info("subscription no longer active, skipping retry", map[string]interface{}{
			"paymentId":      payment.ID,
			"subscriptionId": sub.ID,
			"status":         string(sub.Status),
		})
		return errSkipped
	}
	if sub.MandateID == nil {
		return commonerrors.NewValidationError(
			fmt.Sprintf("subscription %d has no mandate", sub.ID))
	}
	if payment.PeriodStart == nil || payment.PeriodEnd == nil {
		return commonerrors.NewValidationError(
			fmt.Sprintf("payment %d has no billing period", payment.ID))
	}
	mandate, err := h.mandates.GetByID(ctx, *sub.MandateID)
	if err != nil {
		return commonerrors.NewQueryExecutionFailedError("mandate lookup", err)
	}
	if mandate.Status != models.MandateActive {
		return commonerrors.NewValidationError(
			fmt.Sprintf("mandate %d is %s, not active", mandate.ID, mandate.Status))
	}

	if err := h.payments.IncrementRetry(ctx, payment.ID); err != nil {
		return commonerrors.NewPersistenceError("increment retry count", err)
	}
	attempt := payment.RetryCount + 1

	h.recordEvent(ctx, sub.ID, models.EventPaymentRetried, "", map[string]interface{}{
		"paymentId": payment.ID,
		"attempt":   attempt,
	})

	result, err := h.provider.CreatePayment(ctx, &provider.ChargeRequest{
		ProviderMandateID: mandate.ProviderMandateID,
		Amount:            payment.Amount,
		Currency:          payment.Currency,
		Description:       fmt.Sprintf("Membership fees %s (retry)", payment.PeriodStart.Format("January 2006")),
		IdempotencyKey:    fmt.Sprintf("payment-%d-attempt-%d", payment.ID, attempt),
		Metadata: map[string]interface{}{
			"subscriptionId": sub.ID,
			"paymentId":      payment.ID,
			"attempt":        attempt,
		},
	})
	if err != nil {
		metrics.ChargesSubmitted.WithLabelValues("error").Inc()
		return commonerrors.NewProviderError("retry payment", err, nil)
	}

	if !result.Succeeded() {
		metrics.ChargesSubmitted.WithLabelValues("failed").Inc()
		return h.recordFailure(ctx, sub, payment, attempt, result.Failure)
	}

	metrics.ChargesSubmitted.WithLabelValues("succeeded").Inc()
	return h.recordSuccess(ctx, sub, payment, result)
}

func (h *Handler) recordSuccess(ctx context.Context, sub *models.Subscription, payment *models.ProviderPayment, result *provider.ChargeResult) error {
	status := models.PaymentSubmitted
	if s, ok := provider.TranslatePaymentStatus(result.Status); ok {
		status = s
	}
	if err := h.payments.MarkSubmitted(ctx, payment.ID, result.ProviderPaymentID, status); err != nil {
		return commonerrors.NewPersistenceError("mark payment submitted", err)
	}

	// The subscription never advanced past the failed period, so the retried
	// payment's own period becomes current.
	nextBilling := time.Date(payment.PeriodEnd.Year(), payment.PeriodEnd.Month(),
		models.ClampBillingDay(sub.BillingDayOfMonth), 0, 0, 0, 0, payment.PeriodEnd.Location())
	if err := h.subscriptions.RecordChargeSuccess(ctx, sub.ID,
		*payment.PeriodStart, *payment.PeriodEnd, nextBilling); err != nil {
		return commonerrors.NewPersistenceError("advance billing period", err)
	}

	h.recordEvent(ctx, sub.ID, models.EventPaymentSucceeded, "", map[string]interface{}{
		"providerPaymentId": result.ProviderPaymentID,
		"paymentId":         payment.ID,
		"retried":           true,
	})

	h.sendEmail(ctx, sub, "Payment received",
		fmt.Sprintf("We have collected %s %s after a previous failed attempt.",
			payment.Amount.StringFixed(2), payment.Currency))

	h.logger.Info("retried payment collected", map[string]interface{}{
		"paymentId":      payment.ID,
		"subscriptionId": sub.ID,
	})
	return nil
}

func (h *Handler) recordFailure(ctx context.Context, sub *models.Subscription, payment *models.ProviderPayment, attempt int, failure *provider.ChargeFailure) error {
	failedAt := h.now().UTC()
	if err := h.payments.MarkFailed(ctx, payment.ID, failure.Code, failure.Details, failedAt); err != nil {
		return commonerrors.NewPersistenceError("mark payment failed", err)
	}
	if err := h.subscriptions.RecordChargeFailure(ctx, sub.ID, failedAt); err != nil {
		return commonerrors.NewPersistenceError("record charge failure", err)
	}

	h.recordEvent(ctx, sub.ID, models.EventPaymentFailed, failure.Details, failure.AsMap())

	if attempt >= h.config.MaxRetries {
		return h.suspend(ctx, sub, payment, failure)
	}

	h.sendEmail(ctx, sub, "Payment failed",
		"We could not collect your membership payment. We will retry automatically.")

	return commonerrors.NewProviderError("retry payment",
		fmt.Errorf("charge declined: %s", failure.Code), failure.AsMap())
}

// suspend takes the subscription out of billing once the retry budget is
// exhausted. Only an explicit operator or parent action resumes it.
func (h *Handler) suspend(ctx context.Context, sub *models.Subscription, payment *models.ProviderPayment, failure *provider.ChargeFailure) error {
	if err := h.subscriptions.Suspend(ctx, sub.ID); err != nil {
		return commonerrors.NewPersistenceError("suspend subscription", err)
	}

	h.recordEvent(ctx, sub.ID, models.EventSuspended, suspensionReason, map[string]interface{}{
		"paymentId":  payment.ID,
		"maxRetries": h.config.MaxRetries,
	})

	h.sendEmail(ctx, sub, "Membership suspended",
		"We could not collect your membership payment after several attempts. Your membership has been suspended; please update your payment details to resume.")

	h.logger.Warn("subscription suspended after exhausting retries", map[string]interface{}{
		"subscriptionId": sub.ID,
		"paymentId":      payment.ID,
	})

	return commonerrors.NewOperatorActionRequired(suspensionReason)
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
