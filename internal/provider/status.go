package provider

import "club-billing-engine/internal/models"

// mandateStatusTable is the fixed translation from provider mandate vocabulary
// to the local one. Unknown statuses translate to the zero value and are left
// untouched by callers.
var mandateStatusTable = map[string]models.MandateStatus{
	"pending_customer_approval": models.MandatePending,
	"pending_submission":        models.MandatePending,
	"submitted":                 models.MandateSubmitted,
	"active":                    models.MandateActive,
	"cancelled":                 models.MandateCancelled,
	"failed":                    models.MandateFailed,
	"expired":                   models.MandateExpired,
}

// TranslateMandateStatus maps a provider mandate status to the local status.
// Pure function; returns ok=false for vocabulary it does not know.
func TranslateMandateStatus(providerStatus string) (models.MandateStatus, bool) {
	s, ok := mandateStatusTable[providerStatus]
	return s, ok
}

var paymentStatusTable = map[string]models.PaymentStatus{
	"pending_submission": models.PaymentPendingSubmission,
	"submitted":          models.PaymentSubmitted,
	"confirmed":          models.PaymentConfirmed,
	"paid_out":           models.PaymentPaidOut,
	"cancelled":          models.PaymentCancelled,
	"failed":             models.PaymentFailed,
}

// TranslatePaymentStatus maps a provider payment status to the local status.
func TranslatePaymentStatus(providerStatus string) (models.PaymentStatus, bool) {
	s, ok := paymentStatusTable[providerStatus]
	return s, ok
}

// ShouldTransitionMandate is the single guard both the polling reconciler and
// webhook ingestion use. A transition is applied only when the new status
// differs from the current one and the current status is not terminal, so
// whichever path observes a change first wins and the other becomes a no-op.
func ShouldTransitionMandate(current, next models.MandateStatus) bool {
	if next == current {
		return false
	}
	if current.IsTerminal() {
		return false
	}
	return true
}

// ShouldTransitionPayment mirrors the mandate guard for payment rows: a
// settled payment never moves again.
func ShouldTransitionPayment(current, next models.PaymentStatus) bool {
	if next == current {
		return false
	}
	if current.IsSettled() {
		return false
	}
	return true
}
