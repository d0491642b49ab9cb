package provider

import (
	"testing"

	"club-billing-engine/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestTranslateMandateStatus(t *testing.T) {
	status, ok := TranslateMandateStatus("pending_customer_approval")
	assert.True(t, ok)
	assert.Equal(t, models.MandatePending, status)

	status, ok = TranslateMandateStatus("active")
	assert.True(t, ok)
	assert.Equal(t, models.MandateActive, status)

	_, ok = TranslateMandateStatus("blocked_by_provider")
	assert.False(t, ok)
}

func TestTranslatePaymentStatus(t *testing.T) {
	status, ok := TranslatePaymentStatus("paid_out")
	assert.True(t, ok)
	assert.Equal(t, models.PaymentPaidOut, status)

	_, ok = TranslatePaymentStatus("charged_back")
	assert.False(t, ok)
}

func TestShouldTransitionMandate(t *testing.T) {
	assert.True(t, ShouldTransitionMandate(models.MandatePending, models.MandateActive))
	assert.True(t, ShouldTransitionMandate(models.MandateActive, models.MandateCancelled))

	// Same status is a no-op regardless of which path observed it first.
	assert.False(t, ShouldTransitionMandate(models.MandateActive, models.MandateActive))

	// Terminal statuses never move again, not even back to active.
	assert.False(t, ShouldTransitionMandate(models.MandateCancelled, models.MandateActive))
	assert.False(t, ShouldTransitionMandate(models.MandateExpired, models.MandatePending))
	assert.False(t, ShouldTransitionMandate(models.MandateFailed, models.MandateSubmitted))
}

func TestShouldTransitionPayment(t *testing.T) {
	assert.True(t, ShouldTransitionPayment(models.PaymentSubmitted, models.PaymentConfirmed))
	assert.True(t, ShouldTransitionPayment(models.PaymentSubmitted, models.PaymentFailed))

	assert.False(t, ShouldTransitionPayment(models.PaymentConfirmed, models.PaymentConfirmed))

	// Settled payments are final.
	assert.False(t, ShouldTransitionPayment(models.PaymentConfirmed, models.PaymentFailed))
	assert.False(t, ShouldTransitionPayment(models.PaymentPaidOut, models.PaymentCancelled))
}
