// internal/workers/billing/billing-cycle/validation.go
package billingcycle

import (
	"context"
	"errors"
	"fmt"

	commonerrors "club-billing-engine/internal/common/errors"
	"club-billing-engine/internal/models"
	"club-billing-engine/internal/store"
)

// validateSubscription runs the pre-flight checks before any external call.
// A validation failure has zero side effects.
func (h *Handler) validateSubscription(ctx context.Context, sub *models.Subscription) (*models.PaymentMandate, error) {
	if sub.MandateID == nil {
		return nil, commonerrors.NewValidationError(
			fmt.Sprintf("subscription %d has no mandate", sub.ID))
	}
	if !sub.Amount.IsPositive() {
		return nil, commonerrors.NewValidationError(
			fmt.Sprintf("subscription %d amount must be positive, got %s", sub.ID, sub.Amount))
	}
	if sub.CurrentPeriodEnd == nil {
		return nil, commonerrors.NewValidationError(
			fmt.Sprintf("subscription %d has no current period end", sub.ID))
	}

	mandate, err := h.mandates.GetByID(ctx, *sub.MandateID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, commonerrors.NewValidationError(
			fmt.Sprintf("mandate %d not found for subscription %d", *sub.MandateID, sub.ID))
	}
	if err != nil {
		return nil, commonerrors.NewQueryExecutionFailedError("mandate lookup", err)
	}
	if mandate.Status != models.MandateActive {
		return nil, commonerrors.NewValidationError(
			fmt.Sprintf("mandate %d is %s, not active", mandate.ID, mandate.Status))
	}
	if mandate.ProviderMandateID == "" {
		return nil, commonerrors.NewValidationError(
			fmt.Sprintf("mandate %d has no provider mandate id", mandate.ID))
	}
	// The engine talks to one provider; a mandate from another cannot be
	// charged through this client.
	if h.config.ProviderName != "" && mandate.Provider != h.config.ProviderName {
		return nil, commonerrors.NewValidationError(
			fmt.Sprintf("mandate %d belongs to provider %q, expected %q",
				mandate.ID, mandate.Provider, h.config.ProviderName))
	}
	return mandate, nil
}
