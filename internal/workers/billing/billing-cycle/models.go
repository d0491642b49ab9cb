// internal/workers/billing/billing-cycle/models.go
package billingcycle

import (
	"time"

	"club-billing-engine/internal/models"
)

// chargeOutcome carries the result of one subscription's charge attempt
// through the success/failure bookkeeping.
type chargeOutcome struct {
	PaymentID         int64
	ProviderPaymentID string
	Status            models.PaymentStatus
	PeriodStart       time.Time
	PeriodEnd         time.Time
	NextBillingDate   time.Time
}
