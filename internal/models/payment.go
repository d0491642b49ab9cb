package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus tracks a provider payment from local creation to settlement.
type PaymentStatus string

const (
	PaymentPendingSubmission PaymentStatus = "pending_submission"
	PaymentSubmitted         PaymentStatus = "submitted"
	PaymentConfirmed         PaymentStatus = "confirmed"
	PaymentPaidOut           PaymentStatus = "paid_out"
	PaymentCancelled         PaymentStatus = "cancelled"
	PaymentFailed            PaymentStatus = "failed"
)

// IsSettled reports whether the provider has confirmed collection.
func (s PaymentStatus) IsSettled() bool {
	return s == PaymentConfirmed || s == PaymentPaidOut
}

// ProviderPayment is the local record of a single charge attempt. A row is
// written with status pending_submission before the provider is called, so a
// crash mid-call still leaves a record the next billing run resolves by
// resubmitting under the same idempotency key. Unique per
// (provider, provider_payment_id).
type ProviderPayment struct {
	ID                int64           `json:"id"`
	SubscriptionID    *int64          `json:"subscriptionId,omitempty"`
	InvoiceID         *int64          `json:"invoiceId,omitempty"`
	Provider          string          `json:"provider"`
	ProviderPaymentID string          `json:"providerPaymentId"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Status            PaymentStatus   `json:"status"`
	PeriodStart       *time.Time      `json:"periodStart,omitempty"`
	PeriodEnd         *time.Time      `json:"periodEnd,omitempty"`
	RetryCount        int             `json:"retryCount"`
	FailureCode       *string         `json:"failureCode,omitempty"`
	FailureMessage    *string         `json:"failureMessage,omitempty"`
	LastFailedAt      *time.Time      `json:"lastFailedAt,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// PaymentCustomer is the provider-agnostic identity for a payer. Owned by a
// (user, club, provider) triple.
type PaymentCustomer struct {
	ID                 int64     `json:"id"`
	UserID             int64     `json:"userId"`
	ClubID             int64     `json:"clubId"`
	Provider           string    `json:"provider"`
	ProviderCustomerID string    `json:"providerCustomerId"`
	Email              string    `json:"email"`
	CreatedAt          time.Time `json:"createdAt"`
}

// PaymentMethod is a stored payment instrument belonging to a PaymentCustomer.
type PaymentMethod struct {
	ID                int64     `json:"id"`
	PaymentCustomerID int64     `json:"paymentCustomerId"`
	Provider          string    `json:"provider"`
	ProviderMethodID  string    `json:"providerMethodId"`
	Kind              string    `json:"kind"`
	Last4             string    `json:"last4,omitempty"`
	IsDefault         bool      `json:"isDefault"`
	CreatedAt         time.Time `json:"createdAt"`
}
