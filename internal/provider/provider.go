// Package provider isolates the Direct-Debit payment provider behind a
// normalized status vocabulary. Adapters translate native vocabularies at the
// boundary; the rest of the engine never sees provider-specific strings.
package provider

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Mandate is the provider's authoritative view of a bank mandate.
type Mandate struct {
	ProviderMandateID      string     `json:"providerMandateId"`
	Status                 string     `json:"status"`
	NextPossibleChargeDate *time.Time `json:"nextPossibleChargeDate,omitempty"`
}

// SubscriptionRequest asks the provider to start a recurring debit plan.
type SubscriptionRequest struct {
	ProviderMandateID string                 `json:"providerMandateId"`
	Amount            decimal.Decimal        `json:"amount"`
	Currency          string                 `json:"currency"`
	IntervalUnit      string                 `json:"intervalUnit"` // "monthly" or "yearly"
	DayOfMonth        int                    `json:"dayOfMonth"`
	Name              string                 `json:"name"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// SubscriptionResult is the provider's acknowledgement of a created plan.
type SubscriptionResult struct {
	ProviderSubscriptionID string `json:"providerSubscriptionId"`
	Status                 string `json:"status"`
}

// ChargeRequest submits a one-off collection against a mandate. The
// IdempotencyKey makes a resubmitted request a no-op on the provider side.
type ChargeRequest struct {
	ProviderMandateID string                 `json:"providerMandateId"`
	Amount            decimal.Decimal        `json:"amount"`
	Currency          string                 `json:"currency"`
	Description       string                 `json:"description"`
	IdempotencyKey    string                 `json:"idempotencyKey"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// ChargeResult reports either a submitted payment or a structured failure.
type ChargeResult struct {
	ProviderPaymentID string         `json:"providerPaymentId"`
	Status            string         `json:"status"`
	Failure           *ChargeFailure `json:"failure,omitempty"`
}

// Succeeded reports whether the charge was accepted by the provider.
func (r *ChargeResult) Succeeded() bool {
	return r.Failure == nil
}

// ChargeFailure is the provider's structured failure payload.
type ChargeFailure struct {
	Code    string `json:"code"`
	Type    string `json:"type"`
	Details string `json:"details"`
}

// AsMap flattens the failure for error metadata and event payloads.
func (f *ChargeFailure) AsMap() map[string]interface{} {
	if f == nil {
		return nil
	}
	return map[string]interface{}{
		"code":    f.Code,
		"type":    f.Type,
		"details": f.Details,
	}
}

// PaymentProvider is the collaborator boundary to the Direct-Debit provider.
type PaymentProvider interface {
	GetMandate(ctx context.Context, providerMandateID string) (*Mandate, error)
	CreateSubscription(ctx context.Context, req *SubscriptionRequest) (*SubscriptionResult, error)
	CreatePayment(ctx context.Context, req *ChargeRequest) (*ChargeResult, error)
}
