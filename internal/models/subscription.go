package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubscriptionStatus is the local lifecycle state of a membership subscription.
type SubscriptionStatus string

const (
	SubscriptionPending   SubscriptionStatus = "pending"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPaused    SubscriptionStatus = "paused"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionSuspended SubscriptionStatus = "suspended"
)

// BillingFrequency is how often a subscription is charged.
type BillingFrequency string

const (
	BillingMonthly BillingFrequency = "monthly"
	BillingAnnual  BillingFrequency = "annual"
)

// Subscription links a paying parent to a child's club membership tier.
// At most one subscription exists per (child, club).
type Subscription struct {
	ID                         int64              `json:"id"`
	ClubID                     int64              `json:"clubId"`
	ParentID                   int64              `json:"parentId"`
	ChildID                    int64              `json:"childId"`
	TierID                     int64              `json:"tierId"`
	Status                     SubscriptionStatus `json:"status"`
	BillingFrequency           BillingFrequency   `json:"billingFrequency"`
	BillingDayOfMonth          int                `json:"billingDayOfMonth"`
	Amount                     decimal.Decimal    `json:"amount"`
	Currency                   string             `json:"currency"`
	CurrentPeriodStart         *time.Time         `json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd           *time.Time         `json:"currentPeriodEnd,omitempty"`
	NextBillingDate            *time.Time         `json:"nextBillingDate,omitempty"`
	TrialEndDate               *time.Time         `json:"trialEndDate,omitempty"`
	FailedPaymentCount         int                `json:"failedPaymentCount"`
	LastFailedPaymentDate      *time.Time         `json:"lastFailedPaymentDate,omitempty"`
	MandateID                  *int64             `json:"mandateId,omitempty"`
	ProviderSubscriptionID     *string            `json:"providerSubscriptionId,omitempty"`
	ProviderSubscriptionStatus *string            `json:"providerSubscriptionStatus,omitempty"`
	ResumeDate                 *time.Time         `json:"resumeDate,omitempty"`
	CreatedAt                  time.Time          `json:"createdAt"`
	UpdatedAt                  time.Time          `json:"updatedAt"`
}

// Interval returns the length of one billing period.
func (f BillingFrequency) Interval() (months int, years int) {
	if f == BillingAnnual {
		return 0, 1
	}
	return 1, 0
}

// ClampBillingDay bounds a billing day to [1,28] so every month has the date.
func ClampBillingDay(day int) int {
	if day < 1 {
		return 1
	}
	if day > 28 {
		return 28
	}
	return day
}

// AdvancePeriod computes the next billing period from the current period end.
// The next billing date lands on the clamped billing day of the month that
// follows the new period start.
func AdvancePeriod(periodEnd time.Time, freq BillingFrequency, billingDay int) (newStart, newEnd, nextBilling time.Time) {
	day := ClampBillingDay(billingDay)
	months, years := freq.Interval()

	newStart = periodEnd
	newEnd = periodEnd.AddDate(years, months, 0)
	nextBilling = time.Date(newEnd.Year(), newEnd.Month(), day, 0, 0, 0, 0, newEnd.Location())
	return newStart, newEnd, nextBilling
}
