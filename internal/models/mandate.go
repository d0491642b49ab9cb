package models

import "time"

// MandateStatus is the local view of a Direct-Debit mandate. The provider is
// authoritative; transitions are one-directional and cancelled/expired/failed
// never return to active.
type MandateStatus string

const (
	MandatePending   MandateStatus = "pending"
	MandateSubmitted MandateStatus = "submitted"
	MandateActive    MandateStatus = "active"
	MandateCancelled MandateStatus = "cancelled"
	MandateFailed    MandateStatus = "failed"
	MandateExpired   MandateStatus = "expired"
)

// IsTerminal reports whether a mandate can never become chargeable again.
func (s MandateStatus) IsTerminal() bool {
	switch s {
	case MandateCancelled, MandateFailed, MandateExpired:
		return true
	}
	return false
}

// PaymentMandate is a payer-bank authorization permitting recurring debits.
type PaymentMandate struct {
	ID                     int64         `json:"id"`
	ClubID                 int64         `json:"clubId"`
	ParentID               int64         `json:"parentId"`
	Provider               string        `json:"provider"`
	ProviderMandateID      string        `json:"providerMandateId"`
	Status                 MandateStatus `json:"status"`
	NextPossibleChargeDate *time.Time    `json:"nextPossibleChargeDate,omitempty"`
	CreatedAt              time.Time     `json:"createdAt"`
	UpdatedAt              time.Time     `json:"updatedAt"`
}
