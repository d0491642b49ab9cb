package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceJobStatus is the outcome of a scheduled seasonal invoice run.
type InvoiceJobStatus string

const (
	InvoiceJobPending   InvoiceJobStatus = "pending"
	InvoiceJobCompleted InvoiceJobStatus = "completed"
	InvoiceJobFailed    InvoiceJobStatus = "failed"
)

// ScheduledInvoiceJob is one row per (club, season); the pair is unique so a
// season can never be scheduled twice for the same club.
type ScheduledInvoiceJob struct {
	ID               int64            `json:"id"`
	ClubID           int64            `json:"clubId"`
	SeasonID         int64            `json:"seasonId"`
	ScheduledDate    time.Time        `json:"scheduledDate"`
	Status           InvoiceJobStatus `json:"status"`
	InvoicesCreated  int              `json:"invoicesCreated"`
	EmailsDispatched int              `json:"emailsDispatched"`
	ErrorMessage     *string          `json:"errorMessage,omitempty"`
	CompletedAt      *time.Time       `json:"completedAt,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// InvoiceItem is one entry of a club's default_invoice_items JSON list.
type InvoiceItem struct {
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// ClubBillingSettings gates automatic invoice generation per club.
type ClubBillingSettings struct {
	ClubID                int64           `json:"clubId"`
	AutoGenerationEnabled bool            `json:"autoGenerationEnabled"`
	DefaultInvoiceItems   []InvoiceItem   `json:"defaultInvoiceItems"`
	ServiceChargePercent  decimal.Decimal `json:"serviceChargePercent"`
	Currency              string          `json:"currency"`
}

// Invoice is a seasonal invoice generated for one club member.
type Invoice struct {
	ID        int64           `json:"id"`
	ClubID    int64           `json:"clubId"`
	SeasonID  int64           `json:"seasonId"`
	UserID    int64           `json:"userId"`
	Total     decimal.Decimal `json:"total"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
	DueDate   time.Time       `json:"dueDate"`
	CreatedAt time.Time       `json:"createdAt"`
}

// InvoiceLineItem is one billable line on an invoice, service charge included.
type InvoiceLineItem struct {
	ID          int64           `json:"id"`
	InvoiceID   int64           `json:"invoiceId"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Total       decimal.Decimal `json:"total"`
}

// ClubMember is an eligible invoice recipient for a club and season.
type ClubMember struct {
	UserID int64  `json:"userId"`
	ClubID int64  `json:"clubId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}
