// internal/workers/invoicing/invoice-schedule/service.go
package invoiceschedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	commonerrors "club-billing-engine/internal/common/errors"
	"club-billing-engine/internal/models"
	"club-billing-engine/internal/notify"
	"club-billing-engine/internal/store"

	"github.com/shopspring/decimal"
	"github.com/xeipuuv/gojsonschema"
)

// Business reasons recorded on jobs that cannot run. These are expected
// outcomes, not errors.
const (
	reasonNoSettings      = "No billing settings configured for this club"
	reasonDisabled        = "Auto-generation is disabled for this club"
	reasonNoDefaultItems  = "No default invoice items configured for this club"
	reasonInvalidItemList = "Default invoice items failed validation"
)

var hundred = decimal.NewFromInt(100)

// processJob runs one scheduled seasonal invoice job end to end.
func (h *Handler) processJob(ctx context.Context, job *models.ScheduledInvoiceJob) error {
	settings, err := h.invoices.GetClubBillingSettings(ctx, job.ClubID)
	if errors.Is(err, store.ErrNotFound) {
		return h.failJob(ctx, job, reasonNoSettings)
	}
	if err != nil {
		return commonerrors.NewQueryExecutionFailedError("club billing settings", err)
	}
	if !settings.AutoGenerationEnabled {
		return h.failJob(ctx, job, reasonDisabled)
	}
	if len(settings.DefaultInvoiceItems) == 0 {
		return h.failJob(ctx, job, reasonNoDefaultItems)
	}
	if err := validateInvoiceItems(settings.DefaultInvoiceItems); err != nil {
		return h.failJob(ctx, job, fmt.Sprintf("%s: %v", reasonInvalidItemList, err))
	}

	members, err := h.invoices.ListEligibleMembers(ctx, job.ClubID, job.SeasonID)
	if err != nil {
		return commonerrors.NewQueryExecutionFailedError("eligible members", err)
	}
	if len(members) == 0 {
		h.logger.Info("no eligible members, completing job empty", map[string]interface{}{
			"jobId": job.ID,
		})
		if err := h.invoices.MarkJobCompleted(ctx, job.ID, 0, 0); err != nil {
			return commonerrors.NewPersistenceError("complete invoice job", err)
		}
		return nil
	}

	invoices, lines := h.buildInvoices(job, settings, members)
	ids, err := h.invoices.CreateInvoiceBatch(ctx, invoices, lines)
	if err != nil {
		return commonerrors.NewPersistenceError("create invoice batch", err)
	}

	emails := h.dispatchEmails(ctx, members, invoices)

	if err := h.invoices.MarkJobCompleted(ctx, job.ID, len(ids), emails); err != nil {
		return commonerrors.NewPersistenceError("complete invoice job", err)
	}

	h.logger.Info("invoice job completed", map[string]interface{}{
		"jobId":            job.ID,
		"invoicesCreated":  len(ids),
		"emailsDispatched": emails,
	})
	return nil
}

// failJob records a descriptive business reason. The job is terminal; no
// retry.
func (h *Handler) failJob(ctx context.Context, job *models.ScheduledInvoiceJob, reason string) error {
	h.logger.Warn("invoice job cannot run", map[string]interface{}{
		"jobId":  job.ID,
		"clubId": job.ClubID,
		"reason": reason,
	})
	if err := h.invoices.MarkJobFailed(ctx, job.ID, reason); err != nil {
		return commonerrors.NewPersistenceError("mark invoice job failed", err)
	}
	return nil
}

// buildInvoices assembles one invoice per member from the club's default
// items, appending the service charge as its own line when configured.
func (h *Handler) buildInvoices(job *models.ScheduledInvoiceJob, settings *models.ClubBillingSettings, members []*models.ClubMember) ([]*models.Invoice, map[int][]models.InvoiceLineItem) {
	dueDate := h.now().UTC().AddDate(0, 0, h.config.DueInDays)
	currency := settings.Currency
	if currency == "" {
		currency = h.config.Currency
	}

	var memberLines []models.InvoiceLineItem
	subtotal := decimal.Zero
	for _, item := range settings.DefaultInvoiceItems {
		lineTotal := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		subtotal = subtotal.Add(lineTotal)
		memberLines = append(memberLines, models.InvoiceLineItem{
			Description: item.Description,
			Category:    item.Category,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Total:       lineTotal,
		})
	}

	total := subtotal
	if settings.ServiceChargePercent.IsPositive() {
		charge := subtotal.Mul(settings.ServiceChargePercent).Div(hundred).Round(2)
		total = subtotal.Add(charge)
		memberLines = append(memberLines, models.InvoiceLineItem{
			Description: "Service charge",
			Category:    "fees",
			Quantity:    1,
			UnitPrice:   charge,
			Total:       charge,
		})
	}

	invoices := make([]*models.Invoice, 0, len(members))
	lines := make(map[int][]models.InvoiceLineItem, len(members))
	for i, member := range members {
		invoices = append(invoices, &models.Invoice{
			ClubID:   job.ClubID,
			SeasonID: job.SeasonID,
			UserID:   member.UserID,
			Total:    total,
			Currency: currency,
			Status:   "pending",
			DueDate:  dueDate,
		})
		lines[i] = memberLines
	}
	return invoices, lines
}

// dispatchEmails sends one notification per invoice. Per-recipient failures
// are logged and never fail the job or roll back invoice creation.
func (h *Handler) dispatchEmails(ctx context.Context, members []*models.ClubMember, invoices []*models.Invoice) int {
	sent := 0
	for i, member := range members {
		err := h.notifier.Send(ctx, &notify.Email{
			To:      member.Email,
			Subject: "Your club membership invoice",
			Text: fmt.Sprintf("Hi %s, your invoice of %s %s is due by %s.",
				member.Name, invoices[i].Total.StringFixed(2), invoices[i].Currency,
				invoices[i].DueDate.Format("2 January 2006")),
		})
		if err != nil {
			h.logger.Warn("invoice email failed", map[string]interface{}{
				"userId": member.UserID,
				"error":  err.Error(),
			})
			continue
		}
		sent++
	}
	return sent
}

const invoiceItemsSchema = `{
	"type": "array",
	"minItems": 1,
	"items": {
		"type": "object",
		"required": ["description", "quantity", "unit_price"],
		"properties": {
			"description": {"type": "string", "minLength": 1},
			"category": {"type": "string"},
			"quantity": {"type": "integer", "minimum": 1},
			"unit_price": {"type": ["string", "number"]}
		}
	}
}`

// validateInvoiceItems checks the club's default item list against the
// documented shape before any invoice is written.
func validateInvoiceItems(items []models.InvoiceItem) error {
	doc, err := json.Marshal(items)
	if err != nil {
		return err
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(invoiceItemsSchema),
		gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return err
	}
	if !result.Valid() {
		return fmt.Errorf("%s", result.Errors()[0].String())
	}
	return nil
}
