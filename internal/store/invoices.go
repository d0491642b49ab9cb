package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"club-billing-engine/internal/models"

	"github.com/lib/pq"
)

type InvoiceRepo struct {
	db *sql.DB
}

func NewInvoiceRepo(db *sql.DB) *InvoiceRepo {
	return &InvoiceRepo{db: db}
}

// GetPendingJobs returns scheduled invoice jobs that are due.
func (r *InvoiceRepo) GetPendingJobs(ctx context.Context, today time.Time) ([]*models.ScheduledInvoiceJob, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, club_id, season_id, scheduled_date,
		status, invoices_created, emails_dispatched, error_message, completed_at, created_at
		FROM scheduled_invoice_jobs
		WHERE status = 'pending' AND scheduled_date <= $1
		ORDER BY scheduled_date, id`, today)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ScheduledInvoiceJob
	for rows.Next() {
		var j models.ScheduledInvoiceJob
		if err := rows.Scan(&j.ID, &j.ClubID, &j.SeasonID, &j.ScheduledDate,
			&j.Status, &j.InvoicesCreated, &j.EmailsDispatched, &j.ErrorMessage,
			&j.CompletedAt, &j.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &j)
	}
	return out, rows.Err()
}

// CreateJob schedules a seasonal invoice run. The (club_id, season_id) unique
// constraint guarantees at most one job per season per club.
func (r *InvoiceRepo) CreateJob(ctx context.Context, clubID, seasonID int64, scheduledDate time.Time) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `INSERT INTO scheduled_invoice_jobs
		(club_id, season_id, scheduled_date, status, created_at)
		VALUES ($1, $2, $3, 'pending', NOW())
		RETURNING id`, clubID, seasonID, scheduledDate).Scan(&id)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return 0, ErrDuplicate
		}
		return 0, err
	}
	return id, nil
}

// MarkJobCompleted records the run's counters.
func (r *InvoiceRepo) MarkJobCompleted(ctx context.Context, jobID int64, invoicesCreated, emailsDispatched int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE scheduled_invoice_jobs
		SET status = 'completed', invoices_created = $2, emails_dispatched = $3, completed_at = NOW()
		WHERE id = $1`, jobID, invoicesCreated, emailsDispatched)
	return err
}

// MarkJobFailed stores a descriptive reason. A failed job is not auto-retried.
func (r *InvoiceRepo) MarkJobFailed(ctx context.Context, jobID int64, reason string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE scheduled_invoice_jobs
		SET status = 'failed', error_message = $2, completed_at = NOW()
		WHERE id = $1`, jobID, reason)
	return err
}

// GetClubBillingSettings loads the per-club invoice-generation gate. The
// default_invoice_items column is JSON; documented keys only.
func (r *InvoiceRepo) GetClubBillingSettings(ctx context.Context, clubID int64) (*models.ClubBillingSettings, error) {
	var s models.ClubBillingSettings
	var itemsJSON []byte
	err := r.db.QueryRowContext(ctx, `SELECT club_id, auto_generation_enabled,
		default_invoice_items, service_charge_percent, currency
		FROM club_billing_settings WHERE club_id = $1`, clubID).Scan(
		&s.ClubID, &s.AutoGenerationEnabled, &itemsJSON, &s.ServiceChargePercent, &s.Currency)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(itemsJSON) > 0 {
		if err := json.Unmarshal(itemsJSON, &s.DefaultInvoiceItems); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

// ListEligibleMembers returns the invoice recipients for a club and season.
func (r *InvoiceRepo) ListEligibleMembers(ctx context.Context, clubID, seasonID int64) ([]*models.ClubMember, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT m.user_id, m.club_id, u.name, u.email
		FROM club_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.club_id = $1 AND m.season_id = $2 AND m.active
		ORDER BY m.user_id`, clubID, seasonID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ClubMember
	for rows.Next() {
		var m models.ClubMember
		if err := rows.Scan(&m.UserID, &m.ClubID, &m.Name, &m.Email); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// CreateInvoiceBatch inserts one invoice per member with its line items in a
// single transaction. Either the whole batch lands or none of it does.
func (r *InvoiceRepo) CreateInvoiceBatch(ctx context.Context, invoices []*models.Invoice, lines map[int][]models.InvoiceLineItem) ([]int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ids := make([]int64, 0, len(invoices))
	for i, inv := range invoices {
		var id int64
		err := tx.QueryRowContext(ctx, `INSERT INTO invoices
			(club_id, season_id, user_id, total, currency, status, due_date, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
			RETURNING id`,
			inv.ClubID, inv.SeasonID, inv.UserID, inv.Total, inv.Currency, inv.Status, inv.DueDate).Scan(&id)
		if err != nil {
			return nil, err
		}
		for _, line := range lines[i] {
			if _, err := tx.ExecContext(ctx, `INSERT INTO invoice_line_items
				(invoice_id, description, category, quantity, unit_price, total)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				id, line.Description, line.Category, line.Quantity, line.UnitPrice, line.Total); err != nil {
				return nil, err
			}
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}
