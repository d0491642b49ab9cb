package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"club-billing-engine/internal/models"
)

const mandateColumns = `id, club_id, parent_id, provider, provider_mandate_id,
	status, next_possible_charge_date, created_at, updated_at`

type MandateRepo struct {
	db *sql.DB
}

func NewMandateRepo(db *sql.DB) *MandateRepo {
	return &MandateRepo{db: db}
}

func scanMandate(row interface{ Scan(...interface{}) error }) (*models.PaymentMandate, error) {
	var m models.PaymentMandate
	err := row.Scan(
		&m.ID, &m.ClubID, &m.ParentID, &m.Provider, &m.ProviderMandateID,
		&m.Status, &m.NextPossibleChargeDate, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MandateRepo) GetByID(ctx context.Context, id int64) (*models.PaymentMandate, error) {
	m, err := scanMandate(r.db.QueryRowContext(ctx,
		`SELECT `+mandateColumns+` FROM payment_mandates WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

func (r *MandateRepo) GetByProviderID(ctx context.Context, provider, providerMandateID string) (*models.PaymentMandate, error) {
	m, err := scanMandate(r.db.QueryRowContext(ctx,
		`SELECT `+mandateColumns+` FROM payment_mandates WHERE provider = $1 AND provider_mandate_id = $2`,
		provider, providerMandateID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// ListSyncable returns mandates whose provider-side state may still move:
// everything local in pending or submitted.
func (r *MandateRepo) ListSyncable(ctx context.Context) ([]*models.PaymentMandate, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+mandateColumns+` FROM payment_mandates WHERE status IN ('pending', 'submitted') ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.PaymentMandate
	for rows.Next() {
		m, err := scanMandate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetActiveForParentClub returns the payer's active mandate for a club, if any.
func (r *MandateRepo) GetActiveForParentClub(ctx context.Context, parentID, clubID int64) (*models.PaymentMandate, error) {
	m, err := scanMandate(r.db.QueryRowContext(ctx,
		`SELECT `+mandateColumns+` FROM payment_mandates
		 WHERE parent_id = $1 AND club_id = $2 AND status = 'active'
		 ORDER BY id DESC LIMIT 1`, parentID, clubID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// TransitionStatus performs a guarded compare-and-set from the observed status
// to the new one. It reports whether the row actually moved, so concurrent
// webhook and polling updates collapse into a single applied transition.
func (r *MandateRepo) TransitionStatus(ctx context.Context, id int64, from, to models.MandateStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE payment_mandates
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetNextPossibleChargeDate stores the provider's earliest chargeable date.
func (r *MandateRepo) SetNextPossibleChargeDate(ctx context.Context, id int64, date *time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE payment_mandates
		SET next_possible_charge_date = $2, updated_at = NOW()
		WHERE id = $1`, id, date)
	return err
}
