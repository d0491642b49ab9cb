package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"club-billing-engine/internal/models"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// ErrDuplicate is returned when a unique constraint rejects an insert.
var ErrDuplicate = errors.New("duplicate record")

const paymentColumns = `id, subscription_id, invoice_id, provider, provider_payment_id,
	amount, currency, status, period_start, period_end, retry_count,
	failure_code, failure_message, last_failed_at, created_at, updated_at`

type PaymentRepo struct {
	db *sql.DB
}

func NewPaymentRepo(db *sql.DB) *PaymentRepo {
	return &PaymentRepo{db: db}
}

func scanPayment(row interface{ Scan(...interface{}) error }) (*models.ProviderPayment, error) {
	var p models.ProviderPayment
	err := row.Scan(
		&p.ID, &p.SubscriptionID, &p.InvoiceID, &p.Provider, &p.ProviderPaymentID,
		&p.Amount, &p.Currency, &p.Status, &p.PeriodStart, &p.PeriodEnd, &p.RetryCount,
		&p.FailureCode, &p.FailureMessage, &p.LastFailedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetForPeriod returns the payment row already covering the given billing
// period for a subscription, or ErrNotFound. Cancelled rows do not count; the
// period was never collected. Callers inspect the row to tell a settled
// period from a stale pending_submission left by an interrupted run.
func (r *PaymentRepo) GetForPeriod(ctx context.Context, subscriptionID int64, periodStart time.Time) (*models.ProviderPayment, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx, `SELECT `+paymentColumns+`
		FROM provider_payments
		WHERE subscription_id = $1 AND period_start = $2 AND status <> 'cancelled'
		ORDER BY id DESC
		LIMIT 1`, subscriptionID, periodStart))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// CreatePending inserts the local charge record before the provider is called.
func (r *PaymentRepo) CreatePending(ctx context.Context, subscriptionID int64, provider string, amount decimal.Decimal, currency string, periodStart, periodEnd time.Time) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `INSERT INTO provider_payments
		(subscription_id, provider, provider_payment_id, amount, currency, status, period_start, period_end, retry_count, created_at, updated_at)
		VALUES ($1, $2, '', $3, $4, 'pending_submission', $5, $6, 0, NOW(), NOW())
		RETURNING id`,
		subscriptionID, provider, amount, currency, periodStart, periodEnd).Scan(&id)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return 0, ErrDuplicate
		}
		return 0, err
	}
	return id, nil
}

// MarkSubmitted records the provider's payment id and status after a
// successful submission.
func (r *PaymentRepo) MarkSubmitted(ctx context.Context, id int64, providerPaymentID string, status models.PaymentStatus) error {
	_, err := r.db.ExecContext(ctx, `UPDATE provider_payments
		SET provider_payment_id = $2, status = $3, updated_at = NOW()
		WHERE id = $1`, id, providerPaymentID, status)
	return err
}

// MarkFailed stores the structured failure on the payment row.
func (r *PaymentRepo) MarkFailed(ctx context.Context, id int64, code, message string, failedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE provider_payments
		SET status = 'failed', failure_code = $2, failure_message = $3, last_failed_at = $4, updated_at = NOW()
		WHERE id = $1`, id, code, message, failedAt)
	return err
}

// IncrementRetry bumps the attempt counter. The counter moves on every
// attempt, successful or not.
func (r *PaymentRepo) IncrementRetry(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE provider_payments
		SET retry_count = retry_count + 1, updated_at = NOW()
		WHERE id = $1`, id)
	return err
}

// GetPaymentsForRetry returns failed subscription payments that have not yet
// exhausted the retry budget, oldest failure first.
func (r *PaymentRepo) GetPaymentsForRetry(ctx context.Context, maxRetries int) ([]*models.ProviderPayment, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+paymentColumns+`
		FROM provider_payments
		WHERE status = 'failed' AND subscription_id IS NOT NULL AND retry_count < $1
		ORDER BY last_failed_at, id`, maxRetries)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ProviderPayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetByProviderPaymentID resolves a payment from the provider's identifier,
// as carried in webhook events.
func (r *PaymentRepo) GetByProviderPaymentID(ctx context.Context, provider, providerPaymentID string) (*models.ProviderPayment, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM provider_payments
		 WHERE provider = $1 AND provider_payment_id = $2`, provider, providerPaymentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// TransitionStatus performs a guarded compare-and-set from the observed status
// to the new one and reports whether the row actually moved.
func (r *PaymentRepo) TransitionStatus(ctx context.Context, id int64, from, to models.PaymentStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE provider_payments
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

func (r *PaymentRepo) GetByID(ctx context.Context, id int64) (*models.ProviderPayment, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM provider_payments WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}
