package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"club-billing-engine/internal/models"
)

var ErrNotFound = errors.New("record not found")

const subscriptionColumns = `id, club_id, parent_id, child_id, tier_id, status,
	billing_frequency, billing_day_of_month, amount, currency,
	current_period_start, current_period_end, next_billing_date, trial_end_date,
	failed_payment_count, last_failed_payment_date, mandate_id,
	provider_subscription_id, provider_subscription_status, resume_date,
	created_at, updated_at`

type SubscriptionRepo struct {
	db *sql.DB
}

func NewSubscriptionRepo(db *sql.DB) *SubscriptionRepo {
	return &SubscriptionRepo{db: db}
}

func scanSubscription(row interface{ Scan(...interface{}) error }) (*models.Subscription, error) {
	var s models.Subscription
	err := row.Scan(
		&s.ID, &s.ClubID, &s.ParentID, &s.ChildID, &s.TierID, &s.Status,
		&s.BillingFrequency, &s.BillingDayOfMonth, &s.Amount, &s.Currency,
		&s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.NextBillingDate, &s.TrialEndDate,
		&s.FailedPaymentCount, &s.LastFailedPaymentDate, &s.MandateID,
		&s.ProviderSubscriptionID, &s.ProviderSubscriptionStatus, &s.ResumeDate,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SubscriptionRepo) GetByID(ctx context.Context, id int64) (*models.Subscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM subscriptions WHERE id = $1`, subscriptionColumns)
	s, err := scanSubscription(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// GetDueSubscriptions returns active subscriptions whose next billing date has
// arrived and that already have a live provider link, in deterministic order.
func (r *SubscriptionRepo) GetDueSubscriptions(ctx context.Context, today time.Time) ([]*models.Subscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM subscriptions
		WHERE status = 'active'
		  AND next_billing_date <= $1
		  AND provider_subscription_id IS NOT NULL
		ORDER BY next_billing_date, id`, subscriptionColumns)

	rows, err := r.db.QueryContext(ctx, query, today)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

// ListPendingForMandate finds pending, unlinked subscriptions under a
// (parent, club) pair so an activated mandate can be attached to them.
func (r *SubscriptionRepo) ListPendingForMandate(ctx context.Context, parentID, clubID int64) ([]*models.Subscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM subscriptions
		WHERE parent_id = $1 AND club_id = $2
		  AND status = 'pending'
		  AND provider_subscription_id IS NULL
		ORDER BY id`, subscriptionColumns)

	rows, err := r.db.QueryContext(ctx, query, parentID, clubID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

// ListUnsynced finds subscriptions that still lack a provider-side
// subscription; these are retried naturally on every scheduled run.
func (r *SubscriptionRepo) ListUnsynced(ctx context.Context) ([]*models.Subscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM subscriptions
		WHERE status IN ('active', 'pending')
		  AND provider_subscription_id IS NULL
		ORDER BY id`, subscriptionColumns)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

func collectSubscriptions(rows *sql.Rows) ([]*models.Subscription, error) {
	var out []*models.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetPayerContact returns the paying parent's name and email for
// notifications.
func (r *SubscriptionRepo) GetPayerContact(ctx context.Context, parentID int64) (name, email string, err error) {
	err = r.db.QueryRowContext(ctx,
		`SELECT name, email FROM users WHERE id = $1`, parentID).Scan(&name, &email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNotFound
	}
	return name, email, err
}

// LinkMandate attaches a mandate to a subscription if none is linked yet.
func (r *SubscriptionRepo) LinkMandate(ctx context.Context, subscriptionID, mandateID int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE subscriptions
		SET mandate_id = $2, updated_at = NOW()
		WHERE id = $1 AND mandate_id IS NULL`, subscriptionID, mandateID)
	return err
}

// SetProviderSubscription persists the provider-side subscription link.
func (r *SubscriptionRepo) SetProviderSubscription(ctx context.Context, subscriptionID int64, providerSubID, providerStatus string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE subscriptions
		SET provider_subscription_id = $2, provider_subscription_status = $3, updated_at = NOW()
		WHERE id = $1`, subscriptionID, providerSubID, providerStatus)
	return err
}

// Activate moves a pending subscription to active once its provider link and
// mandate are both in place.
func (r *SubscriptionRepo) Activate(ctx context.Context, subscriptionID int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE subscriptions
		SET status = 'active', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, subscriptionID)
	return err
}

// RecordChargeSuccess resets the failure counter and advances the billing
// period in one statement, so a success can never also count as a failure.
func (r *SubscriptionRepo) RecordChargeSuccess(ctx context.Context, subscriptionID int64, periodStart, periodEnd, nextBilling time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE subscriptions
		SET failed_payment_count = 0,
		    current_period_start = $2,
		    current_period_end = $3,
		    next_billing_date = $4,
		    updated_at = NOW()
		WHERE id = $1`, subscriptionID, periodStart, periodEnd, nextBilling)
	return err
}

// RecordChargeFailure increments the failure counter and stamps the failure
// time. Status stays active; escalation belongs to the retry coordinator.
func (r *SubscriptionRepo) RecordChargeFailure(ctx context.Context, subscriptionID int64, failedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE subscriptions
		SET failed_payment_count = failed_payment_count + 1,
		    last_failed_payment_date = $2,
		    updated_at = NOW()
		WHERE id = $1`, subscriptionID, failedAt)
	return err
}

// Suspend marks a subscription suspended after retries are exhausted. Only an
// explicit operator or parent action resumes it.
func (r *SubscriptionRepo) Suspend(ctx context.Context, subscriptionID int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE subscriptions
		SET status = 'suspended', updated_at = NOW()
		WHERE id = $1 AND status = 'active'`, subscriptionID)
	return err
}
