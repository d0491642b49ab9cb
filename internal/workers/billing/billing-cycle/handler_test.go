package billingcycle

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"club-billing-engine/internal/common/logger"
	"club-billing-engine/internal/notify"
	"club-billing-engine/internal/provider"
	"club-billing-engine/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	chargeResult *provider.ChargeResult
	chargeErr    error
	requests     []*provider.ChargeRequest
}

func (f *fakeProvider) GetMandate(ctx context.Context, providerMandateID string) (*provider.Mandate, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeProvider) CreateSubscription(ctx context.Context, req *provider.SubscriptionRequest) (*provider.SubscriptionResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeProvider) CreatePayment(ctx context.Context, req *provider.ChargeRequest) (*provider.ChargeResult, error) {
	f.requests = append(f.requests, req)
	if f.chargeErr != nil {
		return nil, f.chargeErr
	}
	return f.chargeResult, nil
}

type fakeNotifier struct {
	sent []*notify.Email
}

func (f *fakeNotifier) Send(ctx context.Context, email *notify.Email) error {
	f.sent = append(f.sent, email)
	return nil
}

var today = time.Date(2026, 1, 15, 6, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T, prov *fakeProvider, notifier *fakeNotifier) (*Handler, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := NewHandler(&Config{Currency: "GBP", ProviderName: "gocardless"},
		store.New(db), prov, notifier, logger.NewTestLogger(t))
	h.SetNowFunc(func() time.Time { return today })
	return h, mock
}

func subscriptionColumnNames() []string {
	return []string{
		"id", "club_id", "parent_id", "child_id", "tier_id", "status",
		"billing_frequency", "billing_day_of_month", "amount", "currency",
		"current_period_start", "current_period_end", "next_billing_date", "trial_end_date",
		"failed_payment_count", "last_failed_payment_date", "mandate_id",
		"provider_subscription_id", "provider_subscription_status", "resume_date",
		"created_at", "updated_at",
	}
}

func dueSubscriptionRow(mandateID interface{}) *sqlmock.Rows {
	periodStart := time.Date(2025, 12, 15, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(subscriptionColumnNames()).AddRow(
		int64(1), int64(10), int64(20), int64(30), int64(40), "active",
		"monthly", 15, "25.00", "GBP",
		periodStart, periodEnd, periodEnd, nil,
		0, nil, mandateID,
		"SB001", "active", nil,
		time.Now(), time.Now(),
	)
}

func mandateRow(providerName string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "club_id", "parent_id", "provider", "provider_mandate_id",
		"status", "next_possible_charge_date", "created_at", "updated_at",
	}).AddRow(int64(11), int64(10), int64(20), providerName, "MD000123",
		"active", nil, time.Now(), time.Now())
}

func activeMandateRow() *sqlmock.Rows {
	return mandateRow("gocardless")
}

func paymentColumnNames() []string {
	return []string{
		"id", "subscription_id", "invoice_id", "provider", "provider_payment_id",
		"amount", "currency", "status", "period_start", "period_end", "retry_count",
		"failure_code", "failure_message", "last_failed_at", "created_at", "updated_at",
	}
}

func noPaymentForPeriod() *sqlmock.Rows {
	return sqlmock.NewRows(paymentColumnNames())
}

func paymentForPeriodRow(providerPaymentID, status string, periodStart, periodEnd time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(paymentColumnNames()).AddRow(
		int64(100), int64(1), nil, "gocardless", providerPaymentID,
		"25.00", "GBP", status, periodStart, periodEnd, 0,
		nil, nil, nil, time.Now(), time.Now(),
	)
}

const periodLookupQuery = `WHERE subscription_id = $1 AND period_start = $2 AND status <> 'cancelled'`

func TestRunChargesDueSubscriptionAndAdvancesPeriod(t *testing.T) {
	prov := &fakeProvider{chargeResult: &provider.ChargeResult{
		ProviderPaymentID: "PM001",
		Status:            "submitted",
	}}
	notifier := &fakeNotifier{}
	h, mock := newTestHandler(t, prov, notifier)

	newStart := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	newEnd := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .+ FROM subscriptions`).
		WithArgs(today).
		WillReturnRows(dueSubscriptionRow(int64(11)))
	mock.ExpectQuery(`SELECT .+ FROM payment_mandates WHERE id = \$1`).
		WithArgs(int64(11)).
		WillReturnRows(activeMandateRow())
	mock.ExpectQuery(regexp.QuoteMeta(periodLookupQuery)).
		WithArgs(int64(1), newStart).
		WillReturnRows(noPaymentForPeriod())
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO provider_payments`)).
		WithArgs(int64(1), "gocardless", sqlmock.AnyArg(), "GBP", newStart, newEnd).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(100)))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE provider_payments`)).
		WithArgs(int64(100), "PM001", "submitted").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Failure counter resets and the period advances in one statement.
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE subscriptions`)).
		WithArgs(int64(1), newStart, newEnd, newEnd).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO subscription_events`)).
		WithArgs(int64(1), "payment_succeeded", "system", nil, "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT name, email FROM users`)).
		WithArgs(int64(20)).
		WillReturnRows(sqlmock.NewRows([]string{"name", "email"}).AddRow("Pat", "pat@example.com"))

	stats, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ItemsSucceeded)
	assert.Equal(t, 0, stats.ItemsFailed)

	require.Len(t, prov.requests, 1)
	assert.Equal(t, "MD000123", prov.requests[0].ProviderMandateID)
	assert.Equal(t, "sub-1-2026-01-15", prov.requests[0].IdempotencyKey)

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "pat@example.com", notifier.sent[0].To)
	assert.Equal(t, "Payment received", notifier.sent[0].Subject)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRecordsDeclinedCharge(t *testing.T) {
	prov := &fakeProvider{chargeResult: &provider.ChargeResult{
		Failure: &provider.ChargeFailure{
			Code:    "insufficient_funds",
			Type:    "bank_declined",
			Details: "The customer's account had insufficient funds",
		},
	}}
	notifier := &fakeNotifier{}
	h, mock := newTestHandler(t, prov, notifier)

	newStart := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .+ FROM subscriptions`).
		WillReturnRows(dueSubscriptionRow(int64(11)))
	mock.ExpectQuery(`SELECT .+ FROM payment_mandates WHERE id = \$1`).
		WillReturnRows(activeMandateRow())
	mock.ExpectQuery(regexp.QuoteMeta(periodLookupQuery)).
		WithArgs(int64(1), newStart).
		WillReturnRows(noPaymentForPeriod())
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO provider_payments`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(100)))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE provider_payments`)).
		WithArgs(int64(100), "insufficient_funds", sqlmock.AnyArg(), today).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Failure counter moves, period does not.
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE subscriptions`)).
		WithArgs(int64(1), today).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO subscription_events`)).
		WithArgs(int64(1), "payment_failed", "system", nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT name, email FROM users`)).
		WillReturnRows(sqlmock.NewRows([]string{"name", "email"}).AddRow("Pat", "pat@example.com"))

	stats, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.ItemsSucceeded)
	assert.Equal(t, 1, stats.ItemsFailed)

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "Payment failed", notifier.sent[0].Subject)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunSkipsAlreadyChargedPeriod(t *testing.T) {
	prov := &fakeProvider{}
	h, mock := newTestHandler(t, prov, &fakeNotifier{})

	mock.ExpectQuery(`SELECT .+ FROM subscriptions`).
		WillReturnRows(dueSubscriptionRow(int64(11)))
	mock.ExpectQuery(`SELECT .+ FROM payment_mandates WHERE id = \$1`).
		WillReturnRows(activeMandateRow())
	newStart := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	newEnd := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(periodLookupQuery)).
		WithArgs(int64(1), newStart).
		WillReturnRows(paymentForPeriodRow("PM001", "submitted", newStart, newEnd))

	stats, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.ItemsProcessed)
	assert.Empty(t, prov.requests)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRejectsSubscriptionWithoutMandate(t *testing.T) {
	prov := &fakeProvider{}
	h, mock := newTestHandler(t, prov, &fakeNotifier{})

	mock.ExpectQuery(`SELECT .+ FROM subscriptions`).
		WillReturnRows(dueSubscriptionRow(nil))

	stats, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ItemsFailed)
	assert.Empty(t, prov.requests, "validation failures must not reach the provider")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunResolvesStalePendingPayment(t *testing.T) {
	// A previous run died after the local insert but before the provider
	// answered: the period has a pending_submission row with no provider
	// payment id. The next run must pick that row up and resubmit under the
	// same idempotency key instead of skipping the period forever.
	prov := &fakeProvider{chargeResult: &provider.ChargeResult{
		ProviderPaymentID: "PM001",
		Status:            "submitted",
	}}
	notifier := &fakeNotifier{}
	h, mock := newTestHandler(t, prov, notifier)

	newStart := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	newEnd := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .+ FROM subscriptions`).
		WillReturnRows(dueSubscriptionRow(int64(11)))
	mock.ExpectQuery(`SELECT .+ FROM payment_mandates WHERE id = \$1`).
		WillReturnRows(activeMandateRow())
	mock.ExpectQuery(regexp.QuoteMeta(periodLookupQuery)).
		WithArgs(int64(1), newStart).
		WillReturnRows(paymentForPeriodRow("", "pending_submission", newStart, newEnd))
	// No second INSERT: the stale row is reused.
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE provider_payments`)).
		WithArgs(int64(100), "PM001", "submitted").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE subscriptions`)).
		WithArgs(int64(1), newStart, newEnd, newEnd).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO subscription_events`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT name, email FROM users`)).
		WillReturnRows(sqlmock.NewRows([]string{"name", "email"}).AddRow("Pat", "pat@example.com"))

	stats, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ItemsSucceeded)

	require.Len(t, prov.requests, 1)
	assert.Equal(t, "sub-1-2026-01-15", prov.requests[0].IdempotencyKey,
		"resubmission must reuse the original key so the provider deduplicates")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRejectsMandateFromOtherProvider(t *testing.T) {
	prov := &fakeProvider{}
	h, mock := newTestHandler(t, prov, &fakeNotifier{})

	mock.ExpectQuery(`SELECT .+ FROM subscriptions`).
		WillReturnRows(dueSubscriptionRow(int64(11)))
	mock.ExpectQuery(`SELECT .+ FROM payment_mandates WHERE id = \$1`).
		WillReturnRows(mandateRow("stripe"))

	stats, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ItemsFailed)
	assert.Empty(t, prov.requests)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLeavesPendingRowOnTransportError(t *testing.T) {
	prov := &fakeProvider{chargeErr: errors.New("connection reset")}
	h, mock := newTestHandler(t, prov, &fakeNotifier{})

	mock.ExpectQuery(`SELECT .+ FROM subscriptions`).
		WillReturnRows(dueSubscriptionRow(int64(11)))
	mock.ExpectQuery(`SELECT .+ FROM payment_mandates WHERE id = \$1`).
		WillReturnRows(activeMandateRow())
	mock.ExpectQuery(regexp.QuoteMeta(periodLookupQuery)).
		WillReturnRows(noPaymentForPeriod())
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO provider_payments`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(100)))
	// No failure bookkeeping: the charge outcome is unknown, the pending row
	// stays for the next run to resubmit.

	stats, err := h.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ItemsFailed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
