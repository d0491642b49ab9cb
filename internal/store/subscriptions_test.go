package store

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordChargeSuccessResetsFailuresAndAdvancesPeriod(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSubscriptionRepo(db)

	periodStart := time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2026, time.February, 15, 0, 0, 0, 0, time.UTC)

	// One statement: the counter reset and the period advance cannot diverge.
	mock.ExpectExec(regexp.QuoteMeta(`SET failed_payment_count = 0,`)).
		WithArgs(int64(1), periodStart, periodEnd, periodEnd).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.RecordChargeSuccess(context.Background(), 1, periodStart, periodEnd, periodEnd)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordChargeFailureIncrementsCounter(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSubscriptionRepo(db)

	failedAt := time.Date(2026, time.January, 15, 6, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`SET failed_payment_count = failed_payment_count + 1,`)).
		WithArgs(int64(1), failedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.RecordChargeFailure(context.Background(), 1, failedAt)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSuspendOnlyMovesActiveSubscriptions(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSubscriptionRepo(db)

	mock.ExpectExec(regexp.QuoteMeta(`SET status = 'suspended', updated_at = NOW()
		WHERE id = $1 AND status = 'active'`)).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	// A cancelled or already-suspended row matches nothing; no error either way.
	err := repo.Suspend(context.Background(), 1)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPayerContact(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSubscriptionRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT name, email FROM users WHERE id = $1`)).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"name", "email"}).AddRow("Alex Payer", "alex@example.com"))

	name, email, err := repo.GetPayerContact(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "Alex Payer", name)
	assert.Equal(t, "alex@example.com", email)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT name, email FROM users WHERE id = $1`)).
		WithArgs(int64(43)).
		WillReturnError(sql.ErrNoRows)

	_, _, err = repo.GetPayerContact(context.Background(), 43)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}
