package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"club-billing-engine/internal/common/logger"
	"club-billing-engine/internal/reconcile"
	"club-billing-engine/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

func sign(body string) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func newTestIngestor(t *testing.T) (*Ingestor, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logger.NewTestLogger(t)
	st := store.New(db)
	ingestor := NewIngestor(st, reconcile.NewApplier(st, log), "gocardless", testSecret, log)
	ingestor.SetNowFunc(func() time.Time {
		return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	})
	return ingestor, mock
}

func mandateRow(status string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "club_id", "parent_id", "provider", "provider_mandate_id",
		"status", "next_possible_charge_date", "created_at", "updated_at",
	}).AddRow(int64(11), int64(1), int64(2), "gocardless", "MD000123",
		status, nil, time.Now(), time.Now())
}

func TestIngestAppliesMandateCancellation(t *testing.T) {
	ingestor, mock := newTestIngestor(t)

	body := `{"events":[{"id":"EV001","resource_type":"mandates","action":"cancelled","links":{"mandate":"MD000123"}}]}`

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO webhook_events`)).
		WithArgs("gocardless", "EV001", "mandates", "MD000123", "cancelled", sqlmock.AnyArg(), true, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))
	mock.ExpectQuery(`SELECT .+ FROM payment_mandates WHERE provider = \$1 AND provider_mandate_id = \$2`).
		WithArgs("gocardless", "MD000123").
		WillReturnRows(mandateRow("submitted"))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE payment_mandates`)).
		WithArgs(int64(11), "submitted", "cancelled").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE webhook_events SET processed = true`)).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := ingestor.Ingest(context.Background(), []byte(body), sign(body))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Received)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, 0, res.Duplicates)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestActivationLinksPendingSubscriptions(t *testing.T) {
	ingestor, mock := newTestIngestor(t)

	body := `{"events":[{"id":"EV002","resource_type":"mandates","action":"active","links":{"mandate":"MD000123"}}]}`

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO webhook_events`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(6)))
	mock.ExpectQuery(`SELECT .+ FROM payment_mandates WHERE provider = \$1`).
		WillReturnRows(mandateRow("submitted"))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE payment_mandates`)).
		WithArgs(int64(11), "submitted", "active").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Pending subscriptions for (parent 2, club 1) are linked on activation.
	mock.ExpectQuery(`SELECT .+ FROM subscriptions`).
		WithArgs(int64(2), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE webhook_events SET processed = true`)).
		WithArgs(int64(6)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := ingestor.Ingest(context.Background(), []byte(body), sign(body))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestSkipsDuplicateDelivery(t *testing.T) {
	ingestor, mock := newTestIngestor(t)

	body := `{"events":[{"id":"EV001","resource_type":"mandates","action":"cancelled","links":{"mandate":"MD000123"}}]}`

	// ON CONFLICT DO NOTHING returns no row for the duplicate, so nothing
	// else is touched.
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO webhook_events`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	res, err := ingestor.Ingest(context.Background(), []byte(body), sign(body))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 0, res.Applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestLogsButNeverProcessesBadSignature(t *testing.T) {
	ingestor, mock := newTestIngestor(t)

	body := `{"events":[{"id":"EV003","resource_type":"mandates","action":"active","links":{"mandate":"MD000123"}}]}`

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO webhook_events`)).
		WithArgs("gocardless", "EV003", "mandates", "MD000123", "active", sqlmock.AnyArg(), false, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	res, err := ingestor.Ingest(context.Background(), []byte(body), "not-the-signature")
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Equal(t, 0, res.Applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestIgnoresUnknownResourceType(t *testing.T) {
	ingestor, mock := newTestIngestor(t)

	body := `{"events":[{"id":"EV004","resource_type":"payouts","action":"paid","links":{}}]}`

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO webhook_events`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(8)))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE webhook_events SET processed = true`)).
		WithArgs(int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := ingestor.Ingest(context.Background(), []byte(body), sign(body))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"events":[]}`)
	assert.True(t, VerifySignature(testSecret, body, sign(string(body))))
	assert.False(t, VerifySignature(testSecret, body, "deadbeef"))
	assert.False(t, VerifySignature("other-secret", body, sign(string(body))))
}

func TestHandlerRejectsBadSignatureAndWrongMethod(t *testing.T) {
	ingestor, mock := newTestIngestor(t)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO webhook_events`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))

	handler := NewHandler(ingestor, logger.NewTestLogger(t))

	body := `{"events":[{"id":"EV005","resource_type":"mandates","action":"active","links":{"mandate":"MD000123"}}]}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/gocardless", strings.NewReader(body))
	req.Header.Set("Webhook-Signature", "wrong")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/webhooks/gocardless", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
