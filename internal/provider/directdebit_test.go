package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMandateParsesChargeDate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mandates/MD123", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"mandate":{"id":"MD123","status":"active","next_possible_charge_date":"2026-02-01"}}`))
	}))
	defer srv.Close()

	client := NewDirectDebitClient(srv.URL, "test-token", 5*time.Second)
	m, err := client.GetMandate(context.Background(), "MD123")
	require.NoError(t, err)
	assert.Equal(t, "MD123", m.ProviderMandateID)
	assert.Equal(t, "active", m.Status)
	require.NotNil(t, m.NextPossibleChargeDate)
	assert.Equal(t, time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC), *m.NextPossibleChargeDate)
}

func TestCreatePaymentSendsMinorUnitsAndIdempotencyKey(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sub-1-2026-01-15", r.Header.Get("Idempotency-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"payment":{"id":"PM100","status":"submitted"}}`))
	}))
	defer srv.Close()

	client := NewDirectDebitClient(srv.URL, "test-token", 5*time.Second)
	result, err := client.CreatePayment(context.Background(), &ChargeRequest{
		ProviderMandateID: "MD123",
		Amount:            decimal.RequireFromString("25.50"),
		Currency:          "GBP",
		Description:       "Membership fees January 2026",
		IdempotencyKey:    "sub-1-2026-01-15",
	})
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, "PM100", result.ProviderPaymentID)
	assert.Equal(t, "submitted", result.Status)

	payment := captured["payment"].(map[string]interface{})
	assert.Equal(t, float64(2550), payment["amount"])
	assert.Equal(t, "GBP", payment["currency"])
}

func TestCreatePaymentReturnsStructuredFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"payment":{"id":"PM101","status":"failed"},
			"error":{"code":"insufficient_funds","type":"bank_account","message":"Insufficient funds"}}`))
	}))
	defer srv.Close()

	client := NewDirectDebitClient(srv.URL, "test-token", 5*time.Second)
	result, err := client.CreatePayment(context.Background(), &ChargeRequest{
		ProviderMandateID: "MD123",
		Amount:            decimal.NewFromInt(25),
		Currency:          "GBP",
	})
	require.NoError(t, err)
	assert.False(t, result.Succeeded())
	require.NotNil(t, result.Failure)
	assert.Equal(t, "insufficient_funds", result.Failure.Code)
	assert.Equal(t, "Insufficient funds", result.Failure.Details)
}

func TestCreateSubscriptionRejectsNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":{"message":"mandate is cancelled"}}`))
	}))
	defer srv.Close()

	client := NewDirectDebitClient(srv.URL, "test-token", 5*time.Second)
	_, err := client.CreateSubscription(context.Background(), &SubscriptionRequest{
		ProviderMandateID: "MD999",
		Amount:            decimal.NewFromInt(25),
		Currency:          "GBP",
		IntervalUnit:      "monthly",
		DayOfMonth:        15,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 422")
}
