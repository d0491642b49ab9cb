package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Providers bill in minor units.
var hundred = decimal.NewFromInt(100)

// DirectDebitClient talks to the Direct-Debit provider's REST API. It is the
// only place that knows the provider's wire format.
type DirectDebitClient struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
}

func NewDirectDebitClient(baseURL, accessToken string, timeout time.Duration) *DirectDebitClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DirectDebitClient{
		baseURL:     baseURL,
		accessToken: accessToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type mandateEnvelope struct {
	Mandate struct {
		ID                     string `json:"id"`
		Status                 string `json:"status"`
		NextPossibleChargeDate string `json:"next_possible_charge_date"`
	} `json:"mandate"`
}

func (c *DirectDebitClient) GetMandate(ctx context.Context, providerMandateID string) (*Mandate, error) {
	url := fmt.Sprintf("%s/mandates/%s", c.baseURL, providerMandateID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to get mandate (status %d): %s", resp.StatusCode, string(body))
	}

	var env mandateEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	m := &Mandate{
		ProviderMandateID: env.Mandate.ID,
		Status:            env.Mandate.Status,
	}
	if env.Mandate.NextPossibleChargeDate != "" {
		if d, err := time.Parse("2006-01-02", env.Mandate.NextPossibleChargeDate); err == nil {
			m.NextPossibleChargeDate = &d
		}
	}
	return m, nil
}

type subscriptionEnvelope struct {
	Subscription struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"subscription"`
}

func (c *DirectDebitClient) CreateSubscription(ctx context.Context, subReq *SubscriptionRequest) (*SubscriptionResult, error) {
	url := fmt.Sprintf("%s/subscriptions", c.baseURL)

	payload := map[string]interface{}{
		"subscription": map[string]interface{}{
			"links":         map[string]string{"mandate": subReq.ProviderMandateID},
			"amount":        subReq.Amount.Mul(hundred).IntPart(), // provider wants minor units
			"currency":      subReq.Currency,
			"interval_unit": subReq.IntervalUnit,
			"day_of_month":  subReq.DayOfMonth,
			"name":          subReq.Name,
			"metadata":      subReq.Metadata,
		},
	}

	body, err := c.post(ctx, url, payload, "")
	if err != nil {
		return nil, err
	}

	var env subscriptionEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &SubscriptionResult{
		ProviderSubscriptionID: env.Subscription.ID,
		Status:                 env.Subscription.Status,
	}, nil
}

type paymentEnvelope struct {
	Payment struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"payment"`
	Error *struct {
		Code    string `json:"code"`
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *DirectDebitClient) CreatePayment(ctx context.Context, chargeReq *ChargeRequest) (*ChargeResult, error) {
	url := fmt.Sprintf("%s/payments", c.baseURL)

	payload := map[string]interface{}{
		"payment": map[string]interface{}{
			"links":       map[string]string{"mandate": chargeReq.ProviderMandateID},
			"amount":      chargeReq.Amount.Mul(hundred).IntPart(),
			"currency":    chargeReq.Currency,
			"description": chargeReq.Description,
			"metadata":    chargeReq.Metadata,
		},
	}

	body, err := c.post(ctx, url, payload, chargeReq.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	var env paymentEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	result := &ChargeResult{
		ProviderPaymentID: env.Payment.ID,
		Status:            env.Payment.Status,
	}
	if env.Error != nil {
		result.Failure = &ChargeFailure{
			Code:    env.Error.Code,
			Type:    env.Error.Type,
			Details: env.Error.Message,
		}
	}
	return result, nil
}

func (c *DirectDebitClient) post(ctx context.Context, url string, payload interface{}, idempotencyKey string) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider request failed (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}
