// Package webhook ingests provider event deliveries. Every event lands in an
// append-only log keyed by (provider, event_id), then routes through the same
// transition applier the polling reconciler uses.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"club-billing-engine/internal/common/logger"
	"club-billing-engine/internal/reconcile"
	"club-billing-engine/internal/store"
)

// ErrInvalidSignature is returned when the delivery's HMAC does not match the
// shared webhook secret. The events are still logged, flagged invalid.
var ErrInvalidSignature = errors.New("webhook signature mismatch")

// Event is one entry of a provider delivery. The action carries the new
// resource status in the provider's vocabulary.
type Event struct {
	ID           string `json:"id"`
	ResourceType string `json:"resource_type"`
	Action       string `json:"action"`
	Links        struct {
		Mandate string `json:"mandate"`
		Payment string `json:"payment"`
	} `json:"links"`
}

type deliveryBody struct {
	Events []Event `json:"events"`
}

// Result summarizes one processed delivery.
type Result struct {
	Received   int
	Duplicates int
	Applied    int
}

type Ingestor struct {
	webhooks *store.WebhookRepo
	mandates *store.MandateRepo
	payments *store.PaymentRepo
	applier  *reconcile.Applier
	provider string
	secret   string
	logger   logger.Logger
	now      func() time.Time
}

func NewIngestor(st *store.Store, applier *reconcile.Applier, providerName, secret string, log logger.Logger) *Ingestor {
	return &Ingestor{
		webhooks: st.Webhooks,
		mandates: st.Mandates,
		payments: st.Payments,
		applier:  applier,
		provider: providerName,
		secret:   secret,
		logger:   log,
		now:      time.Now,
	}
}

// SetNowFunc overrides the clock, for tests.
func (i *Ingestor) SetNowFunc(now func() time.Time) {
	i.now = now
}

// VerifySignature checks the hex-encoded HMAC-SHA256 of the raw body against
// the shared secret, in constant time.
func VerifySignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Ingest logs and processes one delivery. Duplicate events (same provider and
// event id) insert nothing and are skipped; events from a delivery with a bad
// signature are logged with signature_valid=false and never processed, and
// the call returns ErrInvalidSignature.
func (i *Ingestor) Ingest(ctx context.Context, body []byte, signature string) (*Result, error) {
	valid := VerifySignature(i.secret, body, signature)

	var delivery deliveryBody
	if err := json.Unmarshal(body, &delivery); err != nil {
		return nil, fmt.Errorf("malformed webhook body: %w", err)
	}

	res := &Result{Received: len(delivery.Events)}
	receivedAt := i.now().UTC()

	for _, event := range delivery.Events {
		payload, err := json.Marshal(event)
		if err != nil {
			return res, err
		}
		logID, inserted, err := i.webhooks.Insert(ctx, i.provider, event.ID,
			event.ResourceType, resourceID(event), event.Action, payload, valid, receivedAt)
		if err != nil {
			return res, err
		}
		if !inserted {
			res.Duplicates++
			continue
		}
		if !valid {
			continue
		}

		applied, err := i.process(ctx, event)
		if err != nil {
			// Leave the row unprocessed; a redelivery is a duplicate, so the
			// polling reconciler is the fallback here.
			i.logger.Error("failed to process webhook event", map[string]interface{}{
				"eventId":      event.ID,
				"resourceType": event.ResourceType,
				"error":        err.Error(),
			})
			continue
		}
		if applied {
			res.Applied++
		}
		if err := i.webhooks.MarkProcessed(ctx, logID); err != nil {
			i.logger.Error("failed to mark webhook event processed", map[string]interface{}{
				"eventId": event.ID,
				"error":   err.Error(),
			})
		}
	}

	if !valid {
		return res, ErrInvalidSignature
	}
	return res, nil
}

func (i *Ingestor) process(ctx context.Context, event Event) (bool, error) {
	switch event.ResourceType {
	case "mandates":
		mandate, err := i.mandates.GetByProviderID(ctx, i.provider, event.Links.Mandate)
		if errors.Is(err, store.ErrNotFound) {
			i.logger.Warn("webhook references unknown mandate", map[string]interface{}{
				"eventId":           event.ID,
				"providerMandateId": event.Links.Mandate,
			})
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return i.applier.ApplyMandateTransition(ctx, mandate, event.Action, reconcile.SourceWebhook)

	case "payments":
		payment, err := i.payments.GetByProviderPaymentID(ctx, i.provider, event.Links.Payment)
		if errors.Is(err, store.ErrNotFound) {
			i.logger.Warn("webhook references unknown payment", map[string]interface{}{
				"eventId":           event.ID,
				"providerPaymentId": event.Links.Payment,
			})
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return i.applier.ApplyPaymentTransition(ctx, payment, event.Action, reconcile.SourceWebhook)

	default:
		i.logger.Debug("ignoring webhook event for unhandled resource type", map[string]interface{}{
			"eventId":      event.ID,
			"resourceType": event.ResourceType,
		})
		return false, nil
	}
}

func resourceID(event Event) string {
	switch event.ResourceType {
	case "mandates":
		return event.Links.Mandate
	case "payments":
		return event.Links.Payment
	default:
		return ""
	}
}
