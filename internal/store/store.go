// Package store holds the postgres repositories for the billing engine. All
// queries go through database/sql with lib/pq; every method takes a context.
package store

import "database/sql"

// Store aggregates the per-table repositories over one connection pool.
type Store struct {
	Subscriptions *SubscriptionRepo
	Mandates      *MandateRepo
	Payments      *PaymentRepo
	Invoices      *InvoiceRepo
	Events        *EventRepo
	Executions    *ExecutionRepo
	Webhooks      *WebhookRepo
}

func New(db *sql.DB) *Store {
	return &Store{
		Subscriptions: NewSubscriptionRepo(db),
		Mandates:      NewMandateRepo(db),
		Payments:      NewPaymentRepo(db),
		Invoices:      NewInvoiceRepo(db),
		Events:        NewEventRepo(db),
		Executions:    NewExecutionRepo(db),
		Webhooks:      NewWebhookRepo(db),
	}
}
