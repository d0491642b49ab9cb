// internal/workers/invoicing/invoice-schedule/config.go
package invoiceschedule

import "club-billing-engine/internal/common/config"

type Config struct {
	Currency  string
	DueInDays int
}

func LoadConfig(cfg *config.Config) *Config {
	return &Config{
		Currency:  cfg.Billing.Currency,
		DueInDays: 30,
	}
}
