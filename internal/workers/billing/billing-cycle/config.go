// internal/workers/billing/billing-cycle/config.go
package billingcycle

import "club-billing-engine/internal/common/config"

type Config struct {
	Currency     string
	ProviderName string
}

func LoadConfig(cfg *config.Config) *Config {
	return &Config{
		Currency:     cfg.Billing.Currency,
		ProviderName: cfg.Provider.Name,
	}
}
