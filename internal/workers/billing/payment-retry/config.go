// internal/workers/billing/payment-retry/config.go
package paymentretry

import "club-billing-engine/internal/common/config"

type Config struct {
	MaxRetries int
	RetryDays  []int
	Currency   string
}

func LoadConfig(cfg *config.Config) *Config {
	return &Config{
		MaxRetries: cfg.Billing.MaxRetries,
		RetryDays:  cfg.Billing.RetryDays,
		Currency:   cfg.Billing.Currency,
	}
}

// BackoffDays returns the wait required before attempt number retryCount+1.
// Past the end of the table, the last entry applies.
func (c *Config) BackoffDays(retryCount int) int {
	if len(c.RetryDays) == 0 {
		return 0
	}
	if retryCount >= len(c.RetryDays) {
		return c.RetryDays[len(c.RetryDays)-1]
	}
	return c.RetryDays[retryCount]
}
