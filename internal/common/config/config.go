// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Provider      ProviderConfig          `mapstructure:"provider"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Billing       BillingConfig           `mapstructure:"billing"`
	Notifications NotificationConfig      `mapstructure:"notifications"`
	Logging       LoggingConfig           `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ProviderConfig holds Direct-Debit payment provider settings.
type ProviderConfig struct {
	Name          string `mapstructure:"name"`
	BaseURL       string `mapstructure:"base_url"`
	AccessToken   string `mapstructure:"access_token"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	Timeout       int    `mapstructure:"timeout"` // milliseconds
}

// WorkerConfig holds the core settings applicable to every scheduled worker.
type WorkerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Cadence string `mapstructure:"cadence"` // cron expression
	Timeout int    `mapstructure:"timeout"` // milliseconds per run, 0 disables cancellation
}

// BillingConfig holds billing policy knobs shared by the billing workers.
type BillingConfig struct {
	Currency        string `mapstructure:"currency"`
	MaxRetries      int    `mapstructure:"max_retries"`
	RetryDays       []int  `mapstructure:"retry_days"`
	AdvisoryLockTTL int    `mapstructure:"advisory_lock_ttl"` // seconds, 0 disables fleet locks
}

// NotificationConfig holds settings for outbound email.
type NotificationConfig struct {
	Email struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
	} `mapstructure:"email"`
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
