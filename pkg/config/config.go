package config

import (
	"fmt"
	"time"
)

// Config holds runtime configuration for the stalk bot.
type Config struct {
	AppEnv    string          `mapstructure:"app_env"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	Bot       BotConfig       `mapstructure:"bot"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Referral  ReferralConfig  `mapstructure:"referral"`
	Pricing   PricingConfig   `mapstructure:"pricing"`
	Profiles  ProfilesConfig  `mapstructure:"profiles"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
}

// LoggerConfig controls slog output.
type LoggerConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json text"`
	// File enables a rotating log file in addition to stdout.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// SentryConfig toggles error reporting.
type SentryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn" validate:"required_if=Enabled true"`
}

// BotConfig describes the Telegram connection.
type BotConfig struct {
	Token    string        `mapstructure:"token" validate:"required"`
	Username string        `mapstructure:"username"`
	Mode     string        `mapstructure:"mode" validate:"omitempty,oneof=polling webhook"`
	Timeout  time.Duration `mapstructure:"timeout"`

	// Webhook settings are only read in webhook mode.
	WebhookListen string `mapstructure:"webhook_listen"`
	WebhookURL    string `mapstructure:"webhook_url" validate:"required_if=Mode webhook"`
}

// ServerConfig configures the HTTP server exposing health and metrics.
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig configures the ledger storage backend.
type DatabaseConfig struct {
	Driver       string        `mapstructure:"driver" validate:"omitempty,oneof=postgres memory"`
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	User         string        `mapstructure:"user" validate:"required_if=Driver postgres"`
	Password     string        `mapstructure:"password"`
	Name         string        `mapstructure:"name" validate:"required_if=Driver postgres"`
	SSLMode      string        `mapstructure:"sslmode"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
	// Migrations overrides the embedded schema with a directory on disk.
	Migrations string `mapstructure:"migrations"`
}

// RedisConfig defines connection parameters for Redis.
type RedisConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	PoolTimeout     time.Duration `mapstructure:"pool_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
}

// RateLimitRule is a limit per window, e.g. {limit: 20, window: "1m"}.
type RateLimitRule struct {
	Limit  int    `mapstructure:"limit"`
	Window string `mapstructure:"window"`
}

// CommandRateLimits holds per-action rules.
type CommandRateLimits struct {
	Reveal   RateLimitRule `mapstructure:"reveal"`
	Referral RateLimitRule `mapstructure:"referral"`
	Payment  RateLimitRule `mapstructure:"payment"`
}

// RateLimitConfig groups the rate limiting settings.
type RateLimitConfig struct {
	Global    RateLimitRule     `mapstructure:"global"`
	PerUser   RateLimitRule     `mapstructure:"per_user"`
	Commands  CommandRateLimits `mapstructure:"commands"`
	Whitelist []int64           `mapstructure:"whitelist"`
}

// AdminConfig holds the credentials accepted by the admin login flow.
type AdminConfig struct {
	Username string `mapstructure:"username" validate:"required"`
	Password string `mapstructure:"password" validate:"required"`
}

// ReferralConfig drives the referral reward policy.
type ReferralConfig struct {
	Threshold int           `mapstructure:"threshold" validate:"gte=0"`
	Reward    time.Duration `mapstructure:"reward"`
}

// PricePlan is one entry of the pricing menu.
type PricePlan struct {
	Key     string        `mapstructure:"key" validate:"required"`
	PriceTL float64       `mapstructure:"price_tl" validate:"gt=0"`
	Period  time.Duration `mapstructure:"period"`
}

// PricingConfig lists premium plans and the TL/USD rate used for display.
type PricingConfig struct {
	ExchangeRate   float64     `mapstructure:"exchange_rate" validate:"gt=0"`
	Plans          []PricePlan `mapstructure:"plans" validate:"dive"`
	PaymentMethods []string    `mapstructure:"payment_methods"`
}

// ProfilesConfig configures the fabricated profile generator.
type ProfilesConfig struct {
	Count int `mapstructure:"count" validate:"gte=0"`
}

// JobsConfig configures the asynq worker and scheduler.
type JobsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Concurrency int    `mapstructure:"concurrency"`
	StatsCron   string `mapstructure:"stats_cron"`
}

// GetDBConnectionString returns PostgreSQL DSN based on config values.
func (c *Config) GetDBConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

func (c *Config) applyDefaults() {
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "json"
	}
	if c.Bot.Mode == "" {
		c.Bot.Mode = "polling"
	}
	if c.Bot.Timeout <= 0 {
		c.Bot.Timeout = 10 * time.Second
	}
	if c.Bot.WebhookListen == "" {
		c.Bot.WebhookListen = ":8443"
	}
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == "" {
		c.Database.Port = "5432"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.QueryTimeout <= 0 {
		c.Database.QueryTimeout = 3 * time.Second
	}
	if c.Redis.CacheTTL <= 0 {
		c.Redis.CacheTTL = 24 * time.Hour
	}
	if c.Referral.Threshold == 0 {
		c.Referral.Threshold = 15
	}
	if c.Referral.Reward <= 0 {
		c.Referral.Reward = 7 * 24 * time.Hour
	}
	if c.Pricing.ExchangeRate == 0 {
		c.Pricing.ExchangeRate = 30
	}
	if c.Profiles.Count <= 0 {
		c.Profiles.Count = 5
	}
	if c.Jobs.Concurrency <= 0 {
		c.Jobs.Concurrency = 10
	}
	if c.Jobs.StatsCron == "" {
		c.Jobs.StatsCron = "*/5 * * * *"
	}
}
