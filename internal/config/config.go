// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`
	BaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:3000"`

	// Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Cache (Redis)
	RedisURL string `env:"REDIS_URL,required"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://example.com,https://app.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`

	// Request throttling for API keys and anonymous endpoints
	RateLimitAPIEnabled bool    `env:"RATE_LIMIT_API_ENABLED" envDefault:"true"`
	RateLimitIPRPS      float64 `env:"RATE_LIMIT_IP_RPS" envDefault:"5"`
	RateLimitIPBurst    int     `env:"RATE_LIMIT_IP_BURST" envDefault:"20"`

	// Bearer token verification
	JWTSecret string `env:"JWT_SECRET"`
	JWTIssuer string `env:"JWT_ISSUER"`

	// Plan token allowances
	FreeDailyTokens   int `env:"FREE_DAILY_TOKENS" envDefault:"10"`
	FreeMonthlyTokens int `env:"FREE_MONTHLY_TOKENS" envDefault:"50"`
	ProDailyTokens    int `env:"PRO_DAILY_TOKENS" envDefault:"100"`
	ProMonthlyTokens  int `env:"PRO_MONTHLY_TOKENS" envDefault:"500"`

	// Billing (Stripe). Routes are disabled without a secret key.
	StripeSecretKey     string   `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string   `env:"STRIPE_WEBHOOK_SECRET"`
	StripePriceIDs      []string `env:"STRIPE_PRICE_IDS" envSeparator:","`

	// Report generation. An empty key selects the offline generator.
	GenAIAPIKey string `env:"GENAI_API_KEY"`
	GenAIModel  string `env:"GENAI_MODEL" envDefault:"gemini-2.0-flash"`

	// Literature search
	LiteratureMailto      string        `env:"LITERATURE_MAILTO" envDefault:"research@thesisflow.ai"`
	LiteratureTimeout     time.Duration `env:"LITERATURE_TIMEOUT" envDefault:"6s"`
	LiteratureCacheTTL    time.Duration `env:"LITERATURE_CACHE_TTL" envDefault:"1h"`
	LiteratureHourlyLimit int           `env:"LITERATURE_HOURLY_LIMIT" envDefault:"100"`

	// Usage stream rollup
	UsageStreamEnabled bool `env:"USAGE_STREAM_ENABLED" envDefault:"true"`
	UsageWorkerBatch   int  `env:"USAGE_WORKER_BATCH" envDefault:"100"`

	// Alert webhooks
	AlertsEnabled      bool          `env:"ALERTS_ENABLED" envDefault:"true"`
	AlertsPollInterval time.Duration `env:"ALERTS_POLL_INTERVAL" envDefault:"5s"`
}

// PlanLimits is the daily and monthly token allowance for a plan.
type PlanLimits struct {
	Daily   int
	Monthly int
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// BillingEnabled reports whether Stripe routes should be mounted.
func (c *Config) BillingEnabled() bool {
	return c.StripeSecretKey != ""
}

// LimitsForPlan returns the token allowance for a plan type.
// Anything other than "pro" gets the free allowance.
func (c *Config) LimitsForPlan(plan string) PlanLimits {
	if plan == "pro" {
		return PlanLimits{Daily: c.ProDailyTokens, Monthly: c.ProMonthlyTokens}
	}
	return PlanLimits{Daily: c.FreeDailyTokens, Monthly: c.FreeMonthlyTokens}
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// Validate checks values that env tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	if c.AppPort <= 0 || c.AppPort > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT out of range: %d", c.AppPort))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q", c.LogLevel))
	}

	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("invalid LOG_FORMAT %q", c.LogFormat))
	}

	if c.IsProduction() && c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required in production"))
	}

	if c.FreeDailyTokens < 0 || c.FreeMonthlyTokens < 0 || c.ProDailyTokens < 0 || c.ProMonthlyTokens < 0 {
		errs = append(errs, errors.New("token allowances must not be negative"))
	}

	if c.StripeSecretKey != "" && c.StripeWebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required when billing is enabled"))
	}

	return errors.Join(errs...)
}

// Load parses environment variables and returns a Config.
// Returns an error if required variables are missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
