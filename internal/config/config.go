// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Payment gateway settings
	PaystackSecretKey  string // Required, also signs incoming webhooks
	PaystackBaseURL    string
	PaymentCallbackURL string // Browser redirect after checkout (optional)

	// Wallet settings
	Currency  string // ISO currency code, amounts are stored in minor units
	MinTopup  int64  // Smallest topup the gateway accepts, in minor units
	MaxAdjust int64  // Largest single admin adjustment, in minor units

	// Security
	AdminSecret  string // Admin API secret
	RateLimitRPS int

	// Observability
	OTLPEndpoint string // OTLP gRPC collector; tracing is a no-op when empty
}

const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultPaystackBaseURL = "https://api.paystack.co"
	DefaultCurrency        = "NGN"
	DefaultMinTopup        = 10000    // 100 NGN in kobo
	DefaultMaxAdjust       = 10000000 // 100,000 NGN in kobo
	DefaultRateLimit       = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:        os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		PaystackSecretKey:  os.Getenv("PAYSTACK_SECRET_KEY"),
		PaystackBaseURL:    getEnv("PAYSTACK_BASE_URL", DefaultPaystackBaseURL),
		PaymentCallbackURL: os.Getenv("PAYMENT_CALLBACK_URL"),
		Currency:           getEnv("CURRENCY", DefaultCurrency),
		MinTopup:           getEnvInt64("MIN_TOPUP", DefaultMinTopup),
		MaxAdjust:          getEnvInt64("MAX_ADJUST", DefaultMaxAdjust),
		AdminSecret:        os.Getenv("ADMIN_SECRET"),
		RateLimitRPS:       int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.PaystackSecretKey == "" {
		return fmt.Errorf("PAYSTACK_SECRET_KEY is required")
	}

	if c.MinTopup <= 0 {
		return fmt.Errorf("MIN_TOPUP must be positive")
	}

	if len(c.Currency) != 3 {
		return fmt.Errorf("CURRENCY must be a 3-letter ISO code")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}
