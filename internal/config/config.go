// Package config loads the process configuration from the environment once
// at startup. A local .env file is honored for development; real deployments
// set the variables directly.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	// Port is the HTTP listen port.
	Port string

	// WebhookSecret signs inbound decision webhooks. Empty disables
	// signature verification.
	WebhookSecret string

	// Bybit credentials. Both empty selects the acknowledge-only gateway:
	// decisions are validated and ledgered but no orders are placed.
	BybitAPIKey    string
	BybitAPISecret string
	BybitTestnet   bool

	// DatabaseURL is the Postgres DSN for the ledger. Empty falls back to
	// the in-memory store.
	DatabaseURL string

	// RedisURL enables the read-through trade cache when set.
	RedisURL string

	// MaxNotionalUSD caps position_usd per trade. Zero disables the cap.
	MaxNotionalUSD decimal.Decimal

	// MaxAttempts bounds per-order gateway submission attempts.
	MaxAttempts int
}

// Load reads configuration from the environment, applying defaults.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        "8000",
		MaxAttempts: 3,
	}
	cfg.loadFromEnv()
	return cfg
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv("PORT"); val != "" {
		c.Port = val
	}
	c.WebhookSecret = os.Getenv("WEBHOOK_SECRET")
	c.BybitAPIKey = os.Getenv("BYBIT_API_KEY")
	c.BybitAPISecret = os.Getenv("BYBIT_API_SECRET")
	c.DatabaseURL = os.Getenv("DATABASE_URL")
	c.RedisURL = os.Getenv("REDIS_URL")

	if val := os.Getenv("BYBIT_TESTNET"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			c.BybitTestnet = b
		}
	}
	if val := os.Getenv("MAX_NOTIONAL_USD"); val != "" {
		if v, err := decimal.NewFromString(val); err == nil {
			c.MaxNotionalUSD = v
		}
	}
	if val := os.Getenv("MAX_ORDER_ATTEMPTS"); val != "" {
		if v, err := strconv.Atoi(val); err == nil && v > 0 {
			c.MaxAttempts = v
		}
	}
}

// LiveTrading reports whether exchange credentials are configured.
func (c *Config) LiveTrading() bool {
	return c.BybitAPIKey != "" && c.BybitAPISecret != ""
}
