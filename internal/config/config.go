// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/safeswap/escrowcore/internal/keycodec"
)

// Config holds all application configuration
type Config struct {
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Chain providers
	EsploraURLs   []string // UTXO + balance providers, tried in order
	BalanceURLs   []string // balance-only fallback providers
	BroadcastURLs []string // tx relay endpoints, tried in order

	// Settlement
	FeeWalletAddress string // receives the platform share of payouts

	// Monitor intervals
	ForwardInterval   time.Duration
	ThresholdInterval time.Duration
	SweepInterval     time.Duration

	// Tracing
	OTLPEndpoint string
}

const (
	DefaultEnv       = "development"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"

	DefaultEsploraURLs   = "https://blockstream.info/api,https://mempool.space/api"
	DefaultBalanceURLs   = "https://blockchain.info"
	DefaultBroadcastURLs = "https://blockstream.info/api,https://mempool.space/api"

	DefaultFeeWalletAddress = "bc1q8mcfyyt0hdhsqvv4ly6czz52gyak5zaayw8qa5"

	DefaultForwardInterval   = 30 * time.Second
	DefaultThresholdInterval = 30 * time.Second
	DefaultSweepInterval     = 60 * time.Second
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:         getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		EsploraURLs:       getEnvList("ESPLORA_URLS", DefaultEsploraURLs),
		BalanceURLs:       getEnvList("BALANCE_URLS", DefaultBalanceURLs),
		BroadcastURLs:     getEnvList("BROADCAST_URLS", DefaultBroadcastURLs),
		FeeWalletAddress:  getEnv("FEE_WALLET_ADDRESS", DefaultFeeWalletAddress),
		ForwardInterval:   getEnvDuration("FORWARD_INTERVAL", DefaultForwardInterval),
		ThresholdInterval: getEnvDuration("THRESHOLD_INTERVAL", DefaultThresholdInterval),
		SweepInterval:     getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.FeeWalletAddress == "" {
		return fmt.Errorf("FEE_WALLET_ADDRESS is required")
	}
	if _, err := keycodec.DecodeAddress(c.FeeWalletAddress); err != nil {
		return fmt.Errorf("FEE_WALLET_ADDRESS is not a valid bech32 address: %w", err)
	}
	if len(c.EsploraURLs) == 0 {
		return fmt.Errorf("ESPLORA_URLS is required")
	}
	if len(c.BroadcastURLs) == 0 {
		return fmt.Errorf("BROADCAST_URLS is required")
	}
	if c.ForwardInterval <= 0 || c.ThresholdInterval <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("monitor intervals must be positive")
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

func getEnvList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
