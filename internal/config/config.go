// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Network settings
	Network      string   // "mainnet" or "devnet"
	RPCEndpoints []string // Solana JSON-RPC endpoints, tried round-robin

	// Payment settings
	RecipientWallet string // Base58 wallet that must receive the USDC transfer
	USDCMint        string // SPL token mint for the payment asset
	MaxTxAge        time.Duration

	// Replay cache
	CacheBackend    string // "memory" or "redis"
	RedisURL        string
	CacheTTL        time.Duration
	CacheFailClosed bool // treat cache backend errors as verification failure

	// RPC scheduling
	RetryMax       int
	RetryBaseDelay time.Duration
	RateTokens     int
	RateRefill     time.Duration
	MaxConcurrent  int
	MinSpacing     time.Duration
	ProbeInterval  time.Duration
	VerifyTimeout  time.Duration

	// Alerting
	AlertFailureRate float64
	AlertRPCErrors   int

	// Logging
	LogLevel  string
	LogFormat string
}

// Network defaults.
const (
	DefaultNetwork       = "devnet"
	DefaultDevnetRPC     = "https://api.devnet.solana.com"
	DefaultMainnetRPC    = "https://api.mainnet-beta.solana.com"
	DefaultUSDCMainnet   = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	DefaultUSDCDevnet    = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
	DefaultCacheTTL      = 3600 * time.Second
	DefaultMaxTxAge      = 300 * time.Second
	DefaultVerifyTimeout = 60 * time.Second
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	network := getEnv("SOLANA_NETWORK", DefaultNetwork)

	defaultRPC := DefaultDevnetRPC
	defaultMint := DefaultUSDCDevnet
	if network == "mainnet" {
		defaultRPC = DefaultMainnetRPC
		defaultMint = DefaultUSDCMainnet
	}

	cfg := &Config{
		Network:          network,
		RPCEndpoints:     splitList(getEnv("RPC_ENDPOINTS", defaultRPC)),
		RecipientWallet:  os.Getenv("RECIPIENT_WALLET"), // Required, no default
		USDCMint:         getEnv("USDC_MINT", defaultMint),
		MaxTxAge:         getEnvSeconds("MAX_TX_AGE_SECONDS", DefaultMaxTxAge),
		CacheBackend:     getEnv("CACHE_BACKEND", "memory"),
		RedisURL:         os.Getenv("REDIS_URL"),
		CacheTTL:         getEnvSeconds("CACHE_TTL_SECONDS", DefaultCacheTTL),
		CacheFailClosed:  getEnvBool("CACHE_FAIL_CLOSED", false),
		RetryMax:         getEnvInt("RETRY_MAX", 3),
		RetryBaseDelay:   getEnvMillis("RETRY_BASE_DELAY_MS", time.Second),
		RateTokens:       getEnvInt("RATE_TOKENS", 50),
		RateRefill:       getEnvMillis("RATE_REFILL_MS", time.Second),
		MaxConcurrent:    getEnvInt("RATE_MAX_CONCURRENT", 10),
		MinSpacing:       getEnvMillis("RATE_MIN_SPACING_MS", 20*time.Millisecond),
		ProbeInterval:    getEnvSeconds("PROBE_INTERVAL_SECONDS", 30*time.Second),
		VerifyTimeout:    getEnvSeconds("VERIFY_TIMEOUT_SECONDS", DefaultVerifyTimeout),
		AlertFailureRate: getEnvFloat("ALERT_FAILURE_RATE", 0.10),
		AlertRPCErrors:   getEnvInt("ALERT_RPC_ERRORS", 10),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "text"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.RecipientWallet == "" {
		return fmt.Errorf("RECIPIENT_WALLET is required")
	}
	if len(c.RPCEndpoints) == 0 {
		return fmt.Errorf("RPC_ENDPOINTS must list at least one endpoint")
	}
	if c.Network != "mainnet" && c.Network != "devnet" {
		return fmt.Errorf("SOLANA_NETWORK must be mainnet or devnet, got %q", c.Network)
	}
	if c.CacheBackend != "memory" && c.CacheBackend != "redis" {
		return fmt.Errorf("CACHE_BACKEND must be memory or redis, got %q", c.CacheBackend)
	}
	if c.CacheBackend == "redis" && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when CACHE_BACKEND=redis")
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return time.Duration(i) * time.Second
		}
	}
	return defaultValue
}

func getEnvMillis(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return time.Duration(i) * time.Millisecond
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
