package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Infrastructure
	SQLitePath    string
	HTTPAddr      string
	MetricsAddr   string
	RedisAddr     string
	RedisPassword string

	// Exchange client
	ExchangeBaseURL   string
	RequestIntervalMS int
	HTTPTimeoutSec    int

	// Ingestion
	BackfillDays        int
	BackfillConcurrency int
	CollectConcurrency  int

	// Symbol universe
	ExcludeSymbols string
	QuoteSuffix    string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		SQLitePath:    getEnv("SQLITE_PATH", "data/altindex.db"),
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		ExchangeBaseURL:   getEnv("EXCHANGE_BASE_URL", "https://fapi.binance.com"),
		RequestIntervalMS: getEnvInt("REQUEST_INTERVAL_MS", 300),
		HTTPTimeoutSec:    getEnvInt("HTTP_TIMEOUT_SEC", 10),

		BackfillDays:        getEnvInt("BACKFILL_DAYS", 7),
		BackfillConcurrency: getEnvInt("BACKFILL_CONCURRENCY", 5),
		CollectConcurrency:  getEnvInt("COLLECT_CONCURRENCY", 8),

		// BTC and ETH are excluded so the index measures alt-coin breadth.
		ExcludeSymbols: getEnv("EXCLUDE_SYMBOLS", "BTCUSDT,ETHUSDT"),
		QuoteSuffix:    getEnv("QUOTE_SUFFIX", "USDT"),
	}
}

// ParseExcludeSymbols parses the ExcludeSymbols list into an uppercase set.
func (c *Config) ParseExcludeSymbols() map[string]struct{} {
	set := make(map[string]struct{})
	for _, p := range strings.Split(c.ExcludeSymbols, ",") {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		set[p] = struct{}{}
	}
	return set
}

// RequestInterval returns the per-page exchange throttle as a duration.
func (c *Config) RequestInterval() time.Duration {
	return time.Duration(c.RequestIntervalMS) * time.Millisecond
}

// HTTPTimeout returns the outbound HTTP timeout as a duration.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSec) * time.Second
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid int for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
