// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	Port     int
	LogLevel string
	DevMode  bool

	// Market session window (local time, weekdays only)
	MarketOpenHour    int
	MarketOpenMinute  int
	MarketCloseHour   int
	MarketCloseMinute int

	// Tick tuning
	TickWorkers    int           // Parallel per-company price computations
	PersistTimeout time.Duration // Per persistence call
	RetryAttempts  int           // Bounded retries within a tick
	RetryDelay     time.Duration // Initial retry backoff delay

	// News tick tuning
	NewsCompaniesPerTick int // Companies receiving a generated event per news tick
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("ENGINE_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("ENGINE_PORT", 8010),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		MarketOpenHour:    getEnvAsInt("MARKET_OPEN_HOUR", 9),
		MarketOpenMinute:  getEnvAsInt("MARKET_OPEN_MINUTE", 0),
		MarketCloseHour:   getEnvAsInt("MARKET_CLOSE_HOUR", 15),
		MarketCloseMinute: getEnvAsInt("MARKET_CLOSE_MINUTE", 30),

		TickWorkers:    getEnvAsInt("TICK_WORKERS", 4),
		PersistTimeout: time.Duration(getEnvAsInt("PERSIST_TIMEOUT_MS", 5000)) * time.Millisecond,
		RetryAttempts:  getEnvAsInt("RETRY_ATTEMPTS", 3),
		RetryDelay:     time.Duration(getEnvAsInt("RETRY_DELAY_MS", 100)) * time.Millisecond,

		NewsCompaniesPerTick: getEnvAsInt("NEWS_COMPANIES_PER_TICK", 3),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present and coherent
func (c *Config) Validate() error {
	if c.TickWorkers < 1 {
		return fmt.Errorf("TICK_WORKERS must be at least 1, got %d", c.TickWorkers)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("RETRY_ATTEMPTS must be at least 1, got %d", c.RetryAttempts)
	}

	openMin := c.MarketOpenHour*60 + c.MarketOpenMinute
	closeMin := c.MarketCloseHour*60 + c.MarketCloseMinute
	if openMin >= closeMin {
		return fmt.Errorf("market open %02d:%02d must be before close %02d:%02d",
			c.MarketOpenHour, c.MarketOpenMinute, c.MarketCloseHour, c.MarketCloseMinute)
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

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
