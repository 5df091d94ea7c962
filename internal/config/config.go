// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir   string // Base directory for alerts.db (always absolute)
	LogLevel  string
	LogPretty bool
	Port      int
	DevMode   bool

	Provider ProviderConfig
	Monitor  MonitorConfig
	Archive  ArchiveConfig
}

// ProviderConfig configures the portfolio valuation / AI intelligence API client
type ProviderConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
}

// MonitorConfig configures the alert monitor
type MonitorConfig struct {
	Interval          time.Duration
	Workers           int
	CheckTimeout      time.Duration
	AutoStart         bool
	DefaultPortfolios []string
	DedupTTL          time.Duration
	HistoryCapacity   int
	Persistence       bool // Persist alert history and snapshots to alerts.db
}

// ArchiveConfig configures the optional daily upload of alert history to S3-compatible storage.
// Archiving is disabled when Bucket is empty.
type ArchiveConfig struct {
	Bucket          string
	Prefix          string
	Endpoint        string // Custom endpoint (e.g. Cloudflare R2); empty uses AWS
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Schedule        string
	RetentionDays   int // 0 keeps every archive
}

// Enabled reports whether history archiving is configured
func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir, err := filepath.Abs(getEnv("DATA_DIR", "./data"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	cfg := &Config{
		DataDir:   dataDir,
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", true),
		Port:      getEnvAsInt("PORT", 8080),
		DevMode:   getEnvAsBool("DEV_MODE", false),
		Provider: ProviderConfig{
			BaseURL:    strings.TrimRight(getEnv("PORTFOLIO_API_URL", "http://localhost:8000/api"), "/"),
			Timeout:    getEnvAsDuration("PROVIDER_TIMEOUT", 10*time.Second),
			RatePerSec: getEnvAsFloat("PROVIDER_RATE_PER_SEC", 2),
			Burst:      getEnvAsInt("PROVIDER_BURST", 4),
		},
		Monitor: MonitorConfig{
			Interval:          getEnvAsDuration("MONITOR_INTERVAL", 60*time.Second),
			Workers:           getEnvAsInt("MONITOR_WORKERS", 4),
			CheckTimeout:      getEnvAsDuration("CHECK_TIMEOUT", 30*time.Second),
			AutoStart:         getEnvAsBool("MONITOR_AUTOSTART", true),
			DefaultPortfolios: getEnvAsList("DEFAULT_PORTFOLIOS", []string{"default"}),
			DedupTTL:          getEnvAsDuration("DEDUP_TTL", 24*time.Hour),
			HistoryCapacity:   getEnvAsInt("ALERT_HISTORY_CAPACITY", 1000),
			Persistence:       getEnvAsBool("ALERT_PERSISTENCE", false),
		},
		Archive: ArchiveConfig{
			Bucket:          getEnv("ARCHIVE_BUCKET", ""),
			Prefix:          strings.Trim(getEnv("ARCHIVE_PREFIX", "alert-history"), "/"),
			Endpoint:        getEnv("ARCHIVE_ENDPOINT", ""),
			Region:          getEnv("ARCHIVE_REGION", "auto"),
			AccessKeyID:     getEnv("ARCHIVE_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("ARCHIVE_SECRET_ACCESS_KEY", ""),
			Schedule:        getEnv("ARCHIVE_SCHEDULE", "@daily"),
			RetentionDays:   getEnvAsInt("ARCHIVE_RETENTION_DAYS", 30),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Monitor.Persistence {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	u, err := url.Parse(c.Provider.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid PORTFOLIO_API_URL: %q", c.Provider.BaseURL)
	}
	if c.Provider.RatePerSec <= 0 {
		return fmt.Errorf("PROVIDER_RATE_PER_SEC must be positive")
	}
	if c.Provider.Burst <= 0 {
		return fmt.Errorf("PROVIDER_BURST must be positive")
	}

	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("MONITOR_INTERVAL must be positive")
	}
	if c.Monitor.Workers <= 0 {
		return fmt.Errorf("MONITOR_WORKERS must be positive")
	}
	if c.Monitor.CheckTimeout <= 0 {
		return fmt.Errorf("CHECK_TIMEOUT must be positive")
	}
	if c.Monitor.HistoryCapacity <= 0 {
		return fmt.Errorf("ALERT_HISTORY_CAPACITY must be positive")
	}
	if c.Monitor.DedupTTL <= 0 {
		return fmt.Errorf("DEDUP_TTL must be positive")
	}

	if c.Archive.Enabled() {
		// Static credentials must come as a pair; both empty falls back to the default AWS chain
		if (c.Archive.AccessKeyID == "") != (c.Archive.SecretAccessKey == "") {
			return fmt.Errorf("ARCHIVE_ACCESS_KEY_ID and ARCHIVE_SECRET_ACCESS_KEY must be set together")
		}
		if c.Archive.RetentionDays < 0 {
			return fmt.Errorf("ARCHIVE_RETENTION_DAYS must not be negative")
		}
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
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

// getEnvAsDuration accepts Go durations ("90s") or a bare number of milliseconds
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
