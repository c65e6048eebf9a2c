package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Fetcher provider identifiers.
const (
	ProviderApify          = "apify"
	ProviderLobstr         = "lobstr"
	ProviderScrapeCreators = "scrapecreators"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port  string
	Debug bool

	// Persistence
	DatabaseURL string
	RedisURL    string

	// Provider selection and credentials
	FetcherProvider      string // "apify", "lobstr" or "scrapecreators"
	ApifyToken           string
	ApifyActorID         string
	LobstrAPIKey         string
	LobstrCrawlerHash    string
	ScrapeCreatorsAPIKey string

	// Monitoring cadence
	MonitorInterval time.Duration
	ContentLookback time.Duration
	ResultsLimit    int

	// Operating-hours gate: cycles waking before StartHour (in TimeZone) are
	// skipped. -1 disables the gate.
	StartHour int
	TimeZone  string

	// Trend detection thresholds
	TrendGrowthThreshold float64
	TrendMaxPostAge      time.Duration
	TrendMinSnapshots    int

	// Notification configuration
	TelegramBotToken string
	DigestEmail      string
	SMTPHost         string
	SMTPPort         int
	SMTPUsername     string
	SMTPPassword     string

	// Raw payload archive (optional)
	StorageAccount   string
	StorageContainer string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:  getEnv("PORT", "8080"),
		Debug: getBoolEnv("DEBUG", false),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		FetcherProvider:      getEnv("FETCHER_PROVIDER", ProviderApify),
		ApifyToken:           getEnv("APIFY_TOKEN", ""),
		ApifyActorID:         getEnv("APIFY_ACTOR_ID", ""),
		LobstrAPIKey:         getEnv("LOBSTR_API_KEY", ""),
		LobstrCrawlerHash:    getEnv("LOBSTR_REELS_CRAWLER_HASH", ""),
		ScrapeCreatorsAPIKey: getEnv("SCRAPECREATORS_API_KEY", ""),

		MonitorInterval: time.Duration(getIntEnv("MONITOR_INTERVAL_MINUTES", 60)) * time.Minute,
		ContentLookback: time.Duration(getIntEnv("CONTENT_LOOKBACK_HOURS", 48)) * time.Hour,
		ResultsLimit:    getIntEnv("RESULTS_LIMIT", 30),

		StartHour: getIntEnv("MONITOR_START_HOUR", -1),
		TimeZone:  getEnv("TIMEZONE", "UTC"),

		TrendGrowthThreshold: getFloatEnv("TREND_GROWTH_THRESHOLD", 150),
		TrendMaxPostAge:      time.Duration(getIntEnv("TREND_MAX_POST_AGE_HOURS", 48)) * time.Hour,
		TrendMinSnapshots:    getIntEnv("TREND_MIN_SNAPSHOTS", 2),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		DigestEmail:      getEnv("DIGEST_EMAIL", ""),
		SMTPHost:         getEnv("SMTP_HOST", ""),
		SMTPPort:         getIntEnv("SMTP_PORT", 587),
		SMTPUsername:     getEnv("SMTP_USERNAME", ""),
		SMTPPassword:     getEnv("SMTP_PASSWORD", ""),

		StorageAccount:   getEnv("AZURE_STORAGE_ACCOUNT", ""),
		StorageContainer: getEnv("AZURE_STORAGE_CONTAINER", "raw-fetches"),
	}

	// Validate required configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// OnlyPostsNewerThan renders the lookback cutoff the way the extraction jobs
// expect it (UTC, ISO-8601 with a Z suffix).
func (c *Config) OnlyPostsNewerThan() string {
	return time.Now().UTC().Add(-c.ContentLookback).Format("2006-01-02T15:04:05") + "Z"
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.TelegramBotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	switch c.FetcherProvider {
	case ProviderApify:
		if c.ApifyToken == "" || c.ApifyActorID == "" {
			return fmt.Errorf("APIFY_TOKEN and APIFY_ACTOR_ID are required when FETCHER_PROVIDER=apify")
		}
	case ProviderLobstr:
		if c.LobstrAPIKey == "" || c.LobstrCrawlerHash == "" {
			return fmt.Errorf("LOBSTR_API_KEY and LOBSTR_REELS_CRAWLER_HASH are required when FETCHER_PROVIDER=lobstr")
		}
	case ProviderScrapeCreators:
		if c.ScrapeCreatorsAPIKey == "" {
			return fmt.Errorf("SCRAPECREATORS_API_KEY is required when FETCHER_PROVIDER=scrapecreators")
		}
	default:
		return fmt.Errorf("FETCHER_PROVIDER must be one of 'apify', 'lobstr', 'scrapecreators'")
	}

	if c.StartHour > 23 {
		return fmt.Errorf("MONITOR_START_HOUR must be between 0 and 23")
	}

	if c.DigestEmail != "" {
		if c.SMTPHost == "" || c.SMTPUsername == "" || c.SMTPPassword == "" {
			return fmt.Errorf("SMTP configuration is required when DIGEST_EMAIL is set")
		}
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}
