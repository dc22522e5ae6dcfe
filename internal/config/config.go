package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	DatabaseURL string

	OpenDentalBaseURL string
	RequestTimeout    time.Duration
	// PracticesJSON maps practice ids to credentials and local settings.
	PracticesJSON string

	RequestInterval time.Duration
	MaxRetries      int
	BackoffBase     time.Duration
	RetryJitter     bool
	CooldownWindow  time.Duration

	SyncEnabled    bool
	SyncPageSize   int
	SyncInterval   time.Duration
	SyncWindowDays int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		OpenDentalBaseURL: getEnv("OPENDENTAL_BASE_URL", "https://api.opendental.com/api/v1"),
		RequestTimeout:    getEnvAsDuration("OPENDENTAL_REQUEST_TIMEOUT", 20*time.Second),
		PracticesJSON:     getEnv("PRACTICES_JSON", ""),

		RequestInterval: getEnvAsDuration("OPENDENTAL_REQUEST_INTERVAL", time.Second),
		MaxRetries:      getEnvAsInt("OPENDENTAL_MAX_RETRIES", 4),
		BackoffBase:     getEnvAsDuration("OPENDENTAL_BACKOFF_BASE", time.Second),
		RetryJitter:     getEnvAsBool("OPENDENTAL_RETRY_JITTER", true),
		CooldownWindow:  getEnvAsDuration("OPENDENTAL_COOLDOWN_WINDOW", 30*time.Second),

		SyncEnabled:    getEnvAsBool("SYNC_ENABLED", true),
		SyncPageSize:   getEnvAsInt("SYNC_PAGE_SIZE", 500),
		SyncInterval:   getEnvAsDuration("SYNC_INTERVAL", 15*time.Minute),
		SyncWindowDays: getEnvAsInt("SYNC_WINDOW_DAYS", 30),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
