package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// ErrNotConfigured indicates the PM system credentials are absent. Sync
// entry points check for it and report "not configured" instead of
// attempting and failing the network call.
var ErrNotConfigured = errors.New("config: PM system credentials not configured")

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// PM system (remote practice-management platform) configuration
	PMSBaseURL        string
	PMSTokenURL       string
	PMSClientID       string
	PMSClientSecret   string
	PMSOrganizationID string
	PMSPractitionerID string
	PMSTimeout        time.Duration
	PMSMaxRetries     int

	// Sync engine configuration
	SyncInterval       time.Duration
	SyncWindowPastDays int
	SyncWindowDays     int

	WebhookSecret  string
	AdminJWTSecret string

	// Failure alerting
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	AlertEmail        string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		PMSBaseURL:        getEnv("PMS_BASE_URL", ""),
		PMSTokenURL:       getEnv("PMS_TOKEN_URL", ""),
		PMSClientID:       getEnv("PMS_CLIENT_ID", ""),
		PMSClientSecret:   getEnv("PMS_CLIENT_SECRET", ""),
		PMSOrganizationID: getEnv("PMS_ORGANIZATION_ID", ""),
		PMSPractitionerID: getEnv("PMS_PRACTITIONER_ID", ""),
		PMSTimeout:        getEnvAsDuration("PMS_TIMEOUT", 30*time.Second),
		PMSMaxRetries:     getEnvAsInt("PMS_MAX_RETRIES", 3),

		SyncInterval:       getEnvAsDuration("SYNC_INTERVAL", 30*time.Minute),
		SyncWindowPastDays: getEnvAsInt("SYNC_WINDOW_PAST_DAYS", 30),
		SyncWindowDays:     getEnvAsInt("SYNC_WINDOW_DAYS", 90),

		WebhookSecret:  getEnv("PMS_WEBHOOK_SECRET", ""),
		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Ashgrove Psychology"),
		AlertEmail:        getEnv("SYNC_ALERT_EMAIL", ""),
	}
}

// ValidatePMS reports whether the remote client can be constructed at all.
// Missing credentials return ErrNotConfigured so callers can short-circuit
// a sync attempt with a clear status instead of a network failure.
func (c *Config) ValidatePMS() error {
	if c.PMSBaseURL == "" || c.PMSClientID == "" || c.PMSClientSecret == "" {
		return ErrNotConfigured
	}
	return nil
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
