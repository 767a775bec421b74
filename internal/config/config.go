package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseURL string

	StaticTokens  []string
	JWTHMACSecret string

	// OAuthStateSecret signs the calendar connect state; falls back to JWTHMACSecret.
	OAuthStateSecret string

	// Google Calendar
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Meeting provider (client-credentials REST API)
	MeetingAPIBaseURL   string
	MeetingTokenURL     string
	MeetingClientID     string
	MeetingClientSecret string

	SyncMaxAttempts    int
	SyncBackoffBase    time.Duration
	SyncAttemptTimeout time.Duration

	SlotGranularityMinutes int
	ExternalBusyCheck      bool

	// SendGrid Email Configuration
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string

	RedisAddr          string
	RedisPassword      string
	RedisEventsChannel string

	RateLimitRPS   float64
	RateLimitBurst int

	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: strings.TrimSpace(getEnv("DATABASE_URL", "")),

		StaticTokens:     splitList(getEnv("STATIC_TOKENS", "")),
		JWTHMACSecret:    strings.TrimSpace(getEnv("JWT_HMAC_SECRET", "")),
		OAuthStateSecret: strings.TrimSpace(getEnv("OAUTH_STATE_SECRET", getEnv("JWT_HMAC_SECRET", ""))),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),

		MeetingAPIBaseURL:   getEnv("MEETING_API_BASE_URL", ""),
		MeetingTokenURL:     getEnv("MEETING_TOKEN_URL", ""),
		MeetingClientID:     getEnv("MEETING_CLIENT_ID", ""),
		MeetingClientSecret: getEnv("MEETING_CLIENT_SECRET", ""),

		SyncMaxAttempts:    getEnvAsInt("SYNC_MAX_ATTEMPTS", 3),
		SyncBackoffBase:    getEnvAsDuration("SYNC_BACKOFF_BASE", 200*time.Millisecond),
		SyncAttemptTimeout: getEnvAsDuration("SYNC_ATTEMPT_TIMEOUT", 10*time.Second),

		SlotGranularityMinutes: getEnvAsInt("SLOT_GRANULARITY_MINUTES", 15),
		ExternalBusyCheck:      getEnvAsBool("EXTERNAL_BUSY_CHECK", false),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Scheduler"),

		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 15*time.Second),

		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisEventsChannel: getEnv("REDIS_EVENTS_CHANNEL", "booking-events"),

		RateLimitRPS:   getEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 20),
	}
}

// Validate reports configuration values that would make the service unusable.
func (c *Config) Validate() error {
	var invalid []string
	if c.DatabaseURL == "" {
		invalid = append(invalid, "DATABASE_URL")
	}
	if c.SyncMaxAttempts <= 0 {
		invalid = append(invalid, "SYNC_MAX_ATTEMPTS")
	}
	if c.SlotGranularityMinutes <= 0 {
		invalid = append(invalid, "SLOT_GRANULARITY_MINUTES")
	}
	if len(invalid) > 0 {
		return fmt.Errorf("config: missing or invalid: %s", strings.Join(invalid, ", "))
	}
	return nil
}

// GoogleCalendarEnabled reports whether the OAuth client for Google Calendar is configured.
func (c *Config) GoogleCalendarEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

// MeetingEnabled reports whether the meeting provider credentials are configured.
func (c *Config) MeetingEnabled() bool {
	return c.MeetingAPIBaseURL != "" && c.MeetingTokenURL != "" && c.MeetingClientID != "" && c.MeetingClientSecret != ""
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
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

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
