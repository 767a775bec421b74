package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/sched")
	t.Setenv("SYNC_MAX_ATTEMPTS", "")
	t.Setenv("STATIC_TOKENS", "")

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 3, cfg.SyncMaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.SyncBackoffBase)
	assert.Equal(t, 10*time.Second, cfg.SyncAttemptTimeout)
	assert.Equal(t, 15, cfg.SlotGranularityMinutes)
	assert.Equal(t, "booking-events", cfg.RedisEventsChannel)
	assert.Empty(t, cfg.StaticTokens)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/sched")
	t.Setenv("SYNC_MAX_ATTEMPTS", "5")
	t.Setenv("SYNC_BACKOFF_BASE", "1s")
	t.Setenv("EXTERNAL_BUSY_CHECK", "true")
	t.Setenv("STATIC_TOKENS", " a , ,b")
	t.Setenv("RATE_LIMIT_RPS", "2.5")

	cfg := Load()
	assert.Equal(t, 5, cfg.SyncMaxAttempts)
	assert.Equal(t, time.Second, cfg.SyncBackoffBase)
	assert.True(t, cfg.ExternalBusyCheck)
	assert.Equal(t, []string{"a", "b"}, cfg.StaticTokens)
	assert.InDelta(t, 2.5, cfg.RateLimitRPS, 0.0001)
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("SYNC_MAX_ATTEMPTS", "many")
	t.Setenv("SYNC_ATTEMPT_TIMEOUT", "soon")

	cfg := Load()
	assert.Equal(t, 3, cfg.SyncMaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.SyncAttemptTimeout)
}

func TestValidateReportsMissing(t *testing.T) {
	cfg := &Config{SyncMaxAttempts: 0, SlotGranularityMinutes: 15}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "SYNC_MAX_ATTEMPTS")
}

func TestProviderToggles(t *testing.T) {
	cfg := &Config{GoogleClientID: "id", GoogleClientSecret: "secret"}
	assert.False(t, cfg.GoogleCalendarEnabled())
	cfg.GoogleRedirectURL = "https://example.com/oauth2callback"
	assert.True(t, cfg.GoogleCalendarEnabled())
	assert.False(t, cfg.MeetingEnabled())
}
