package config

import (
	"testing"
	"time"

	"github.com/Freeeeeet/consult_booking/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 10*time.Second, cfg.IntegrationTimeout)
	assert.Equal(t, time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, 3, cfg.RetryMax)
	assert.Equal(t, 5, cfg.BreakerThreshold)

	rules, err := cfg.BusinessRules()
	require.NoError(t, err)
	assert.Equal(t, 9, rules.StartHour)
	assert.Equal(t, 17, rules.EndHour)
	assert.Equal(t, 15*time.Minute, rules.Buffer)
	assert.Equal(t, 24*time.Hour, rules.MinAdvance)
	assert.Equal(t, model.FrequencyRule{MaxBookings: 2, WindowDays: 30}, rules.FrequencyLimit)
	assert.Len(t, rules.Days, 5)
	assert.False(t, rules.Days[time.Saturday])
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("BUFFER_MINUTES", "5")
	t.Setenv("TIMEZONE", "Europe/Berlin")
	t.Setenv("BREAKER_COOLDOWN", "2m")
	t.Setenv("DURATION_LIMITS", "15:1:60, 30:2:120")
	t.Setenv("TELEGRAM_ADMIN_CHAT_ID", "-100123")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.BreakerCooldown)
	assert.Equal(t, int64(-100123), cfg.TelegramAdminChatID)

	rules, err := cfg.BusinessRules()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, rules.Buffer)
	assert.Equal(t, "Europe/Berlin", rules.Location.String())

	rule, ok := rules.DurationLimit(30)
	require.True(t, ok)
	assert.Equal(t, model.FrequencyRule{Duration: 30, MaxBookings: 2, WindowMinutes: 120}, rule)
	_, ok = rules.DurationLimit(45)
	assert.False(t, ok)
}

func TestLoadRequiresDSN(t *testing.T) {
	t.Setenv("DB_DSN", "")
	_, err := Load()
	require.Error(t, err)
}

func TestFromEnvRejectsBadRules(t *testing.T) {
	cases := map[string][2]string{
		"bad timezone":  {"TIMEZONE", "Mars/Olympus"},
		"bad day":       {"BUSINESS_DAYS", "1,9"},
		"bad limit":     {"DURATION_LIMITS", "20:1:60"},
		"short limit":   {"DURATION_LIMITS", "15:1"},
		"inverted hour": {"BUSINESS_END_HOUR", "8"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := FromEnv()
			require.Error(t, err)
		})
	}
}

func TestWithinBusinessHours(t *testing.T) {
	rules := DefaultBusinessRules()
	monday := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	inside, err := model.NewTimeSlot(monday.Add(16*time.Hour+30*time.Minute), 30)
	require.NoError(t, err)
	assert.True(t, rules.WithinBusinessHours(inside))

	spill, err := model.NewTimeSlot(monday.Add(16*time.Hour+45*time.Minute), 30)
	require.NoError(t, err)
	assert.False(t, rules.WithinBusinessHours(spill))

	saturday, err := model.NewTimeSlot(monday.AddDate(0, 0, 5).Add(10*time.Hour), 30)
	require.NoError(t, err)
	assert.False(t, rules.WithinBusinessHours(saturday))
}

func TestAllowedOrigins(t *testing.T) {
	cfg := &Config{CORSAllowedOrigins: " https://consult.io, ,https://www.consult.io "}
	assert.Equal(t, []string{"https://consult.io", "https://www.consult.io"}, cfg.AllowedOrigins())

	cfg.CORSAllowedOrigins = ""
	assert.Empty(t, cfg.AllowedOrigins())
}
