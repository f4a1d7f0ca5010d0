package config

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/Freeeeeet/consult_booking/internal/model"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Environment string `mapstructure:"ENV"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	HTTPAddr    string `mapstructure:"HTTP_ADDR"`
	DBDSN       string `mapstructure:"DB_DSN"`

	// Redis. Пустой адрес отключает кэш
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// Бизнес-правила
	Timezone             string `mapstructure:"TIMEZONE"`
	BusinessStartHour    int    `mapstructure:"BUSINESS_START_HOUR"`
	BusinessEndHour      int    `mapstructure:"BUSINESS_END_HOUR"`
	BusinessDays         string `mapstructure:"BUSINESS_DAYS"`
	BufferMinutes        int    `mapstructure:"BUFFER_MINUTES"`
	MinAdvanceHours      int    `mapstructure:"MIN_ADVANCE_HOURS"`
	MaxRangeDays         int    `mapstructure:"MAX_RANGE_DAYS"`
	FrequencyMaxBookings int    `mapstructure:"FREQUENCY_MAX_BOOKINGS"`
	FrequencyWindowDays  int    `mapstructure:"FREQUENCY_WINDOW_DAYS"`
	DurationLimits       string `mapstructure:"DURATION_LIMITS"`

	AdminEmail    string `mapstructure:"ADMIN_EMAIL"`
	AdminAPIToken string `mapstructure:"ADMIN_API_TOKEN"`

	// Внешние интеграции
	GoogleCalendarID      string        `mapstructure:"GOOGLE_CALENDAR_ID"`
	GoogleCredentialsFile string        `mapstructure:"GOOGLE_CREDENTIALS_FILE"`
	HubSpotBaseURL        string        `mapstructure:"HUBSPOT_BASE_URL"`
	HubSpotToken          string        `mapstructure:"HUBSPOT_TOKEN"`
	IntegrationTimeout    time.Duration `mapstructure:"INTEGRATION_TIMEOUT"`
	RetryMax              int           `mapstructure:"RETRY_MAX"`
	RetryBaseDelay        time.Duration `mapstructure:"RETRY_BASE_DELAY"`
	BreakerThreshold      int           `mapstructure:"BREAKER_THRESHOLD"`
	BreakerCooldown       time.Duration `mapstructure:"BREAKER_COOLDOWN"`

	SyncWorkers   int `mapstructure:"SYNC_WORKERS"`
	SyncQueueSize int `mapstructure:"SYNC_QUEUE_SIZE"`

	TelegramToken       string `mapstructure:"TELEGRAM_TOKEN"`
	TelegramAdminChatID int64  `mapstructure:"TELEGRAM_ADMIN_CHAT_ID"`

	RateLimitPerMinute int    `mapstructure:"RATE_LIMIT_PER_MINUTE"`
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`
}

var defaults = map[string]interface{}{
	"ENV":                     "development",
	"LOG_LEVEL":               "",
	"HTTP_ADDR":               ":8080",
	"DB_DSN":                  "",
	"REDIS_ADDR":              "",
	"REDIS_PASSWORD":          "",
	"REDIS_DB":                0,
	"TIMEZONE":                "UTC",
	"BUSINESS_START_HOUR":     9,
	"BUSINESS_END_HOUR":       17,
	"BUSINESS_DAYS":           "1,2,3,4,5",
	"BUFFER_MINUTES":          15,
	"MIN_ADVANCE_HOURS":       24,
	"MAX_RANGE_DAYS":          30,
	"FREQUENCY_MAX_BOOKINGS":  2,
	"FREQUENCY_WINDOW_DAYS":   30,
	"DURATION_LIMITS":         "15:1:1440",
	"ADMIN_EMAIL":             "",
	"ADMIN_API_TOKEN":         "",
	"GOOGLE_CALENDAR_ID":      "primary",
	"GOOGLE_CREDENTIALS_FILE": "",
	"HUBSPOT_BASE_URL":        "https://api.hubapi.com",
	"HUBSPOT_TOKEN":           "",
	"INTEGRATION_TIMEOUT":     "10s",
	"RETRY_MAX":               3,
	"RETRY_BASE_DELAY":        "1s",
	"BREAKER_THRESHOLD":       5,
	"BREAKER_COOLDOWN":        "60s",
	"SYNC_WORKERS":            4,
	"SYNC_QUEUE_SIZE":         256,
	"TELEGRAM_TOKEN":          "",
	"TELEGRAM_ADMIN_CHAT_ID":  0,
	"RATE_LIMIT_PER_MINUTE":   60,
	"CORS_ALLOWED_ORIGINS":    "*",
}

func Load() (*Config, error) {
	// Пытаемся загрузить .env файл (игнорируем ошибку, если файла нет)
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}

	// Проверяем обязательные поля
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("DB_DSN is required but not set")
	}

	return cfg, nil
}

// FromEnv читает конфигурацию из переменных окружения без проверки обязательных полей
func FromEnv() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if _, err := cfg.BusinessRules(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// AllowedOrigins список источников для CORS
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// BusinessRules собирает и проверяет бизнес-правила
func (c *Config) BusinessRules() (*BusinessRules, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}

	days, err := ParseWeekdays(c.BusinessDays)
	if err != nil {
		return nil, err
	}

	limits, err := ParseDurationLimits(c.DurationLimits)
	if err != nil {
		return nil, err
	}

	rules := &BusinessRules{
		Location:       loc,
		StartHour:      c.BusinessStartHour,
		EndHour:        c.BusinessEndHour,
		Days:           days,
		Buffer:         time.Duration(c.BufferMinutes) * time.Minute,
		MinAdvance:     time.Duration(c.MinAdvanceHours) * time.Hour,
		MaxRangeDays:   c.MaxRangeDays,
		FrequencyLimit: model.FrequencyRule{MaxBookings: c.FrequencyMaxBookings, WindowDays: c.FrequencyWindowDays},
		DurationLimits: limits,
		AdminEmail:     c.AdminEmail,
	}

	if err := rules.Validate(); err != nil {
		return nil, err
	}

	return rules, nil
}

// ParseWeekdays разбирает список дней недели вида "1,2,3,4,5" (0 - воскресенье)
func ParseWeekdays(raw string) (map[time.Weekday]bool, error) {
	days := make(map[time.Weekday]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 6 {
			return nil, fmt.Errorf("invalid business day %q", part)
		}
		days[time.Weekday(n)] = true
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("at least one business day is required")
	}
	return days, nil
}

// ParseDurationLimits разбирает правила вида "15:1:1440,30:2:2880" (длительность:максимум:окно в минутах)
func ParseDurationLimits(raw string) (map[int]model.FrequencyRule, error) {
	limits := make(map[int]model.FrequencyRule)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("invalid duration limit %q: want duration:max:windowMinutes", part)
		}
		var nums [3]int
		for i, f := range fields {
			n, err := strconv.Atoi(strings.TrimSpace(f))
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid duration limit %q", part)
			}
			nums[i] = n
		}
		if !model.ValidDuration(nums[0]) {
			return nil, fmt.Errorf("invalid duration limit %q: unsupported duration %d", part, nums[0])
		}
		if _, dup := limits[nums[0]]; dup {
			return nil, fmt.Errorf("duplicate duration limit for %d minutes", nums[0])
		}
		limits[nums[0]] = model.FrequencyRule{Duration: nums[0], MaxBookings: nums[1], WindowMinutes: nums[2]}
	}
	return limits, nil
}
