package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	ProviderFake     = "fake"
	ProviderMidtrans = "midtrans"
)

type Config struct {
	Environment   string `mapstructure:"ENV"`
	DBDSN         string `mapstructure:"DB_DSN"`
	HTTPAddress   string `mapstructure:"HTTP_ADDRESS"`
	TelegramToken string `mapstructure:"TELEGRAM_TOKEN"`
	JWTSecret     string `mapstructure:"JWT_SECRET"`
	MigrationsDir string `mapstructure:"MIGRATIONS_DIR"`

	TrialTotalLimit    int           `mapstructure:"TRIAL_TOTAL_LIMIT"`
	TrialPerTutorLimit int           `mapstructure:"TRIAL_PER_TUTOR_LIMIT"`
	LessonExpiryGrace  time.Duration `mapstructure:"LESSON_EXPIRY_GRACE"`

	HourlyRateMinor int64  `mapstructure:"HOURLY_RATE_MINOR"`
	Currency        string `mapstructure:"CURRENCY"`
	CommissionRate  string `mapstructure:"COMMISSION_RATE"`

	SettlementTick        time.Duration `mapstructure:"SETTLEMENT_TICK"`
	MinProcessingDwell    time.Duration `mapstructure:"MIN_PROCESSING_DWELL"`
	ProviderTimeout       time.Duration `mapstructure:"PROVIDER_TIMEOUT"`
	SettlementMaxAttempts int           `mapstructure:"SETTLEMENT_MAX_ATTEMPTS"`
	SweepSchedule         string        `mapstructure:"SWEEP_SCHEDULE"`
	NotifyTick            time.Duration `mapstructure:"NOTIFY_TICK"`
	NotifyMaxAttempts     int           `mapstructure:"NOTIFY_MAX_ATTEMPTS"`

	PaymentProvider    string `mapstructure:"PAYMENT_PROVIDER"`
	MidtransServerKey  string `mapstructure:"MIDTRANS_SERVER_KEY"`
	MidtransIrisKey    string `mapstructure:"MIDTRANS_IRIS_KEY"`
	MidtransProduction bool   `mapstructure:"MIDTRANS_PRODUCTION"`
}

var defaults = map[string]any{
	"ENV":                     "development",
	"DB_DSN":                  "",
	"HTTP_ADDRESS":            ":8080",
	"TELEGRAM_TOKEN":          "",
	"JWT_SECRET":              "",
	"MIGRATIONS_DIR":          "",
	"TRIAL_TOTAL_LIMIT":       3,
	"TRIAL_PER_TUTOR_LIMIT":   1,
	"LESSON_EXPIRY_GRACE":     "24h",
	"HOURLY_RATE_MINOR":       2000,
	"CURRENCY":                "USD",
	"COMMISSION_RATE":         "0.15",
	"SETTLEMENT_TICK":         "1s",
	"MIN_PROCESSING_DWELL":    "2s",
	"PROVIDER_TIMEOUT":        "5s",
	"SETTLEMENT_MAX_ATTEMPTS": 5,
	"SWEEP_SCHEDULE":          "@every 1m",
	"NOTIFY_TICK":             "2s",
	"NOTIFY_MAX_ATTEMPTS":     10,
	"PAYMENT_PROVIDER":        ProviderFake,
	"MIDTRANS_SERVER_KEY":     "",
	"MIDTRANS_IRIS_KEY":       "",
	"MIDTRANS_PRODUCTION":     false,
}

// Load reads .env (if present) and the environment into a Config.
func Load() (*Config, error) {
	// Отсутствие .env не ошибка: в проде всё приходит из окружения
	_ = godotenv.Load(".env")

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values every command needs. DB_DSN is checked by RequireDB.
func (c *Config) Validate() error {
	var errs []error
	if c.TrialTotalLimit < 0 || c.TrialPerTutorLimit < 0 {
		errs = append(errs, errors.New("trial limits must not be negative"))
	}
	if c.LessonExpiryGrace < 0 {
		errs = append(errs, errors.New("LESSON_EXPIRY_GRACE must not be negative"))
	}
	if c.HourlyRateMinor < 0 {
		errs = append(errs, errors.New("HOURLY_RATE_MINOR must not be negative"))
	}
	if c.SettlementTick <= 0 || c.NotifyTick <= 0 {
		errs = append(errs, errors.New("SETTLEMENT_TICK and NOTIFY_TICK must be positive"))
	}
	if c.SettlementMaxAttempts <= 0 || c.NotifyMaxAttempts <= 0 {
		errs = append(errs, errors.New("SETTLEMENT_MAX_ATTEMPTS and NOTIFY_MAX_ATTEMPTS must be positive"))
	}
	if c.ProviderTimeout <= 0 {
		errs = append(errs, errors.New("PROVIDER_TIMEOUT must be positive"))
	}
	switch c.PaymentProvider {
	case ProviderFake:
	case ProviderMidtrans:
		if c.MidtransServerKey == "" {
			errs = append(errs, errors.New("MIDTRANS_SERVER_KEY is required for the midtrans provider"))
		}
		// суммы хранятся в сен, Midtrans принимает только целые рупии
		if !strings.EqualFold(c.Currency, "IDR") {
			errs = append(errs, fmt.Errorf("CURRENCY must be IDR for the midtrans provider, got %q", c.Currency))
		}
		if c.HourlyRateMinor%100 != 0 {
			errs = append(errs, errors.New("HOURLY_RATE_MINOR must be whole rupiah (a multiple of 100) for the midtrans provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown PAYMENT_PROVIDER %q", c.PaymentProvider))
	}
	return errors.Join(errs...)
}

// RequireDB reports an error when no database is configured.
func (c *Config) RequireDB() error {
	if c.DBDSN == "" {
		return errors.New("DB_DSN is required but not set")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
