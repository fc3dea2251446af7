package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"crypto-price-alerts/internal/logging"
	"crypto-price-alerts/internal/schedule"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Quota    QuotaConfig    `mapstructure:"quota"`
	Market   MarketConfig   `mapstructure:"market"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	History  HistoryConfig  `mapstructure:"history"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// QuotaConfig governs how the monthly request budget turns into a daily
// call schedule.
type QuotaConfig struct {
	MonthlyBudget int               `mapstructure:"monthly_budget"`
	DaysInMonth   int               `mapstructure:"days_in_month"`
	Timezone      string            `mapstructure:"timezone"`
	Windows       []schedule.Window `mapstructure:"windows"`
	SignalBuffer  int               `mapstructure:"signal_buffer"`
}

// MarketConfig covers the upstream market-data API.
type MarketConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Convert        string        `mapstructure:"convert"`
	CacheLimit     int           `mapstructure:"cache_limit"`
	Sort           string        `mapstructure:"sort"`
	SortDir        string        `mapstructure:"sort_dir"`
	SearchLimit    int           `mapstructure:"search_limit"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram delivery parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// HistoryConfig covers the price-history provider used for chart export.
type HistoryConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.Quota.Windows) == 0 {
		cfg.Quota.Windows = schedule.DefaultWindows
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pricewatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("quota.monthly_budget", 10000)
	v.SetDefault("quota.days_in_month", 31)
	v.SetDefault("quota.timezone", "UTC")
	v.SetDefault("quota.signal_buffer", 64)

	v.SetDefault("market.base_url", "https://pro-api.coinmarketcap.com/v1")
	v.SetDefault("market.convert", "USD")
	v.SetDefault("market.cache_limit", 200)
	v.SetDefault("market.sort", "market_cap")
	v.SetDefault("market.sort_dir", "desc")
	v.SetDefault("market.search_limit", 300)
	v.SetDefault("market.request_timeout", "10s")
	v.SetDefault("market.user_agent", "pricewatch/1.0")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("history.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("history.request_timeout", "15s")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9109")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.advisory_lock_key", int64(0x70726963))
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs the startup-time sanity checks. A failure here is
// fatal and must not be retried.
func (c *Config) Validate() error {
	if c.Quota.MonthlyBudget < 0 {
		return fmt.Errorf("quota.monthly_budget cannot be negative")
	}
	if c.Quota.DaysInMonth <= 0 {
		return fmt.Errorf("quota.days_in_month must be greater than zero")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("quota.timezone: %w", err)
	}
	if err := schedule.Validate(c.Quota.Windows); err != nil {
		return err
	}
	if c.Market.CacheLimit <= 0 {
		return fmt.Errorf("market.cache_limit must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// Location resolves the configured output timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Quota.Timezone == "" || strings.EqualFold(c.Quota.Timezone, "UTC") {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Quota.Timezone)
}
