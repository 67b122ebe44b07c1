package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"oi-signals/internal/alerting"
	"oi-signals/internal/cache"
	"oi-signals/internal/logging"
	"oi-signals/internal/signal"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	NSE       NSEConfig       `mapstructure:"nse"`
	Cache     cache.Config    `mapstructure:"cache"`
	Signal    SignalConfig    `mapstructure:"signal"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. It is optional; without a
// DSN subscribers come from alerting.subscribers only.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SubscriberQuery string        `mapstructure:"subscriber_query"`
}

// SchedulerConfig governs evaluation cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	Cron            string        `mapstructure:"cron"`
	Timezone        string        `mapstructure:"timezone"`
}

// NSEConfig captures upstream exchange connectivity.
type NSEConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	UserAgent         string        `mapstructure:"user_agent"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	IndexSymbols      []string      `mapstructure:"index_symbols"`
}

// SignalConfig selects what gets scored.
type SignalConfig struct {
	Symbols []string       `mapstructure:"symbols"`
	Index   string         `mapstructure:"index"`
	Weights signal.Weights `mapstructure:"weights"`
}

// AlertingConfig defines alert thresholds and routing.
type AlertingConfig struct {
	Enabled        bool                    `mapstructure:"enabled"`
	PCRExtremeHigh float64                 `mapstructure:"pcr_extreme_high"`
	PCRExtremeLow  float64                 `mapstructure:"pcr_extreme_low"`
	Subscribers    []string                `mapstructure:"subscribers"`
	Telegram       alerting.TelegramConfig `mapstructure:"telegram"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OISIGNALS")
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
	v.SetDefault("app.name", "oisignals")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.path", "")
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.max_age_days", 14)

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6f697367))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.cron", "")
	v.SetDefault("scheduler.timezone", "Asia/Kolkata")

	v.SetDefault("nse.base_url", "https://www.nseindia.com")
	v.SetDefault("nse.request_timeout", "10s")
	v.SetDefault("nse.requests_per_second", 2.0)
	v.SetDefault("nse.burst", 2)
	v.SetDefault("nse.index_symbols", []string{"NIFTY", "BANKNIFTY", "FINNIFTY", "MIDCPNIFTY", "NIFTYNXT50"})

	v.SetDefault("cache.backend", cache.BackendBadger)
	v.SetDefault("cache.badger_path", "")
	v.SetDefault("cache.redis_url", "redis://localhost:6379/0")
	v.SetDefault("cache.operation_timeout", "2s")
	v.SetDefault("cache.analytics_ttl", cache.TTLAnalytics.String())
	v.SetDefault("cache.signal_ttl", cache.TTLSignal.String())
	v.SetDefault("cache.index_weights_ttl", cache.TTLIndexWeight.String())
	v.SetDefault("cache.index_live_ttl", cache.TTLIndexLive.String())
	v.SetDefault("cache.alert_state_ttl", "0s")

	v.SetDefault("signal.symbols", []string{"NIFTY"})
	v.SetDefault("signal.index", "NIFTY 50")
	v.SetDefault("signal.weights.pcr", signal.DefaultWeights.PCR)
	v.SetDefault("signal.weights.change_oi", signal.DefaultWeights.ChangeOI)
	v.SetDefault("signal.weights.proximity", signal.DefaultWeights.Proximity)
	v.SetDefault("signal.weights.buildup", signal.DefaultWeights.Buildup)

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.pcr_extreme_high", 1.3)
	v.SetDefault("alerting.pcr_extreme_low", 0.7)
	v.SetDefault("alerting.subscribers", []string{})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.subscriber_query", "")
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

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Cron == "" && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	if len(c.Signal.Symbols) == 0 {
		return fmt.Errorf("signal.symbols must list at least one symbol")
	}
	if strings.TrimSpace(c.Signal.Index) == "" {
		return fmt.Errorf("signal.index is required")
	}
	if err := c.Signal.Weights.Validate(); err != nil {
		return fmt.Errorf("signal.weights: %w", err)
	}
	switch strings.ToLower(c.Cache.Backend) {
	case cache.BackendBadger, cache.BackendRedis:
	default:
		return fmt.Errorf("cache.backend must be %q or %q", cache.BackendBadger, cache.BackendRedis)
	}
	if c.Cache.AlertStateTTL < 0 {
		return fmt.Errorf("cache.alert_state_ttl cannot be negative")
	}
	if c.NSE.RequestsPerSecond < 0 {
		return fmt.Errorf("nse.requests_per_second cannot be negative")
	}
	if c.Alerting.PCRExtremeLow < 0 || c.Alerting.PCRExtremeHigh <= c.Alerting.PCRExtremeLow {
		return fmt.Errorf("alerting.pcr_extreme_high must exceed alerting.pcr_extreme_low")
	}
	if c.Alerting.Telegram.Enabled && c.Alerting.Telegram.BotToken == "" {
		return fmt.Errorf("alerting.telegram.bot_token 必须配置")
	}
	return nil
}

// ResolveSymbols returns the configured symbols normalised, or the override when set.
func (c *Config) ResolveSymbols(override string) []string {
	if s := strings.ToUpper(strings.TrimSpace(override)); s != "" {
		return []string{s}
	}
	out := make([]string, 0, len(c.Signal.Symbols))
	for _, s := range c.Signal.Symbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Location resolves scheduler.timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if loc, err := time.LoadLocation(c.Scheduler.Timezone); err == nil && c.Scheduler.Timezone != "" {
		return loc
	}
	return time.UTC
}
