package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"trade-guardian/internal/guard"
	"trade-guardian/internal/logging"
)

// Config materialises application configuration. Guard thresholds are
// validated at startup: running without safety limits is strictly worse than
// not running, so any missing or invalid threshold is fatal.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Guards   GuardsConfig   `mapstructure:"guards"`
	Bots     []BotConfig    `mapstructure:"bots"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for guard-state
// persistence and the transition audit log.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// FeedConfig points at the telemetry event stream.
type FeedConfig struct {
	URL              string        `mapstructure:"url"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	ReconnectMin     time.Duration `mapstructure:"reconnect_min"`
	ReconnectMax     time.Duration `mapstructure:"reconnect_max"`
}

// GuardsConfig groups per-guard thresholds.
type GuardsConfig struct {
	DedupeEvents bool             `mapstructure:"dedupe_events"`
	Mode         ModeGuardConfig  `mapstructure:"mode"`
	KillSwitch   KillSwitchConfig `mapstructure:"killswitch"`
	Latency      LatencyConfig    `mapstructure:"latency"`
	Slippage     SlippageConfig   `mapstructure:"slippage"`
}

// ModeGuardConfig tunes mode-flap detection.
type ModeGuardConfig struct {
	FlapCount int           `mapstructure:"flap_count"`
	Window    time.Duration `mapstructure:"window"`
	Cooldown  time.Duration `mapstructure:"cooldown"`
}

// KillSwitchConfig tunes the daily-drawdown circuit breaker.
type KillSwitchConfig struct {
	DailyLossPct float64       `mapstructure:"daily_loss_pct"`
	Suspend      time.Duration `mapstructure:"suspend"`
}

// LatencyConfig tunes fail-safe latency monitoring. The RTT threshold is
// deployment-specific: set it against the venue's governing limit.
type LatencyConfig struct {
	HighMillis  float64 `mapstructure:"high_ms"`
	Consecutive int     `mapstructure:"consecutive"`
	Recovery    int     `mapstructure:"recovery"`
}

// SlippageConfig tunes adverse-slippage detection.
type SlippageConfig struct {
	PerTradePct   float64       `mapstructure:"per_trade_pct"`
	Window        time.Duration `mapstructure:"window"`
	TriggerCount  int           `mapstructure:"trigger_count"`
	StatsSize     int           `mapstructure:"stats_size"`
	StatsFloorPct float64       `mapstructure:"stats_floor_pct"`
	SigmaMult     float64       `mapstructure:"sigma_mult"`
}

// BotConfig declares one supervised bot and its static priority.
type BotConfig struct {
	ID       string `mapstructure:"id"`
	Priority string `mapstructure:"priority"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled   bool           `mapstructure:"enabled"`
	QueueSize int            `mapstructure:"queue_size"`
	Telegram  TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// MetricsConfig exposes the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// SweepConfig governs periodic lazy-deadline re-evaluation.
type SweepConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GUARDIAN")
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
	v.SetDefault("app.name", "guardian")
	v.SetDefault("app.environment", "sim")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("feed.handshake_timeout", "10s")
	v.SetDefault("feed.reconnect_min", "1s")
	v.SetDefault("feed.reconnect_max", "30s")

	v.SetDefault("guards.dedupe_events", true)
	v.SetDefault("guards.mode.flap_count", 3)
	v.SetDefault("guards.mode.window", "15m")
	v.SetDefault("guards.mode.cooldown", "15m")
	v.SetDefault("guards.killswitch.daily_loss_pct", -1.5)
	v.SetDefault("guards.killswitch.suspend", "24h")
	v.SetDefault("guards.latency.high_ms", 12.0)
	v.SetDefault("guards.latency.consecutive", 5)
	v.SetDefault("guards.latency.recovery", 3)
	v.SetDefault("guards.slippage.per_trade_pct", 0.05)
	v.SetDefault("guards.slippage.window", "30m")
	v.SetDefault("guards.slippage.trigger_count", 3)
	v.SetDefault("guards.slippage.stats_size", 2000)
	v.SetDefault("guards.slippage.stats_floor_pct", 0.07)
	v.SetDefault("guards.slippage.sigma_mult", 1.5)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.queue_size", 256)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9109")

	v.SetDefault("sweep.interval", "1s")
	v.SetDefault("sweep.startup_delay", "0s")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.advisory_lock_key", int64(0x67756172))
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

// Validate refuses to start with missing or nonsensical safety thresholds.
func (c *Config) Validate() error {
	if len(c.Bots) == 0 {
		return fmt.Errorf("bots must declare at least one bot")
	}
	seen := make(map[string]bool, len(c.Bots))
	for _, bot := range c.Bots {
		if bot.ID == "" {
			return fmt.Errorf("bots entries require an id")
		}
		if seen[bot.ID] {
			return fmt.Errorf("duplicate bot id %q", bot.ID)
		}
		seen[bot.ID] = true
		if _, err := guard.ParsePriority(bot.Priority); err != nil {
			return fmt.Errorf("bot %q: %w", bot.ID, err)
		}
	}

	if c.Guards.Mode.FlapCount <= 0 {
		return fmt.Errorf("guards.mode.flap_count must be greater than zero")
	}
	if c.Guards.Mode.Window <= 0 {
		return fmt.Errorf("guards.mode.window must be greater than zero")
	}
	if c.Guards.Mode.Cooldown <= 0 {
		return fmt.Errorf("guards.mode.cooldown must be greater than zero")
	}
	if c.Guards.KillSwitch.DailyLossPct >= 0 {
		return fmt.Errorf("guards.killswitch.daily_loss_pct must be negative")
	}
	if c.Guards.KillSwitch.Suspend <= 0 {
		return fmt.Errorf("guards.killswitch.suspend must be greater than zero")
	}
	if c.Guards.Latency.HighMillis <= 0 {
		return fmt.Errorf("guards.latency.high_ms must be greater than zero")
	}
	if c.Guards.Latency.Consecutive <= 0 {
		return fmt.Errorf("guards.latency.consecutive must be greater than zero")
	}
	if c.Guards.Latency.Recovery <= 0 {
		return fmt.Errorf("guards.latency.recovery must be greater than zero")
	}
	if c.Guards.Slippage.PerTradePct <= 0 {
		return fmt.Errorf("guards.slippage.per_trade_pct must be greater than zero")
	}
	if c.Guards.Slippage.Window <= 0 {
		return fmt.Errorf("guards.slippage.window must be greater than zero")
	}
	if c.Guards.Slippage.TriggerCount <= 0 {
		return fmt.Errorf("guards.slippage.trigger_count must be greater than zero")
	}
	if c.Sweep.Interval <= 0 {
		return fmt.Errorf("sweep.interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
