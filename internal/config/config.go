package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"ai-viability-watch/internal/classify"
	"ai-viability-watch/internal/credit"
	"ai-viability-watch/internal/logging"
)

// Source kinds understood by the acquisition layer.
const (
	SourceKindHTTP      = "http"
	SourceKindChainlink = "chainlink"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig                   `mapstructure:"app"`
	Logging    logging.Config              `mapstructure:"logging"`
	Database   DatabaseConfig              `mapstructure:"database"`
	Scheduler  SchedulerConfig             `mapstructure:"scheduler"`
	Credit     CreditConfig                `mapstructure:"credit"`
	Dataset    DatasetConfig               `mapstructure:"dataset"`
	Ethereum   EthereumConfig              `mapstructure:"ethereum"`
	Sources    []SourceConfig              `mapstructure:"sources"`
	Thresholds map[string]classify.RuleSet `mapstructure:"thresholds"`
	Alerting   AlertingConfig              `mapstructure:"alerting"`
	Server     ServerConfig                `mapstructure:"server"`
	Export     ExportConfig                `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for the observation cache.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs the refresh cadence of live sources.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	RefreshOnStart  bool          `mapstructure:"refresh_on_start"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// CreditConfig fixes the default-probability assumptions.
type CreditConfig struct {
	RecoveryRate float64 `mapstructure:"recovery_rate"`
	HorizonYears int     `mapstructure:"horizon_years"`
}

// DatasetConfig points at an optional curated dataset file.
type DatasetConfig struct {
	Path string `mapstructure:"path"`
}

// EthereumConfig covers on-chain data access.
type EthereumConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// SourceConfig describes one live metric source.
type SourceConfig struct {
	Name    string        `mapstructure:"name"`
	Kind    string        `mapstructure:"kind"`
	URL     string        `mapstructure:"url"`
	Field   string        `mapstructure:"field"`
	Address string        `mapstructure:"address"`
	Unit    string        `mapstructure:"unit"`
	Metric  string        `mapstructure:"metric"`
	Spread  bool          `mapstructure:"spread"`
	Timeout time.Duration `mapstructure:"timeout"`
	Retries int           `mapstructure:"retries"`
	RPS     float64       `mapstructure:"rps"`
	// MaxAge bounds the age of on-chain answers; zero accepts any round.
	MaxAge time.Duration `mapstructure:"max_age"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	MinSeverity string         `mapstructure:"min_severity"`
	Cooldown    time.Duration  `mapstructure:"cooldown"`
	Retention   time.Duration  `mapstructure:"retention"`
	Channels    []string       `mapstructure:"channels"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
	Webhook     WebhookConfig  `mapstructure:"webhook"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// WebhookConfig posts alerts as JSON to a generic endpoint.
type WebhookConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Timeout time.Duration     `mapstructure:"timeout"`
}

// ServerConfig configures the read-only dashboard.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	Dir       string `mapstructure:"dir"`
	Delimiter string `mapstructure:"delimiter"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AIWATCH")
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
	v.SetDefault("app.name", "aiwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_age_days", 14)

	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.refresh_on_start", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x61697761))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("credit.recovery_rate", credit.DefaultRecoveryRate)
	v.SetDefault("credit.horizon_years", credit.DefaultHorizonYears)

	v.SetDefault("ethereum.request_timeout", "10s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.min_severity", string(classify.SeverityCritical))
	v.SetDefault("alerting.cooldown", "6h")
	v.SetDefault("alerting.retention", "720h")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.webhook.enabled", false)
	v.SetDefault("alerting.webhook.timeout", "10s")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("export.dir", "out")
	v.SetDefault("export.delimiter", ",")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
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
	if err := credit.ValidateParams(c.Credit.RecoveryRate, c.Credit.HorizonYears); err != nil {
		return fmt.Errorf("credit: %w", err)
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if !classify.Severity(c.Alerting.MinSeverity).Valid() {
		return fmt.Errorf("alerting.min_severity %q is not one of ok, warning, critical", c.Alerting.MinSeverity)
	}
	if c.Alerting.Cooldown < 0 {
		return fmt.Errorf("alerting.cooldown cannot be negative")
	}
	if c.Alerting.Retention < 0 {
		return fmt.Errorf("alerting.retention cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	if c.Alerting.Webhook.Enabled && c.Alerting.Webhook.URL == "" {
		return fmt.Errorf("alerting.webhook.url is required when the webhook is enabled")
	}
	if len([]rune(c.Export.Delimiter)) != 1 {
		return fmt.Errorf("export.delimiter must be a single character")
	}

	table := c.RuleTable()
	if err := table.Validate(); err != nil {
		return fmt.Errorf("thresholds: %w", err)
	}

	names := make(map[string]struct{}, len(c.Sources))
	for i, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("sources[%d].name must be set", i)
		}
		if _, dup := names[src.Name]; dup {
			return fmt.Errorf("sources[%d]: duplicate name %q", i, src.Name)
		}
		names[src.Name] = struct{}{}

		switch src.Kind {
		case SourceKindHTTP:
			if src.URL == "" || src.Field == "" {
				return fmt.Errorf("source %q: url and field are required", src.Name)
			}
		case SourceKindChainlink:
			if src.Address == "" {
				return fmt.Errorf("source %q: address is required", src.Name)
			}
			if c.Ethereum.RPCURL == "" {
				return fmt.Errorf("source %q: ethereum.rpc_url is required", src.Name)
			}
		default:
			return fmt.Errorf("source %q: unknown kind %q", src.Name, src.Kind)
		}

		if src.Metric != "" {
			if _, err := table.Lookup(src.Metric); err != nil {
				return fmt.Errorf("source %q: %w", src.Name, err)
			}
		}
		if src.Retries < 0 {
			return fmt.Errorf("source %q: retries cannot be negative", src.Name)
		}
	}
	return nil
}

// RuleTable returns the built-in thresholds overlaid with configured ones.
func (c *Config) RuleTable() classify.Table {
	return classify.DefaultTable().Merge(c.Thresholds)
}

// Estimator builds the credit estimator from validated settings.
func (c *Config) Estimator() (credit.Estimator, error) {
	return credit.NewEstimator(c.Credit.RecoveryRate, c.Credit.HorizonYears)
}
