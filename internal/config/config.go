package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"price-oracle-feed/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	CoinGecko CoinGeckoConfig `mapstructure:"coingecko"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
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
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// PublisherConfig governs the publish cycle.
type PublisherConfig struct {
	Symbols         []string      `mapstructure:"symbols"`
	Interval        time.Duration `mapstructure:"interval"`
	AlignToInterval bool          `mapstructure:"align_to_interval"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	EvalTimeout     time.Duration `mapstructure:"eval_timeout"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// CoinGeckoConfig captures primary source connectivity.
type CoinGeckoConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	APIKeys        []string          `mapstructure:"api_keys"`
	IDBySymbol     map[string]string `mapstructure:"id_by_symbol"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
	UserAgent      string            `mapstructure:"user_agent"`
}

// OracleConfig covers the secondary on-chain source.
type OracleConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	RPCURL          string        `mapstructure:"rpc_url"`
	ContractAddress string        `mapstructure:"contract_address"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	MaxInflight     int           `mapstructure:"max_inflight"`
}

// LedgerConfig configures the single writer identity and its queue.
type LedgerConfig struct {
	RPCURL          string        `mapstructure:"rpc_url"`
	ContractAddress string        `mapstructure:"contract_address"`
	PrivateKey      string        `mapstructure:"private_key"`
	ChainID         int64         `mapstructure:"chain_id"`
	GasLimit        uint64        `mapstructure:"gas_limit"`
	GasMultiplier   float64       `mapstructure:"gas_multiplier"`
	ConfirmTimeout  time.Duration `mapstructure:"confirm_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	QueueSize       int           `mapstructure:"queue_size"`
	InterJobDelay   time.Duration `mapstructure:"inter_job_delay"`
}

// AlertingConfig defines alert evaluation and delivery.
type AlertingConfig struct {
	Enabled       bool           `mapstructure:"enabled"`
	DedupCapacity int            `mapstructure:"dedup_capacity"`
	Telegram      TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ORACLEFEED")
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
	v.SetDefault("app.name", "oraclefeed")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("publisher.symbols", []string{"BTC", "ETH"})
	v.SetDefault("publisher.interval", "30s")
	v.SetDefault("publisher.align_to_interval", false)
	v.SetDefault("publisher.startup_delay", "0s")
	v.SetDefault("publisher.eval_timeout", "30s")
	v.SetDefault("publisher.advisory_lock_key", int64(0x6f726366))

	v.SetDefault("coingecko.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("coingecko.id_by_symbol", map[string]string{
		"BTC": "bitcoin",
		"ETH": "ethereum",
	})
	v.SetDefault("coingecko.request_timeout", "10s")
	v.SetDefault("coingecko.user_agent", "oraclefeed/1.0")

	v.SetDefault("oracle.enabled", false)
	v.SetDefault("oracle.request_timeout", "10s")
	v.SetDefault("oracle.max_inflight", 4)

	v.SetDefault("ledger.gas_limit", uint64(200_000))
	v.SetDefault("ledger.gas_multiplier", 1.1)
	v.SetDefault("ledger.confirm_timeout", "2m")
	v.SetDefault("ledger.poll_interval", "2s")
	v.SetDefault("ledger.queue_size", 64)
	v.SetDefault("ledger.inter_job_delay", "50ms")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.dedup_capacity", 4096)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
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
	if c.Publisher.Interval <= 0 {
		return fmt.Errorf("publisher.interval must be greater than zero")
	}
	if len(c.Publisher.Symbols) == 0 {
		return fmt.Errorf("publisher.symbols must not be empty")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.DedupCapacity < 0 {
		return fmt.Errorf("alerting.dedup_capacity cannot be negative")
	}
	if c.Alerting.Telegram.Enabled && c.Alerting.Telegram.BotToken == "" {
		return fmt.Errorf("alerting.telegram.bot_token 必须配置")
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
