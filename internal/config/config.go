package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Log        LogConfig        `mapstructure:"log"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	DB         DBConfig         `mapstructure:"db"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Resync     ResyncConfig     `mapstructure:"resync"`
	Backfill   BackfillConfig   `mapstructure:"backfill"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type LedgerConfig struct {
	ProgramID    string  `mapstructure:"program_id"`
	RPCEndpoint  string  `mapstructure:"rpc_endpoint"`
	WSEndpoint   string  `mapstructure:"ws_endpoint"`
	RPCRateLimit float64 `mapstructure:"rpc_rate_limit"`
	RPCBurst     int     `mapstructure:"rpc_burst"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	UseMemory       bool          `mapstructure:"use_memory"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type ClickHouseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type WebhookConfig struct {
	Addr   string `mapstructure:"addr"`
	Path   string `mapstructure:"path"`
	Secret string `mapstructure:"secret"`
}

type EngineConfig struct {
	AmountEpsilon   int64 `mapstructure:"amount_epsilon"`
	Workers         int   `mapstructure:"workers"`
	LockFractionBps int64 `mapstructure:"lock_fraction_bps"`
}

// Settlement modes.
const (
	SettlementHTTP     = "http"
	SettlementNATS     = "nats"
	SettlementDisabled = "disabled"
)

type SettlementConfig struct {
	Mode        string        `mapstructure:"mode"`
	Endpoint    string        `mapstructure:"endpoint"`
	APIKey      string        `mapstructure:"api_key"`
	Timeout     time.Duration `mapstructure:"timeout"`
	JWTSecret   string        `mapstructure:"jwt_secret"`
	NATSURL     string        `mapstructure:"nats_url"`
	NATSSubject string        `mapstructure:"nats_subject"`
	NATSStream  string        `mapstructure:"nats_stream"`
	RedisAddr   string        `mapstructure:"redis_addr"`
	GuardTTL    time.Duration `mapstructure:"guard_ttl"`
}

type ResyncConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

type BackfillConfig struct {
	PageLimit int `mapstructure:"page_limit"`
	MaxPages  int `mapstructure:"max_pages"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads path (YAML) and BPI_* environment variables over built-in
// defaults. A .env file in the working directory is loaded first when
// present. envOnly skips the config file.
func Load(path string, envOnly bool) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("BPI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	v.SetDefault("app.env", "dev")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)

	v.SetDefault("ledger.program_id", "")
	v.SetDefault("ledger.rpc_endpoint", "https://api.devnet.solana.com")
	v.SetDefault("ledger.ws_endpoint", "wss://api.devnet.solana.com")
	v.SetDefault("ledger.rpc_rate_limit", 10)
	v.SetDefault("ledger.rpc_burst", 5)

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.use_memory", false)
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("clickhouse.dsn", "")

	v.SetDefault("webhook.addr", ":8080")
	v.SetDefault("webhook.path", "/webhooks/ledger")
	v.SetDefault("webhook.secret", "")

	v.SetDefault("engine.amount_epsilon", 10)
	v.SetDefault("engine.workers", 4)
	v.SetDefault("engine.lock_fraction_bps", 200)

	v.SetDefault("settlement.mode", SettlementDisabled)
	v.SetDefault("settlement.endpoint", "")
	v.SetDefault("settlement.api_key", "")
	v.SetDefault("settlement.timeout", "30s")
	v.SetDefault("settlement.jwt_secret", "")
	v.SetDefault("settlement.nats_url", "nats://127.0.0.1:4222")
	v.SetDefault("settlement.nats_subject", "belief.epochs.process")
	v.SetDefault("settlement.nats_stream", "BELIEF_EPOCHS")
	v.SetDefault("settlement.redis_addr", "")
	v.SetDefault("settlement.guard_ttl", "24h")

	v.SetDefault("resync.enabled", true)
	v.SetDefault("resync.schedule", "0 */5 * * * *")

	v.SetDefault("backfill.page_limit", 1000)
	v.SetDefault("backfill.max_pages", 50)

	v.SetDefault("metrics.addr", ":9090")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks settings that have no usable default.
func (c Config) Validate() error {
	var errs []error
	if c.Ledger.ProgramID == "" {
		errs = append(errs, errors.New("ledger.program_id is required"))
	}
	if !c.DB.UseMemory && c.DB.DSN == "" {
		errs = append(errs, errors.New("db.dsn is required unless db.use_memory is set"))
	}
	switch c.Settlement.Mode {
	case SettlementDisabled:
	case SettlementHTTP:
		if c.Settlement.Endpoint == "" {
			errs = append(errs, errors.New("settlement.endpoint is required in http mode"))
		}
	case SettlementNATS:
		if c.Settlement.NATSURL == "" || c.Settlement.NATSSubject == "" {
			errs = append(errs, errors.New("settlement.nats_url and settlement.nats_subject are required in nats mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown settlement.mode %q", c.Settlement.Mode))
	}
	if c.Engine.Workers < 1 {
		errs = append(errs, errors.New("engine.workers must be at least 1"))
	}
	return errors.Join(errs...)
}
