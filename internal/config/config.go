// Package config defines the top-level configuration for marketmirror and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MARKETMIRROR_* environment variables.
//
// Network holds only what the file says; Chain is the merged result of file,
// environment and defaults and is what every component reads.
type Config struct {
	Network  NetworkFragment `toml:"network"`
	Chain    NetworkConfig   `toml:"-"`
	Proposer ProposerConfig  `toml:"proposer"`
	Postgres PostgresConfig  `toml:"postgres"`
	Redis    RedisConfig     `toml:"redis"`
	S3       S3Config        `toml:"s3"`
	Metadata MetadataConfig  `toml:"metadata"`
	Resolver ResolverConfig  `toml:"resolver"`
	Trade    TradeConfig     `toml:"trade"`
	Watch    WatchConfig     `toml:"watch"`
	Server   ServerConfig    `toml:"server"`
	Notify   NotifyConfig    `toml:"notify"`
	Mode     string          `toml:"mode"`
	LogLevel string          `toml:"log_level"`
}

// ProposerConfig says where the key that signs ledger transactions comes
// from. Without one the ledger is read-only.
type ProposerConfig struct {
	PrivateKey       string   `toml:"private_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	PollInterval     duration `toml:"receipt_poll_interval"`
	GasBufferPercent int      `toml:"gas_buffer_percent"`
	SubmitTimeout    duration `toml:"submit_timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool     `toml:"enabled"`
	DSN           string   `toml:"dsn"`
	Host          string   `toml:"host"`
	Port          int      `toml:"port"`
	Database      string   `toml:"database"`
	User          string   `toml:"user"`
	Password      string   `toml:"password"`
	SSLMode       string   `toml:"sslmode"`
	PoolMaxConns  int      `toml:"pool_max_conns"`
	PoolMinConns  int      `toml:"pool_min_conns"`
	MaxConnIdle   duration `toml:"max_conn_idle"`
	RunMigrations bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	ParamTTL   duration `toml:"param_ttl"`
}

// S3Config holds the metadata mirror bucket.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// MetadataConfig lists the content gateways tried in order before the S3
// mirror.
type MetadataConfig struct {
	Gateways  []string `toml:"gateways"`
	Timeout   duration `toml:"timeout"`
	CacheSize int      `toml:"cache_size"`
}

// ResolverConfig configures the AI-resolution service client and the checks
// applied to its signed proposals.
type ResolverConfig struct {
	URL           string   `toml:"url"`
	APIKey        string   `toml:"api_key"`
	APISecret     string   `toml:"api_secret"`
	Timeout       duration `toml:"timeout"`
	MinConfidence int      `toml:"min_confidence"`
	OracleSigner  string   `toml:"oracle_signer"`
}

// TradeConfig tunes trade execution.
type TradeConfig struct {
	DefaultSlippageBps    int64   `toml:"default_slippage_bps"`
	DeviationAlertPercent float64 `toml:"deviation_alert_percent"`
}

// WatchConfig configures the resolution watcher used by the watch and full
// modes.
type WatchConfig struct {
	Markets      []uint64 `toml:"markets"`
	PollInterval duration `toml:"poll_interval"`
	AutoFinalize bool     `toml:"auto_finalize"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateWindow      duration `toml:"rate_window"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// NotifyConfig holds notification channel settings.
type NotifyConfig struct {
	TelegramAPI       string   `toml:"telegram_api"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so that BurntSushi/toml can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Defaults returns a Config populated with sensible default values. Values
// read from TOML or environment variables are layered on top.
func Defaults() Config {
	return Config{
		Chain: MergeNetwork(NetworkFragment{}, NetworkFragment{}, DefaultNetwork()),
		Proposer: ProposerConfig{
			PollInterval:     duration{2 * time.Second},
			GasBufferPercent: 20,
			SubmitTimeout:    duration{2 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "marketmirror",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			MaxConnIdle:   duration{5 * time.Minute},
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "marketmirror",
			ParamTTL:   duration{5 * time.Minute},
		},
		S3: S3Config{
			Region:         "us-east-1",
			UseSSL:         true,
			ForcePathStyle: true,
		},
		Metadata: MetadataConfig{
			Gateways:  []string{"https://ipfs.io/ipfs"},
			Timeout:   duration{10 * time.Second},
			CacheSize: 1024,
		},
		Resolver: ResolverConfig{
			Timeout:       duration{30 * time.Second},
			MinConfidence: 80,
		},
		Trade: TradeConfig{
			DefaultSlippageBps:    100,
			DeviationAlertPercent: 1,
		},
		Watch: WatchConfig{
			PollInterval: duration{time.Minute},
		},
		Server: ServerConfig{
			Port:            8080,
			CORSOrigins:     []string{"*"},
			RateLimit:       120,
			RateWindow:      duration{time.Minute},
			ShutdownTimeout: duration{10 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"resolution", "trade_deviation", "watch_error"},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"watch":  true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validEvents enumerates the alert kinds the notifier understands.
var validEvents = map[string]bool{
	"resolution":      true,
	"trade_deviation": true,
	"watch_error":     true,
}

// NeedsServer reports whether the mode serves the HTTP API.
func (c *Config) NeedsServer() bool {
	m := strings.ToLower(c.Mode)
	return m == "server" || m == "full"
}

// NeedsWatcher reports whether the mode runs the resolution watcher.
func (c *Config) NeedsWatcher() bool {
	m := strings.ToLower(c.Mode)
	return m == "watch" || m == "full"
}

// Validate checks the configuration for logical errors and returns a combined
// error describing all problems found, or nil if the config is valid.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, watch, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	errs = append(errs, c.Chain.problems()...)

	// Proposer
	if c.Proposer.EncryptedKeyPath != "" && c.Proposer.KeyPassword == "" {
		errs = append(errs, "proposer: key_password is required when encrypted_key_path is set")
	}
	if c.Watch.AutoFinalize && c.Proposer.PrivateKey == "" && c.Proposer.EncryptedKeyPath == "" {
		errs = append(errs, "proposer: a key is required when watch.auto_finalize is enabled")
	}
	if c.Proposer.GasBufferPercent < 0 {
		errs = append(errs, "proposer: gas_buffer_percent must be >= 0")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.ParamTTL.Duration <= 0 {
			errs = append(errs, "redis: param_ttl must be > 0")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Metadata
	if len(c.Metadata.Gateways) == 0 && !c.S3.Enabled {
		errs = append(errs, "metadata: at least one gateway or the s3 mirror must be configured")
	}
	if c.Metadata.CacheSize < 1 {
		errs = append(errs, "metadata: cache_size must be >= 1")
	}

	// Resolver
	if c.Resolver.URL != "" {
		if (c.Resolver.APIKey == "") != (c.Resolver.APISecret == "") {
			errs = append(errs, "resolver: api_key and api_secret must be set together")
		}
	}
	if c.Resolver.MinConfidence < 0 || c.Resolver.MinConfidence > 100 {
		errs = append(errs, fmt.Sprintf("resolver: min_confidence must be 0-100, got %d", c.Resolver.MinConfidence))
	}
	if c.Resolver.OracleSigner != "" && !common.IsHexAddress(c.Resolver.OracleSigner) {
		errs = append(errs, fmt.Sprintf("resolver: oracle_signer %q is not an address", c.Resolver.OracleSigner))
	}

	// Trade
	if c.Trade.DefaultSlippageBps < 0 || c.Trade.DefaultSlippageBps > 10000 {
		errs = append(errs, fmt.Sprintf("trade: default_slippage_bps must be 0-10000, got %d", c.Trade.DefaultSlippageBps))
	}
	if c.Trade.DeviationAlertPercent < 0 {
		errs = append(errs, "trade: deviation_alert_percent must be >= 0")
	}

	// Watch
	if c.NeedsWatcher() {
		if len(c.Watch.Markets) == 0 {
			errs = append(errs, "watch: markets must not be empty for mode "+c.Mode)
		}
		if c.Watch.PollInterval.Duration <= 0 {
			errs = append(errs, "watch: poll_interval must be > 0")
		}
	}

	// Server
	if c.NeedsServer() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && !c.Redis.Enabled {
			errs = append(errs, "server: rate_limit requires redis")
		}
	}

	// Notify
	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == "" {
		errs = append(errs, "notify: telegram_chat_id is required when telegram_token is set")
	}
	for _, ev := range c.Notify.Events {
		if !validEvents[ev] {
			errs = append(errs, fmt.Sprintf("notify: unknown event %q", ev))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
