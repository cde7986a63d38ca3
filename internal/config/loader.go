package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MARKETMIRROR_* environment variable overrides and
// resolves the network section. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	cfg.Chain = MergeNetwork(cfg.Network, NetworkFromEnv(os.LookupEnv), DefaultNetwork())

	return &cfg, nil
}

// applyEnvOverrides reads well-known MARKETMIRROR_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). Network settings are not handled here; they go through
// NetworkFromEnv so the file keeps precedence over the environment.
func applyEnvOverrides(cfg *Config) {
	// ── Proposer ──
	setStr(&cfg.Proposer.PrivateKey, "MARKETMIRROR_PROPOSER_PRIVATE_KEY")
	setStr(&cfg.Proposer.EncryptedKeyPath, "MARKETMIRROR_PROPOSER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Proposer.KeyPassword, "MARKETMIRROR_PROPOSER_KEY_PASSWORD")
	setDuration(&cfg.Proposer.PollInterval, "MARKETMIRROR_PROPOSER_RECEIPT_POLL_INTERVAL")
	setInt(&cfg.Proposer.GasBufferPercent, "MARKETMIRROR_PROPOSER_GAS_BUFFER_PERCENT")
	setDuration(&cfg.Proposer.SubmitTimeout, "MARKETMIRROR_PROPOSER_SUBMIT_TIMEOUT")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "MARKETMIRROR_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "MARKETMIRROR_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "MARKETMIRROR_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MARKETMIRROR_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MARKETMIRROR_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MARKETMIRROR_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MARKETMIRROR_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MARKETMIRROR_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "MARKETMIRROR_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MARKETMIRROR_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MARKETMIRROR_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "MARKETMIRROR_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "MARKETMIRROR_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MARKETMIRROR_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MARKETMIRROR_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MARKETMIRROR_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MARKETMIRROR_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MARKETMIRROR_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "MARKETMIRROR_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.ParamTTL, "MARKETMIRROR_REDIS_PARAM_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "MARKETMIRROR_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "MARKETMIRROR_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MARKETMIRROR_S3_REGION")
	setStr(&cfg.S3.Bucket, "MARKETMIRROR_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "MARKETMIRROR_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "MARKETMIRROR_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MARKETMIRROR_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MARKETMIRROR_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MARKETMIRROR_S3_FORCE_PATH_STYLE")

	// ── Metadata ──
	setStringSlice(&cfg.Metadata.Gateways, "MARKETMIRROR_METADATA_GATEWAYS")
	setDuration(&cfg.Metadata.Timeout, "MARKETMIRROR_METADATA_TIMEOUT")
	setInt(&cfg.Metadata.CacheSize, "MARKETMIRROR_METADATA_CACHE_SIZE")

	// ── Resolver ──
	setStr(&cfg.Resolver.URL, "MARKETMIRROR_RESOLVER_URL")
	setStr(&cfg.Resolver.APIKey, "MARKETMIRROR_RESOLVER_API_KEY")
	setStr(&cfg.Resolver.APISecret, "MARKETMIRROR_RESOLVER_API_SECRET")
	setDuration(&cfg.Resolver.Timeout, "MARKETMIRROR_RESOLVER_TIMEOUT")
	setInt(&cfg.Resolver.MinConfidence, "MARKETMIRROR_RESOLVER_MIN_CONFIDENCE")
	setStr(&cfg.Resolver.OracleSigner, "MARKETMIRROR_RESOLVER_ORACLE_SIGNER")

	// ── Trade ──
	setInt64(&cfg.Trade.DefaultSlippageBps, "MARKETMIRROR_TRADE_DEFAULT_SLIPPAGE_BPS")
	setFloat64(&cfg.Trade.DeviationAlertPercent, "MARKETMIRROR_TRADE_DEVIATION_ALERT_PERCENT")

	// ── Watch ──
	setUintSlice(&cfg.Watch.Markets, "MARKETMIRROR_WATCH_MARKETS")
	setDuration(&cfg.Watch.PollInterval, "MARKETMIRROR_WATCH_POLL_INTERVAL")
	setBool(&cfg.Watch.AutoFinalize, "MARKETMIRROR_WATCH_AUTO_FINALIZE")

	// ── Server ──
	setInt(&cfg.Server.Port, "MARKETMIRROR_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "MARKETMIRROR_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "MARKETMIRROR_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "MARKETMIRROR_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "MARKETMIRROR_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramAPI, "MARKETMIRROR_NOTIFY_TELEGRAM_API")
	setStr(&cfg.Notify.TelegramToken, "MARKETMIRROR_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MARKETMIRROR_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MARKETMIRROR_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MARKETMIRROR_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MARKETMIRROR_MODE")
	setStr(&cfg.LogLevel, "MARKETMIRROR_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		if cleaned := splitList(v); len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// setUintSlice leaves dst untouched if any element fails to parse.
func setUintSlice(dst *[]uint64, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	parts := splitList(v)
	out := make([]uint64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return
		}
		out = append(out, n)
	}
	if len(out) > 0 {
		*dst = out
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return cleaned
}
