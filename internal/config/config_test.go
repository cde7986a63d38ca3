package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	factoryAddr = "0x1000000000000000000000000000000000000001"
	poolAddr    = "0x2000000000000000000000000000000000000002"
	oracleAddr  = "0x3000000000000000000000000000000000000003"
	stakingAddr = "0x4000000000000000000000000000000000000004"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Chain.Factory = factoryAddr
	cfg.Chain.Pool = poolAddr
	cfg.Chain.Oracle = oracleAddr
	cfg.Chain.Staking = stakingAddr
	cfg.Redis.Enabled = true
	return cfg
}

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func TestMergeNetworkPrecedence(t *testing.T) {
	explicit := NetworkFragment{ChainID: ptr(int64(137)), Pool: ptr(poolAddr)}
	env := NetworkFragment{
		ChainID: ptr(int64(10)),
		RPCURL:  ptr("https://rpc.example"),
		Pool:    ptr("0xenv"),
		Oracle:  ptr(oracleAddr),
	}
	defaults := DefaultNetwork()

	got := MergeNetwork(explicit, env, defaults)

	assert.Equal(t, int64(137), got.ChainID, "explicit beats env")
	assert.Equal(t, poolAddr, got.Pool)
	assert.Equal(t, "https://rpc.example", got.RPCURL, "env beats defaults")
	assert.Equal(t, oracleAddr, got.Oracle)
	assert.Equal(t, *defaults.DomainName, got.DomainName, "defaults fill the rest")
	assert.Empty(t, got.Factory, "absent everywhere stays zero")
}

func TestMergeNetworkZeroValueIsExplicit(t *testing.T) {
	explicit := NetworkFragment{ChainID: ptr(int64(0)), RPCURL: ptr("")}
	got := MergeNetwork(explicit, NetworkFragment{ChainID: ptr(int64(5))}, DefaultNetwork())

	assert.Zero(t, got.ChainID)
	assert.Empty(t, got.RPCURL)
}

func TestMergeNetworkDoesNotAliasInputs(t *testing.T) {
	explicit := NetworkFragment{RPCURL: ptr("a")}
	got := MergeNetwork(explicit, NetworkFragment{}, NetworkFragment{})
	*explicit.RPCURL = "b"
	assert.Equal(t, "a", got.RPCURL)
}

func TestNetworkFromEnv(t *testing.T) {
	f := NetworkFromEnv(lookupFrom(map[string]string{
		"MARKETMIRROR_NETWORK_CHAIN_ID": "8453",
		"MARKETMIRROR_NETWORK_ORACLE":   oracleAddr,
		"MARKETMIRROR_NETWORK_POOL":     "",
	}))

	require.NotNil(t, f.ChainID)
	assert.Equal(t, int64(8453), *f.ChainID)
	require.NotNil(t, f.Oracle)
	assert.Equal(t, oracleAddr, *f.Oracle)
	assert.Nil(t, f.Pool, "empty variable is unset")
	assert.Nil(t, f.RPCURL)

	bad := NetworkFromEnv(lookupFrom(map[string]string{"MARKETMIRROR_NETWORK_CHAIN_ID": "x"}))
	assert.Nil(t, bad.ChainID)
}

func TestOracleDomain(t *testing.T) {
	n := validConfig().Chain
	d := n.OracleDomain()
	assert.Equal(t, n.DomainName, d.Name)
	assert.Equal(t, n.DomainVersion, d.Version)
	assert.Equal(t, int64(31337), d.ChainID.Int64())
	assert.Equal(t, strings.ToLower(oracleAddr), strings.ToLower(d.VerifyingContract.Hex()))
}

func TestValidateDefaultsWithContracts(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.LogLevel = "verbose"
	cfg.Resolver.MinConfidence = 101
	cfg.Notify.Events = []string{"bogus"}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		`unknown mode "trade"`,
		`unknown log_level "verbose"`,
		"network: factory address",
		"network: oracle address",
		"resolver: min_confidence",
		`notify: unknown event "bogus"`,
	} {
		assert.Contains(t, msg, want)
	}
}

func TestValidateModeRequirements(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "watch without markets",
			mutate: func(c *Config) { c.Mode = "watch" },
			want:   "watch: markets must not be empty",
		},
		{
			name: "auto finalize without key",
			mutate: func(c *Config) {
				c.Mode = "watch"
				c.Watch.Markets = []uint64{1}
				c.Watch.AutoFinalize = true
			},
			want: "proposer: a key is required",
		},
		{
			name:   "encrypted key without password",
			mutate: func(c *Config) { c.Proposer.EncryptedKeyPath = "/keys/proposer.json" },
			want:   "key_password is required",
		},
		{
			name: "rate limit without redis",
			mutate: func(c *Config) {
				c.Redis.Enabled = false
			},
			want: "server: rate_limit requires redis",
		},
		{
			name:   "resolver key without secret",
			mutate: func(c *Config) { c.Resolver.URL = "https://ai"; c.Resolver.APIKey = "k" },
			want:   "api_key and api_secret must be set together",
		},
		{
			name:   "bad oracle signer",
			mutate: func(c *Config) { c.Resolver.OracleSigner = "nope" },
			want:   "oracle_signer",
		},
		{
			name: "no metadata source",
			mutate: func(c *Config) {
				c.Metadata.Gateways = nil
			},
			want: "metadata: at least one gateway",
		},
		{
			name: "postgres pool bounds",
			mutate: func(c *Config) {
				c.Postgres.Enabled = true
				c.Postgres.PoolMinConns = 20
			},
			want: "pool_min_conns must not exceed",
		},
		{
			name:   "slippage above 100%",
			mutate: func(c *Config) { c.Trade.DefaultSlippageBps = 10001 },
			want:   "default_slippage_bps",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateWatchModeWithKey(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "full"
	cfg.Watch.Markets = []uint64{1, 2}
	cfg.Watch.AutoFinalize = true
	cfg.Proposer.PrivateKey = "0xabc"
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.NeedsServer())
	assert.True(t, cfg.NeedsWatcher())
}

func TestLoadLayersFileEnvAndDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "marketmirror.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "watch"

[network]
chain_id = 137
pool = "`+poolAddr+`"

[watch]
markets = [3, 7]
poll_interval = "15s"

[redis]
enabled = true
`), 0o600))

	t.Setenv("MARKETMIRROR_NETWORK_CHAIN_ID", "1")
	t.Setenv("MARKETMIRROR_NETWORK_POOL", stakingAddr)
	t.Setenv("MARKETMIRROR_NETWORK_ORACLE", oracleAddr)
	t.Setenv("MARKETMIRROR_LOG_LEVEL", "debug")
	t.Setenv("MARKETMIRROR_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "watch", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []uint64{3, 7}, cfg.Watch.Markets)
	assert.Equal(t, 15*time.Second, cfg.Watch.PollInterval.Duration)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)

	assert.Equal(t, int64(137), cfg.Chain.ChainID, "file beats env")
	assert.Equal(t, poolAddr, cfg.Chain.Pool)
	assert.Equal(t, oracleAddr, cfg.Chain.Oracle, "env beats defaults")
	assert.Equal(t, "http://localhost:8545", cfg.Chain.RPCURL)
}

func TestLoadEnvOverridesScalars(t *testing.T) {
	t.Setenv("MARKETMIRROR_WATCH_MARKETS", "4, 5")
	t.Setenv("MARKETMIRROR_SERVER_PORT", "9090")
	t.Setenv("MARKETMIRROR_TRADE_DEVIATION_ALERT_PERCENT", "2.5")
	t.Setenv("MARKETMIRROR_REDIS_PARAM_TTL", "90s")
	t.Setenv("MARKETMIRROR_POSTGRES_ENABLED", "not-a-bool")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []uint64{4, 5}, cfg.Watch.Markets)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.InDelta(t, 2.5, cfg.Trade.DeviationAlertPercent, 1e-9)
	assert.Equal(t, 90*time.Second, cfg.Redis.ParamTTL.Duration)
	assert.False(t, cfg.Postgres.Enabled, "unparsable value is ignored")
}

func TestLoadBadUintListKeepsDefault(t *testing.T) {
	t.Setenv("MARKETMIRROR_WATCH_MARKETS", "1,two")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Watch.Markets)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Proposer.PrivateKey = "0xdeadbeef"
	cfg.Postgres.Password = "pw"
	cfg.Resolver.APISecret = "s"
	cfg.Server.APIKey = "k"
	cfg.Notify.TelegramToken = "t"
	cfg.Watch.Markets = []uint64{1}

	out := RedactedConfig(&cfg)

	assert.Equal(t, redacted, out.Proposer.PrivateKey)
	assert.Equal(t, redacted, out.Postgres.Password)
	assert.Equal(t, redacted, out.Resolver.APISecret)
	assert.Equal(t, redacted, out.Server.APIKey)
	assert.Equal(t, redacted, out.Notify.TelegramToken)
	assert.Empty(t, out.Redis.Password, "empty secrets stay empty")
	assert.Equal(t, "0xdeadbeef", cfg.Proposer.PrivateKey, "original untouched")

	out.Watch.Markets[0] = 99
	assert.Equal(t, uint64(1), cfg.Watch.Markets[0])
}

func TestDurationText(t *testing.T) {
	var d duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration)
	b, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(b))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
