package app

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/marketmirror/internal/blob/s3"
	"github.com/alanyoungcy/marketmirror/internal/cache/redis"
	"github.com/alanyoungcy/marketmirror/internal/config"
	"github.com/alanyoungcy/marketmirror/internal/crypto"
	"github.com/alanyoungcy/marketmirror/internal/domain"
	"github.com/alanyoungcy/marketmirror/internal/ledger"
	"github.com/alanyoungcy/marketmirror/internal/ledger/evm"
	"github.com/alanyoungcy/marketmirror/internal/metadata"
	"github.com/alanyoungcy/marketmirror/internal/notify"
	"github.com/alanyoungcy/marketmirror/internal/platform/airesolver"
	"github.com/alanyoungcy/marketmirror/internal/server/handler"
	"github.com/alanyoungcy/marketmirror/internal/store/postgres"
)

// Dependencies bundles every collaborator the run modes need. Optional
// backends (postgres, redis, s3, resolver) are nil when disabled.
type Dependencies struct {
	// Ledger
	Chain  *evm.Ledger
	Ledger domain.Ledger

	// Stores
	Executions  domain.TradeExecutionStore
	Resolutions domain.ResolutionStore
	Audit       domain.AuditStore

	// Caches
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter

	// Collaborators
	Metadata *metadata.Fetcher
	Resolver *airesolver.Client
	Notifier *notify.Notifier

	// Health probes by dependency name.
	Checks map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from cfg and
// returns them together with a cleanup function that releases them in
// reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{Checks: make(map[string]handler.HealthCheck)}

	// --- Ledger ---
	src := crypto.KeySource{
		RawPrivateKey:    cfg.Proposer.PrivateKey,
		EncryptedKeyPath: cfg.Proposer.EncryptedKeyPath,
		KeyPassword:      cfg.Proposer.KeyPassword,
	}
	var key *ecdsa.PrivateKey
	if src.Configured() {
		k, err := crypto.LoadSigningKey(src)
		if err != nil {
			return fail("proposer key", err)
		}
		key = k
	} else {
		logger.WarnContext(ctx, "no proposer key configured; ledger is read-only")
	}

	chain, closeChain, err := evm.Dial(ctx, cfg.Chain.RPCURL, evm.Options{
		ChainID: cfg.Chain.ChainIDBig(),
		Contracts: evm.Contracts{
			Factory: common.HexToAddress(cfg.Chain.Factory),
			Pool:    common.HexToAddress(cfg.Chain.Pool),
			Oracle:  common.HexToAddress(cfg.Chain.Oracle),
			Staking: common.HexToAddress(cfg.Chain.Staking),
		},
		Key:              key,
		PollInterval:     cfg.Proposer.PollInterval.Duration,
		GasBufferPercent: uint64(cfg.Proposer.GasBufferPercent),
		SubmitTimeout:    cfg.Proposer.SubmitTimeout.Duration,
	}, logger)
	if err != nil {
		return fail("ledger", err)
	}
	closers = append(closers, closeChain)
	deps.Chain = chain
	deps.Checks["ledger"] = func(ctx context.Context) error {
		_, err := chain.GetDisputeWindow(ctx)
		return err
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:         cfg.Postgres.DSN,
			Host:        cfg.Postgres.Host,
			Port:        cfg.Postgres.Port,
			Database:    cfg.Postgres.Database,
			User:        cfg.Postgres.User,
			Password:    cfg.Postgres.Password,
			SSLMode:     cfg.Postgres.SSLMode,
			MaxConns:    cfg.Postgres.PoolMaxConns,
			MinConns:    cfg.Postgres.PoolMinConns,
			MaxConnIdle: cfg.Postgres.MaxConnIdle.Duration,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		pool := pgClient.Pool()
		deps.Executions = postgres.NewTradeExecutionStore(pool)
		deps.Resolutions = postgres.NewResolutionStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Health
	}

	// --- Redis ---
	var params domain.ParamCache
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		params = redis.NewParamCache(redisClient, cfg.Redis.ParamTTL.Duration)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	}
	deps.Ledger = ledger.NewCached(chain, params, logger)

	// --- Metadata mirrors: gateways in order, then the S3 mirror ---
	providers := make([]metadata.Provider, 0, len(cfg.Metadata.Gateways)+1)
	for _, gw := range cfg.Metadata.Gateways {
		providers = append(providers, metadata.NewGateway(gw, cfg.Metadata.Timeout.Duration))
	}
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			return fail("s3", err)
		}
		providers = append(providers, metadata.NewBlob("s3:"+s3Client.Bucket(), s3blob.NewReader(s3Client)))
		deps.Checks["s3"] = s3Client.Health
	}
	deps.Metadata, err = metadata.NewFetcher(providers, cfg.Metadata.CacheSize, logger)
	if err != nil {
		return fail("metadata", err)
	}

	// --- AI resolver ---
	if cfg.Resolver.URL != "" {
		deps.Resolver = airesolver.NewClient(cfg.Resolver.URL, &crypto.RequestAuth{
			Key:    cfg.Resolver.APIKey,
			Secret: cfg.Resolver.APISecret,
		}, cfg.Resolver.Timeout.Duration)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramAPI,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
