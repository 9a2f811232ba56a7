package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	s3blob "github.com/alanyoungcy/rebalancerbot/internal/blob/s3"
	"github.com/alanyoungcy/rebalancerbot/internal/cache/redis"
	"github.com/alanyoungcy/rebalancerbot/internal/chain"
	"github.com/alanyoungcy/rebalancerbot/internal/config"
	"github.com/alanyoungcy/rebalancerbot/internal/crypto"
	"github.com/alanyoungcy/rebalancerbot/internal/domain"
	"github.com/alanyoungcy/rebalancerbot/internal/notify"
	"github.com/alanyoungcy/rebalancerbot/internal/oracle"
	"github.com/alanyoungcy/rebalancerbot/internal/service"
	"github.com/alanyoungcy/rebalancerbot/internal/store/postgres"
	"github.com/alanyoungcy/rebalancerbot/internal/telemetry"
	"github.com/alanyoungcy/rebalancerbot/internal/venue"
)

// Dependencies bundles everything the operating modes need. Constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	AssetStore      domain.AssetStore
	PortfolioStore  domain.PortfolioStore
	AllocationStore domain.AllocationStore
	JobStore        domain.RebalanceJobStore

	// Caches / coordination
	PriceCache  domain.PriceCache
	LockManager domain.LockManager
	CycleBus    domain.EventBus

	// External access
	Chain  *chain.Reader
	Oracle *oracle.Service
	Venue  domain.SwapVenue

	// Executing identity. Empty in observe mode.
	Wallet crypto.Wallet

	// Cross-cutting
	Portfolios *service.PortfolioService
	Notifier   *notify.Notifier
	Archiver   *s3blob.Archiver
	Metrics    *telemetry.Metrics
	Registry   *prometheus.Registry
}

// Wire constructs every concrete dependency from the configuration. The
// returned cleanup releases resources in reverse construction order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// PostgreSQL.
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.AssetStore = postgres.NewAssetStore(pool)
	deps.PortfolioStore = postgres.NewPortfolioStore(pool)
	deps.AllocationStore = postgres.NewAllocationStore(pool)
	deps.JobStore = postgres.NewRebalanceJobStore(pool)

	// Redis.
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.CycleBus = redis.NewCycleBus(redisClient)

	// Chain reader.
	deps.Chain, err = chain.NewReader(chain.Config{
		RPCURL:         cfg.Chain.RPCURL,
		RequestsPerSec: cfg.Chain.RequestsPerSec,
	}, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: chain: %w", err)
	}

	// Price oracle, fed by the stream and falling back to REST.
	deps.Oracle = oracle.NewService(oracle.Config{
		StreamURL:      cfg.Oracle.StreamURL,
		HTTPURL:        cfg.Oracle.HTTPURL,
		RequestsPerSec: cfg.Oracle.RequestsPerSec,
		StaleAfter:     cfg.Oracle.StaleAfter.Duration,
		MinConfidence:  cfg.Oracle.MinConfidence,
	}, deps.PriceCache, logger)

	// Executing wallet and venue, skipped in observe mode.
	if strings.ToLower(cfg.Mode) != "observe" {
		deps.Wallet, err = crypto.ResolveWallet(crypto.WalletConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet: %w", err)
		}
		deps.Venue = venue.NewClient(venue.Config{
			BaseURL:    cfg.Venue.BaseURL,
			APIKey:     cfg.Venue.APIKey,
			MaxRetries: cfg.Venue.MaxRetries,
		}, logger)
	}

	// Management service.
	deps.Portfolios = service.NewPortfolioService(
		deps.PortfolioStore, deps.AllocationStore, deps.AssetStore, deps.JobStore, logger)

	// Notifications.
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// S3 report archival, optional.
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3Client, "reports", logger)
	}

	// Telemetry.
	if cfg.Telemetry.Enabled {
		deps.Registry = prometheus.NewRegistry()
		deps.Metrics = telemetry.New(deps.Registry)
	}

	return deps, cleanup, nil
}

// registerFeeds tells the oracle which feed backs each active asset.
func registerFeeds(ctx context.Context, deps *Dependencies) error {
	assets, err := deps.AssetStore.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("wire: list active assets: %w", err)
	}
	feeds := make(map[string]string, len(assets))
	for _, a := range assets {
		if a.PriceFeedID != "" {
			feeds[a.Symbol] = a.PriceFeedID
		}
	}
	deps.Oracle.RegisterFeeds(feeds)
	return nil
}
