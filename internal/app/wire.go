package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/alanyoungcy/yieldrouter/internal/blob/s3"
	"github.com/alanyoungcy/yieldrouter/internal/cache/redis"
	"github.com/alanyoungcy/yieldrouter/internal/config"
	"github.com/alanyoungcy/yieldrouter/internal/domain"
	"github.com/alanyoungcy/yieldrouter/internal/metrics"
	"github.com/alanyoungcy/yieldrouter/internal/notify"
	"github.com/alanyoungcy/yieldrouter/internal/platform"
	"github.com/alanyoungcy/yieldrouter/internal/platform/jupiter"
	"github.com/alanyoungcy/yieldrouter/internal/platform/kamino"
	"github.com/alanyoungcy/yieldrouter/internal/quotecache"
	"github.com/alanyoungcy/yieldrouter/internal/server/handler"
	"github.com/alanyoungcy/yieldrouter/internal/service"
	"github.com/alanyoungcy/yieldrouter/internal/store/memory"
	"github.com/alanyoungcy/yieldrouter/internal/store/postgres"
)

// Dependencies bundles everything the modes need. It is constructed by Wire
// and torn down by the returned cleanup function.
type Dependencies struct {
	// Observability
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	// Stores
	PositionStore    domain.PositionStore
	TransactionStore domain.TransactionStore
	AuditStore       domain.AuditStore

	// Caches and coordination
	SharedStore domain.SharedStore
	LockManager domain.LockManager // nil unless ledger.distributed_lock
	RateLimiter domain.RateLimiter // nil without redis
	QuoteCache  *quotecache.Cache

	// Providers and services
	Providers  *platform.Registry
	Allocation *service.AllocationService
	Ledger     *service.LedgerService
	Planner    *service.PlannerService
	Recorder   *service.Recorder
	Router     *service.Router

	// Archive, nil unless archiving is enabled
	Archiver domain.Archiver

	// Notifier delivers operator alerts. It has no senders unless configured.
	Notifier *notify.Notifier

	// Pingers are checked by the readiness endpoint.
	Pingers map[string]handler.Pinger
}

// pingFunc adapts a health function to handler.Pinger.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// needsArchive returns true when the archive job runs in mode.
func needsArchive(cfg *config.Config) bool {
	switch strings.ToLower(cfg.Mode) {
	case "archive":
		return true
	case "full":
		return cfg.Archive.Enabled
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	deps := &Dependencies{
		Registry: reg,
		Metrics:  metrics.New(reg),
		Notifier: notify.NewNotifier(notifySenders(cfg.Notify), cfg.Notify.Events, logger),
		Pingers:  make(map[string]handler.Pinger),
	}

	// --- Stores ---
	switch strings.ToLower(cfg.Storage) {
	case "memory":
		logger.WarnContext(ctx, "using in-memory storage, state is lost on restart")
		deps.PositionStore = memory.NewPositionStore()
		deps.TransactionStore = memory.NewTransactionStore()
		deps.AuditStore = memory.NewAuditStore()
	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:              cfg.Database.DSN,
			Host:             cfg.Database.Host,
			Port:             cfg.Database.Port,
			Database:         cfg.Database.Database,
			User:             cfg.Database.User,
			Password:         cfg.Database.Password,
			SSLMode:          cfg.Database.SSLMode,
			MaxConns:         cfg.Database.PoolMaxConns,
			MinConns:         cfg.Database.PoolMinConns,
			StatementTimeout: cfg.Database.StatementTimeout.Duration,
			ApplicationName:  "yieldrouter",
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.TransactionStore = postgres.NewTransactionStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Pingers["postgres"] = pgClient
	}

	// --- Redis (optional) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Namespace:  cfg.Redis.Namespace,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SharedStore = redis.NewSharedStore(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		if cfg.Ledger.DistributedLock {
			deps.LockManager = redis.NewLockManager(redisClient)
		}
		deps.Pingers["redis"] = redisClient
	} else {
		deps.SharedStore = memory.NewSharedStore()
	}

	// --- Quote cache ---
	qc, err := quotecache.New(quotecache.Config{
		LocalMaxCost:      cfg.Cache.LocalMaxCost,
		LocalNumCounters:  cfg.Cache.LocalNumCounters,
		FetchTimeout:      cfg.Cache.FetchTimeout.Duration,
		StaleWindow:       cfg.Cache.StaleWindow.Duration,
		WarmUpConcurrency: cfg.Cache.WarmUpConcurrency,
	}, deps.SharedStore, deps.Metrics, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: quote cache: %w", err))
	}
	closers = append(closers, qc.Close)
	deps.QuoteCache = qc

	// --- Providers ---
	var providers []domain.YieldProvider
	if cfg.Jupiter.Enabled {
		client := jupiter.NewClient(jupiter.ClientConfig{
			BaseURL:           cfg.Jupiter.BaseURL,
			APIKey:            cfg.Jupiter.APIKey,
			Timeout:           cfg.Jupiter.Timeout.Duration,
			RequestsPerMinute: cfg.Jupiter.RequestsPerMinute,
		}, deps.RateLimiter)
		providers = append(providers, jupiter.NewProvider(client, jupiter.ProviderConfig{
			BuildViaAPI: cfg.Jupiter.BuildViaAPI,
		}, logger))
	}
	if cfg.Kamino.Enabled {
		client := kamino.NewClient(kamino.ClientConfig{
			BaseURL:    cfg.Kamino.BaseURL,
			Timeout:    cfg.Kamino.Timeout.Duration,
			Strategies: kaminoStrategies(cfg.Kamino.Strategies),
		})
		providers = append(providers, kamino.NewProvider(client, qc, logger))
	}
	deps.Providers, err = platform.NewRegistry(deps.Metrics, providers...)
	if err != nil {
		return fail(fmt.Errorf("wire: providers: %w", err))
	}

	// --- Services ---
	costBasis, err := domain.ParseCostBasisMethod(cfg.Ledger.CostBasis)
	if err != nil {
		return fail(fmt.Errorf("wire: ledger: %w", err))
	}
	deps.Allocation = service.NewAllocationService(deps.Providers, qc, logger)
	deps.Ledger = service.NewLedgerService(service.LedgerConfig{
		CostBasis:   costBasis,
		MaxRetries:  cfg.Ledger.MaxRetries,
		BaseBackoff: cfg.Ledger.BaseBackoff.Duration,
		LockTTL:     cfg.Ledger.LockTTL.Duration,
	}, deps.PositionStore, deps.LockManager, deps.AuditStore, deps.Metrics, logger)
	deps.Planner = service.NewPlannerService(service.PlannerConfig{
		Deadline:           cfg.Planner.Deadline.Duration,
		DefaultMaxSlippage: cfg.Planner.DefaultMaxSlippage,
	}, deps.Ledger, deps.Providers, qc, deps.Metrics, logger)
	deps.Recorder = service.NewRecorder(deps.TransactionStore, logger)
	deps.Router = service.NewRouter(deps.Allocation, deps.Ledger, deps.Planner, deps.Recorder, deps.Providers, qc, logger)

	// --- S3 archive (only when archiving) ---
	if needsArchive(cfg) {
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
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.TransactionStore,
			deps.AuditStore,
			logger,
		)
		deps.Pingers["s3"] = pingFunc(s3Client.Health)
	}

	logger.InfoContext(ctx, "dependencies wired",
		slog.String("storage", cfg.Storage),
		slog.Bool("redis", cfg.Redis.Enabled),
		slog.Any("providers", deps.Providers.IDs()),
		slog.Bool("archive", deps.Archiver != nil),
		slog.Any("alert_senders", deps.Notifier.Senders()),
	)
	return deps, cleanup, nil
}

func notifySenders(cfg config.NotifyConfig) []notify.Sender {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhook != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhook))
	}
	return senders
}

func kaminoStrategies(in []config.KaminoStrategyConfig) []kamino.Strategy {
	if len(in) == 0 {
		return nil
	}
	out := make([]kamino.Strategy, 0, len(in))
	for _, s := range in {
		out = append(out, kamino.Strategy{
			ID:         s.ID,
			Asset:      strings.ToUpper(s.Asset),
			APY:        s.APY,
			TVL:        s.TVL,
			RiskScore:  s.RiskScore,
			MinDeposit: s.MinDeposit,
			MaxDeposit: s.MaxDeposit,
		})
	}
	return out
}
