package app

import (
	"context"
	"fmt"

	"github.com/mselser95/botledger/internal/circuitbreaker"
	"github.com/mselser95/botledger/internal/exchange"
	"github.com/mselser95/botledger/internal/ledger"
	"github.com/mselser95/botledger/internal/supervisor"
	"github.com/mselser95/botledger/pkg/cache"
	"github.com/mselser95/botledger/pkg/config"
	"github.com/mselser95/botledger/pkg/healthprobe"
	"github.com/mselser95/botledger/pkg/httpserver"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// New creates a new application instance.
func New(cfg *config.Config, logger *zap.Logger, opts *Options) (*App, error) {
	if opts == nil {
		opts = &Options{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	store, err := OpenLedger(ctx, cfg, logger, !opts.SkipMigrate)
	if err != nil {
		cancel()
		return nil, err
	}

	limitsCache, err := setupCache(logger)
	if err != nil {
		cancel()
		_ = store.Close()
		return nil, fmt.Errorf("setup cache: %w", err)
	}

	ex, err := setupExchange(cfg, logger, limitsCache)
	if err != nil {
		cancel()
		limitsCache.Close()
		_ = store.Close()
		return nil, fmt.Errorf("setup exchange: %w", err)
	}

	healthChecker := healthprobe.New()

	sup := supervisor.New(&supervisor.Config{
		Registry:         store,
		Factory:          runnerFactory(cfg, logger, store, ex),
		Interval:         cfg.ReconcileInterval,
		ShutdownTimeout:  cfg.StopGrace,
		Logger:           logger.Named("supervisor"),
		OnFirstReconcile: func() { healthChecker.SetReady(true) },
	})

	httpServer := httpserver.New(&httpserver.Config{
		Port:          cfg.HTTPPort,
		Logger:        logger,
		HealthChecker: healthChecker,
		Bots:          store,
	})

	return &App{
		cfg:           cfg,
		logger:        logger,
		healthChecker: healthChecker,
		httpServer:    httpServer,
		store:         store,
		limitsCache:   limitsCache,
		exchange:      ex,
		supervisor:    sup,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// OpenLedger opens the configured ledger store and optionally migrates it.
func OpenLedger(ctx context.Context, cfg *config.Config, logger *zap.Logger, migrate bool) (*ledger.Store, error) {
	lcfg := &ledger.Config{Driver: cfg.LedgerDriver, Logger: logger.Named("ledger")}
	switch cfg.LedgerDriver {
	case "postgres":
		lcfg.DSN = cfg.PostgresDSN()
	default:
		lcfg.DSN = cfg.SQLitePath
	}

	store, err := ledger.Open(lcfg)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	if migrate {
		err = store.Migrate(ctx)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("migrate ledger: %w", err)
		}
	}

	return store, nil
}

func setupCache(logger *zap.Logger) (*cache.RistrettoCache, error) {
	return cache.NewRistrettoCache(&cache.RistrettoConfig{
		Name:        "market-limits",
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
		Logger:      logger,
	})
}

// setupExchange returns the live client, or a paper adapter priced from it,
// with market-data reads behind a circuit breaker.
func setupExchange(cfg *config.Config, logger *zap.Logger, limitsCache cache.Cache) (exchange.Adapter, error) {
	client := exchange.NewClient(&exchange.ClientConfig{
		BaseURL:     cfg.ExchangeAdapterURL,
		Timeout:     cfg.ExchangeTimeout,
		RateLimit:   cfg.ExchangeRateLimit,
		RateBurst:   cfg.ExchangeRateBurst,
		LimitsCache: limitsCache,
		LimitsTTL:   cfg.ExchangeLimitsTTL,
		Logger:      logger.Named("exchange"),
	})

	breaker, err := circuitbreaker.New(&circuitbreaker.Config{
		Name:             "market-data",
		FailureThreshold: cfg.BreakerFailures,
		Cooldown:         cfg.BreakerCooldown,
		Logger:           logger.Named("circuit-breaker"),
	})
	if err != nil {
		return nil, fmt.Errorf("create circuit breaker: %w", err)
	}

	if cfg.ExecutionMode == "live" {
		logger.Warn("live-execution-enabled", zap.String("adapter-url", cfg.ExchangeAdapterURL))
		return circuitbreaker.Guard(client, breaker), nil
	}

	logger.Info("paper-execution-enabled",
		zap.Float64("quote-balance", cfg.PaperQuoteBalance),
		zap.Float64("fee-rate", cfg.PaperFeeRate))

	// Paper fills price from the raw client so liquidation never hits the breaker.
	paper := exchange.NewPaperAdapter(&exchange.PaperConfig{
		Source:       client,
		QuoteBalance: decimal.NewFromFloat(cfg.PaperQuoteBalance),
		FeeRate:      decimal.NewFromFloat(cfg.PaperFeeRate),
		Logger:       logger.Named("paper"),
	})

	return circuitbreaker.Guard(paper, breaker), nil
}

func runnerFactory(cfg *config.Config, logger *zap.Logger, store *ledger.Store, ex exchange.Adapter) supervisor.RunnerFactory {
	rcfg := supervisor.RunnerConfig{
		TickInterval:      cfg.TickInterval,
		StopCheckInterval: cfg.StopCheckInterval,
		ErrorBackoff:      cfg.ErrorBackoff,
		StopGrace:         cfg.StopGrace,
	}
	return func(bot ledger.Bot) supervisor.Task {
		return supervisor.NewRunner(bot, store, ex, rcfg, logger.Named("runner"))
	}
}
