package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/tradecache/internal/server"
	"github.com/Sternrassler/tradecache/pkg/cache"
	"github.com/Sternrassler/tradecache/pkg/config"
	"github.com/Sternrassler/tradecache/pkg/invalidation"
	"github.com/Sternrassler/tradecache/pkg/logging"
	"github.com/Sternrassler/tradecache/pkg/monitoring"
	"github.com/Sternrassler/tradecache/pkg/ratelimit"
	"github.com/Sternrassler/tradecache/pkg/trading"
	"github.com/Sternrassler/tradecache/pkg/warming"
)

func main() {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Failed to load .env")
	}

	cfg, err := config.Load(getEnv("TRADECACHE_CONFIG", ""))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger := logging.Setup(logging.Config{
		Level:   logging.LogLevel(cfg.Logging.Level),
		Pretty:  cfg.Logging.Pretty,
		Service: "tradecache",
		Output:  os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(cfg.Redis.Options())
	defer redisClient.Close()

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Redis.DialTimeout+time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		// L2 failures are absorbed by the cache; start degraded
		logger.Warn().Err(err).Str("addr", cfg.Redis.Address).Msg("Redis not reachable at startup")
	} else {
		logger.Info().Str("addr", cfg.Redis.Address).Msg("Connected to Redis")
	}
	cancel()

	a, err := build(cfg, redisClient, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build service")
	}

	if err := a.run(ctx, cfg.Server.ShutdownTimeout); err != nil {
		logger.Fatal().Err(err).Msg("Service failed")
	}
	logger.Info().Msg("Service stopped")
}

// app holds the wired components of the service.
type app struct {
	manager *cache.Manager
	engine  *invalidation.Engine
	layer   *trading.Layer
	monitor *monitoring.Monitor
	warmer  *warming.Warmer
	server  *server.Server
	logger  zerolog.Logger
}

// build constructs Manager, Engine, trading Layer, Monitor, Warmer and the
// HTTP server from cfg. Nothing is started.
func build(cfg *config.Config, redisClient *redis.Client, logger zerolog.Logger) (*app, error) {
	componentLogger := func(name string) *zerolog.Logger {
		l := logger.With().Str("component", name).Logger()
		return &l
	}

	mcfg := cache.DefaultManagerConfig(cache.NewRedisStore(redisClient,
		cache.WithScanLimits(cfg.Cache.ScanCount, cfg.Cache.MaxScanKeys)))
	mcfg.L1MaxEntries = cfg.Cache.L1MaxEntries
	mcfg.SweepInterval = cfg.Cache.SweepInterval
	mcfg.ShutdownDrainTimeout = cfg.Cache.ShutdownDrainTimeout
	mcfg.WriteBehind.FlushInterval = cfg.Cache.FlushInterval
	mcfg.WriteBehind.BatchSize = cfg.Cache.FlushBatchSize
	mcfg.WriteBehind.MaxDepth = cfg.Cache.WriteBehindMaxDepth
	mcfg.WriteBehind.MaxAttempts = cfg.Cache.WriteBehindMaxAttempts
	mcfg.WriteBehind.MaxBackoff = cfg.Cache.WriteBehindMaxBackoff
	mcfg.WriteBehind.DeadLetterCapacity = cfg.Cache.DeadLetterCapacity
	mcfg.Logger = componentLogger("cache-manager")
	manager, err := cache.NewManager(mcfg)
	if err != nil {
		return nil, fmt.Errorf("cache manager: %w", err)
	}

	layer, err := trading.New(manager, trading.Config{
		QuoteTTL:            cfg.Trading.QuoteTTL,
		OrderBookTTL:        cfg.Trading.OrderBookTTL,
		SessionTTL:          cfg.Trading.SessionTTL,
		PortfolioTTL:        cfg.Trading.PortfolioTTL,
		MetricsTTL:          cfg.Trading.MetricsTTL,
		QuoteUpdateSpec:     cfg.Trading.QuoteUpdates,
		OrderBookUpdateSpec: cfg.Trading.OrderBookUpdates,
		PortfolioUpdateSpec: cfg.Trading.PortfolioUpdates,
		MetricsUpdateSpec:   cfg.Trading.MetricsUpdates,
		Logger:              componentLogger("trading"),
	})
	if err != nil {
		return nil, fmt.Errorf("trading layer: %w", err)
	}
	for _, symbol := range cfg.Trading.Symbols {
		layer.TrackSymbol(symbol)
	}

	engine, err := invalidation.New(manager, invalidation.Config{
		LazyInterval:  cfg.Invalidation.LazyInterval,
		LazyBatchSize: cfg.Invalidation.LazyBatchSize,
		EventCapacity: cfg.Invalidation.EventCapacity,
		Hooks:         []invalidation.Hook{layer},
		Logger:        componentLogger("invalidation"),
	})
	if err != nil {
		return nil, fmt.Errorf("invalidation engine: %w", err)
	}

	monitor, err := monitoring.New(manager, monitoring.Config{
		Interval:      cfg.Monitoring.SampleInterval,
		HistorySize:   cfg.Monitoring.HistorySize,
		AlertCapacity: cfg.Monitoring.AlertCapacity,
		Domain:        func() any { return layer.Stats() },
		Logger:        componentLogger("monitoring"),
	})
	if err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}

	loaders := make(map[string]warming.Loader, len(cfg.Warming.Upstreams))
	for dataType, base := range cfg.Warming.Upstreams {
		lcfg := warming.DefaultHTTPLoaderConfig(base)
		lcfg.UserAgent = cfg.Warming.UserAgent
		lcfg.Logger = componentLogger("http-loader")
		loader, err := warming.NewHTTPLoader(lcfg)
		if err != nil {
			return nil, fmt.Errorf("loader for %s: %w", dataType, err)
		}
		loaders[dataType] = loader
	}
	warmer, err := warming.New(manager, warming.Config{
		Loaders:     loaders,
		Concurrency: cfg.Warming.Concurrency,
		Timeout:     cfg.Warming.Timeout,
		Logger:      componentLogger("warmer"),
	})
	if err != nil {
		return nil, fmt.Errorf("warmer: %w", err)
	}
	layer.AddListener(refreshListener(warmer, logger))

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter, err = ratelimit.NewLimiter(redisClient, ratelimit.Config{
			Limit:  cfg.RateLimit.Limit,
			Window: cfg.RateLimit.Window,
			Logger: componentLogger("ratelimit"),
		})
		if err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	srv, err := server.New(server.Deps{
		Cache:   manager,
		Engine:  engine,
		Monitor: monitor,
		Trading: layer,
		Warmer:  warmer,
		Limiter: limiter,
	}, server.Config{
		Addr:         cfg.Server.Addr(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		Logger:       componentLogger("server"),
	})
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	return &app{
		manager: manager,
		engine:  engine,
		layer:   layer,
		monitor: monitor,
		warmer:  warmer,
		server:  srv,
		logger:  logger,
	}, nil
}

// refreshListener re-warms the keys of update events whose data type has an
// upstream loader.
func refreshListener(w *warming.Warmer, logger zerolog.Logger) trading.UpdateListener {
	return trading.UpdateListenerFunc(func(ctx context.Context, ev trading.UpdateEvent) {
		if len(ev.Keys) == 0 || !w.HasLoader(ev.Kind) {
			return
		}
		reqs := make([]warming.Request, len(ev.Keys))
		for i, key := range ev.Keys {
			reqs[i] = warming.Request{Key: key, DataType: ev.Kind}
		}
		for _, res := range w.WarmBatch(ctx, reqs) {
			if res.Error != "" {
				logger.Warn().Str("key", res.Key).Str("data_type", res.DataType).Str("error", res.Error).Msg("Scheduled refresh failed")
			}
		}
	})
}

// run starts the background loops and the HTTP server and blocks until ctx
// is cancelled, then shuts everything down in reverse order.
func (a *app) run(ctx context.Context, shutdownTimeout time.Duration) error {
	a.manager.Start()
	a.engine.Start()
	a.monitor.Start()
	a.layer.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(a.server.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.shutdown(shutdownCtx)
	})
	return g.Wait()
}

// shutdown stops the server first so no request touches a closed component.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	a.layer.Close()
	a.monitor.Close()
	a.engine.Close()
	if err := a.manager.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("cache manager: %w", err))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
