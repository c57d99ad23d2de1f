// Package app assembles the store, event pipeline and services from config.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	fastrouter "github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	apiHandler "github.com/fastygo/storecore/api/handler"
	"github.com/fastygo/storecore/internal/config"
	"github.com/fastygo/storecore/internal/events"
	"github.com/fastygo/storecore/internal/handlers"
	"github.com/fastygo/storecore/internal/infrastructure/buffer"
	"github.com/fastygo/storecore/internal/infrastructure/monitor"
	pgInfra "github.com/fastygo/storecore/internal/infrastructure/postgres"
	redisInfra "github.com/fastygo/storecore/internal/infrastructure/redis"
	"github.com/fastygo/storecore/internal/router"
	"github.com/fastygo/storecore/internal/services"
	"github.com/fastygo/storecore/internal/services/lifecycle"
	"github.com/fastygo/storecore/internal/uow"
	"github.com/fastygo/storecore/pkg/httpcontext"
	"github.com/fastygo/storecore/repository"
	"github.com/fastygo/storecore/repository/memory"
	"github.com/fastygo/storecore/repository/postgres"
	redisRepo "github.com/fastygo/storecore/repository/redis"
	"github.com/fastygo/storecore/repository/sqlite"
	"github.com/fastygo/storecore/usecase/cart"
	"github.com/fastygo/storecore/usecase/catalog"
	"github.com/fastygo/storecore/usecase/order"
)

const metricsNamespace = "storecore"

// App is the assembled process. Every component it starts has a hook on the
// lifecycle manager passed to Build.
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Store      repository.TxBeginner
	Dispatcher *events.Dispatcher
	Metrics    *events.Metrics
	Monitor    *monitor.Monitor
	Retry      *services.RetryProcessor

	Catalog *catalog.Service
	Carts   *cart.Service
	Orders  *order.Service

	deadLetters *buffer.Store
}

// Build wires the application. On error the components already started are
// left registered on manager, so the caller still shuts them down.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, manager *lifecycle.Manager) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	store, pinger, err := openStore(ctx, cfg, logger, manager)
	if err != nil {
		return nil, err
	}
	a.Store = store

	redisClient, err := redisInfra.NewClient(cfg.Redis, logger)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	if redisClient != nil {
		manager.RegisterCloser("redis", redisClient)
	}

	deadLetters, err := buffer.Open(cfg.Buffer.Path, "")
	if err != nil {
		return nil, fmt.Errorf("dead letter buffer: %w", err)
	}
	manager.RegisterCloser("dead_letters", deadLetters)
	a.deadLetters = deadLetters

	a.Metrics = events.NewMetrics(metricsNamespace)
	a.Dispatcher = events.NewDispatcher(events.Config{
		Workers:        cfg.Dispatcher.Workers,
		QueueSize:      cfg.Dispatcher.QueueSize,
		HandlerTimeout: cfg.Dispatcher.HandlerTimeout,
	}, logger.Named("events"), events.WithMetrics(a.Metrics), events.WithDeadLetterSink(services.NewBufferBridge(deadLetters)))
	manager.Register("dispatcher", a.Dispatcher.Close)

	opts := handlers.Options{
		Store:   store,
		Sender:  newSender(cfg, logger),
		Breaker: events.BreakerConfig(cfg.Breaker),
		Logger:  logger.Named("handlers"),
	}
	var productCache catalog.ProductCache
	if redisClient != nil {
		cache := redisRepo.NewProductCache(redisClient, cfg.Redis.CacheTTL)
		opts.Cache = cache
		productCache = cache
	}
	if err := handlers.Register(a.Dispatcher, opts); err != nil {
		return nil, fmt.Errorf("register handlers: %w", err)
	}

	factory := uow.NewFactory(store, a.Dispatcher, logger.Named("uow"))
	a.Catalog = catalog.New(factory, productCache, logger.Named("catalog"))
	a.Carts = cart.New(factory, logger.Named("cart"))
	a.Orders = order.New(factory, logger.Named("order"))

	a.Monitor = monitor.New(pinger, redisClient, deadLetters, cfg.Monitor.Interval, logger.Named("monitor"))
	a.Monitor.Start()
	manager.Register("monitor", func(context.Context) error {
		a.Monitor.Stop()
		return nil
	})

	a.Retry = services.NewRetryProcessor(deadLetters, a.Monitor, a.Dispatcher, logger.Named("retry"), services.ProcessorConfig{
		Interval:   cfg.Buffer.SyncInterval,
		BatchSize:  cfg.Buffer.BatchSize,
		MaxRetries: cfg.Buffer.MaxRetry,
		Retention:  time.Duration(cfg.Buffer.RetentionHours) * time.Hour,
	})
	a.Retry.Start()
	manager.Register("retry_processor", a.Retry.Stop)

	logger.Info("application assembled",
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("redis", redisClient != nil),
		zap.Int("workers", cfg.Dispatcher.Workers),
	)
	return a, nil
}

// Router returns the ops endpoints.
func (a *App) Router() *fastrouter.Router {
	adapter := httpcontext.NewAdapter(a.Config.Context.RequestTimeout)
	handlers := router.Handlers{
		Health: apiHandler.NewHealthHandler(a.Monitor, adapter, a.Logger),
		Ops:    apiHandler.NewOpsHandler(a.Dispatcher, a.Retry, adapter, a.Logger),
	}
	if a.Config.HTTP.EnableMetrics {
		handlers.Metrics = apiHandler.NewMetricsHandler(a.Metrics.Registry())
	}
	return router.New(handlers)
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger, manager *lifecycle.Manager) (repository.TxBeginner, monitor.Pinger, error) {
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
			return nil, nil, err
		}
		store, err := sqlite.Open(ctx, sqlite.Config{Path: cfg.Storage.SQLitePath, BusyTimeout: cfg.Storage.LockTimeout})
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		manager.RegisterCloser("sqlite", store)
		logger.Info("sqlite store opened", zap.String("path", cfg.Storage.SQLitePath))
		return store, store, nil

	case config.DriverPostgres:
		if err := pgInfra.RunMigrations(cfg, logger); err != nil {
			return nil, nil, fmt.Errorf("migrations: %w", err)
		}
		pool, err := pgInfra.NewPool(ctx, cfg.Database, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		manager.Register("postgres", func(context.Context) error {
			pool.Close()
			return nil
		})
		return postgres.NewStore(pool, cfg.Storage.LockTimeout), pool, nil

	default:
		store := memory.New(memory.WithLockTimeout(cfg.Storage.LockTimeout))
		manager.RegisterCloser("memory_store", store)
		return store, store, nil
	}
}

func newSender(cfg *config.Config, logger *zap.Logger) handlers.Sender {
	if cfg.Notifier.WebhookURL == "" {
		return handlers.NewLogSender(logger.Named("notifications"))
	}
	client := &fasthttp.Client{Name: cfg.AppName}
	return handlers.NewWebhookSender(client, cfg.Notifier.WebhookURL, cfg.Notifier.Timeout)
}
