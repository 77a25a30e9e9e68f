package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Rifat79/renewal-service/internal/adapters/gateway"
	"github.com/Rifat79/renewal-service/internal/adapters/jobqueue"
	"github.com/Rifat79/renewal-service/internal/adapters/postgres"
	"github.com/Rifat79/renewal-service/internal/adapters/rabbitmq"
	"github.com/Rifat79/renewal-service/internal/adapters/redisstore"
	"github.com/Rifat79/renewal-service/internal/config"
	"github.com/Rifat79/renewal-service/internal/services/consumer"
	"github.com/Rifat79/renewal-service/internal/services/dispatcher"
	"github.com/Rifat79/renewal-service/internal/services/renewal"
	"github.com/Rifat79/renewal-service/internal/services/retrier"
	pkghttp "github.com/Rifat79/renewal-service/pkg/http"
	"github.com/Rifat79/renewal-service/pkg/observability"
	"github.com/Rifat79/renewal-service/pkg/resilience"
	"github.com/Rifat79/renewal-service/pkg/shutdown"
	"github.com/Rifat79/renewal-service/pkg/timeutil"
)

// Worker concurrency per operator queue
const (
	gpConcurrency   = 18
	robiConcurrency = 10
)

const shutdownTimeout = 30 * time.Second

// dialAttempts bounds the startup dial retries for the stores and broker
const dialAttempts = 5

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)
	defer logger.Sync()

	logger.Info("Starting renewal service",
		zap.String("env", string(cfg.Env)),
		zap.Int("port", cfg.Port),
	)

	ctx := context.Background()

	// Stores. Initial dials retry with backoff; orchestrators may start the
	// dependencies after the service.
	dialBackoff := resilience.DefaultExponentialBackoff()

	var dbPool *pgxpool.Pool
	err = resilience.Retry(ctx, dialAttempts, dialBackoff, func() error {
		var dialErr error
		dbPool, dialErr = postgres.NewPool(ctx, cfg.Database, logger)
		return dialErr
	})
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	var redisClient *redis.Client
	err = resilience.Retry(ctx, dialAttempts, dialBackoff, func() error {
		var dialErr error
		redisClient, dialErr = redisstore.NewClient(ctx, cfg.Redis, logger)
		return dialErr
	})
	if err != nil {
		logger.Fatal("Failed to initialize redis", zap.Error(err))
	}

	subscriptionRepo := postgres.NewSubscriptionRepository(dbPool, logger)
	billingEventRepo := postgres.NewBillingEventRepository(dbPool, logger)
	ledger := redisstore.NewResultLedger(redisClient)
	fallbackStore := redisstore.NewFallbackStore(redisClient)

	// Broker
	var broker *rabbitmq.Broker
	err = resilience.Retry(ctx, dialAttempts, dialBackoff, func() error {
		var dialErr error
		broker, dialErr = rabbitmq.NewBroker(cfg.RabbitMQ.URL(), logger)
		return dialErr
	})
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}

	// Gateways
	gpGateway := gateway.NewGPAdapter(cfg.GP,
		pkghttp.NewHTTPClient(pkghttp.GatewayClientConfig(), cfg.GP.Timeout), logger)
	robiGateway := gateway.NewRobiAdapter(cfg.Robi,
		pkghttp.NewHTTPClient(pkghttp.GatewayClientConfig(), cfg.Robi.Timeout), logger)

	// Queue host and workers
	queue := jobqueue.NewDelayedQueue(redisClient, logger)

	gpWorker := renewal.NewWorker(gpGateway, queue, ledger, dispatcher.QueueGP, true, logger)
	if err := gpWorker.Register(gpConcurrency); err != nil {
		logger.Fatal("Failed to register GP worker", zap.Error(err))
	}
	robiWorker := renewal.NewWorker(robiGateway, queue, ledger, dispatcher.QueueRobi, false, logger)
	if err := robiWorker.Register(robiConcurrency); err != nil {
		logger.Fatal("Failed to register Robi worker", zap.Error(err))
	}
	queue.Start(ctx)

	// Pipeline services
	dispatch := dispatcher.NewDispatcher(subscriptionRepo, queue, logger)
	drain := consumer.NewConsumer(ledger, subscriptionRepo, billingEventRepo, broker, fallbackStore, logger)
	sweep := retrier.NewRetrier(fallbackStore, broker, logger)

	scheduler, err := initScheduler(dispatch, drain, sweep, logger)
	if err != nil {
		logger.Fatal("Failed to initialize scheduler", zap.Error(err))
	}
	scheduler.Start()

	// HTTP surface: health and metrics
	healthChecker := observability.NewHealthChecker(dbPool, redisClient, broker)
	httpServer := initHTTPServer(cfg.Port, healthChecker, logger)

	// Shutdown order is LIFO: scheduler first, then HTTP, workers, broker,
	// stores last.
	manager := shutdown.NewManager(logger, shutdownTimeout)
	manager.Register("database", func(ctx context.Context) error {
		dbPool.Close()
		return nil
	})
	manager.Register("redis", func(ctx context.Context) error {
		return redisClient.Close()
	})
	manager.Register("broker", func(ctx context.Context) error {
		return broker.Close()
	})
	manager.Register("queue-workers", queue.Stop)
	manager.Register("http-server", httpServer.Shutdown)
	manager.Register("scheduler", func(ctx context.Context) error {
		stopCtx := scheduler.Stop()
		select {
		case <-stopCtx.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	logger.Info("Renewal service started")

	if manager.WaitForShutdown() {
		os.Exit(0)
	}
	os.Exit(1)
}

// initLogger builds the zap logger from LOG_LEVEL and environment
func initLogger(cfg *config.Config) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Logger.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	if cfg.Env == config.EnvProd {
		zapCfg := zap.NewProductionConfig()
		zapCfg.Level = zap.NewAtomicLevelAt(level)
		logger, _ := zapCfg.Build()
		return logger
	}

	zapCfg := zap.NewDevelopmentConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	logger, _ := zapCfg.Build()
	return logger
}

// initScheduler wires the three timers: daily dispatch at 01:00 Dhaka, the
// ledger drain every 10 seconds, the fallback sweep every 5 minutes. Each
// entry skips its tick while the previous one is still running.
func initScheduler(
	dispatch *dispatcher.Dispatcher,
	drain *consumer.Consumer,
	sweep *retrier.Retrier,
	logger *zap.Logger,
) (*cron.Cron, error) {
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger))
	scheduler := cron.New(
		cron.WithLocation(timeutil.LoadDhaka()),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger), cron.Recover(cronLogger)),
	)

	timeouts := resilience.DefaultTimeoutConfig()
	jobs := []struct {
		name  string
		spec  string
		bound func(context.Context) (context.Context, context.CancelFunc)
		run   func(context.Context) error
	}{
		{"daily-dispatch", "0 1 * * *", timeouts.CronContext, dispatch.Run},
		{"ledger-drain", "@every 10s", timeouts.DrainContext, drain.Run},
		{"fallback-sweep", "@every 5m", timeouts.SweepContext, sweep.Run},
	}

	for _, job := range jobs {
		job := job
		_, err := scheduler.AddFunc(job.spec, func() {
			ctx, cancel := job.bound(context.Background())
			defer cancel()
			if err := job.run(ctx); err != nil {
				logger.Error("Scheduled job failed",
					zap.String("job", job.name),
					zap.Error(err),
				)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", job.name, err)
		}
	}

	return scheduler, nil
}

// initHTTPServer serves /health and /metrics
func initHTTPServer(port int, health *observability.HealthChecker, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", health.HealthHandler())
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	return server
}
