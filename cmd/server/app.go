package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	httpAdapter "github.com/iho/cashflow/internal/adapter/http"
	"github.com/iho/cashflow/internal/adapter/http/handler"
	"github.com/iho/cashflow/internal/adapter/http/middleware"
	postgresRepo "github.com/iho/cashflow/internal/adapter/repository/postgres"
	redisRepo "github.com/iho/cashflow/internal/adapter/repository/redis"
	"github.com/iho/cashflow/internal/infrastructure/auth"
	"github.com/iho/cashflow/internal/infrastructure/config"
	"github.com/iho/cashflow/internal/infrastructure/eventpublisher"
	"github.com/iho/cashflow/internal/infrastructure/metrics"
	"github.com/iho/cashflow/internal/infrastructure/redis"
	"github.com/iho/cashflow/internal/infrastructure/scheduler"
	"github.com/iho/cashflow/internal/usecase"
)

// app is the wired service.
type app struct {
	router      http.Handler
	scheduler   *scheduler.Scheduler
	publisher   *eventpublisher.EventPublisher
	rateLimiter *middleware.RateLimiter
	closers     []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, reg prometheus.Registerer, gatherer prometheus.Gatherer) (*app, error) {
	a := &app{}

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.close)

	checks := []handler.HealthCheck{{Name: cfg.StorageDriver, Check: store.ping}}

	var redisClient goredis.UniversalClient
	if cfg.RedisEnabled {
		client, err := redis.NewClient(ctx, redis.Config{URL: cfg.RedisURL, PoolSize: cfg.RedisPoolSize})
		if err != nil {
			a.Close()
			return nil, err
		}
		logger.Info().Msg("connected to redis")
		redisClient = client
		a.closers = append(a.closers, func() { _ = client.Close() })
		checks = append(checks, handler.HealthCheck{Name: "redis", Check: redis.Ping(client)})
	}

	m := metrics.New(reg)
	idGen := postgresRepo.NewULIDGenerator()
	retrier := postgresRepo.NewRetrier(logger)

	obligationUC := usecase.NewObligationUseCase(store.obligations, idGen).
		WithLogger(logger)
	ledgerUC := usecase.NewLedgerUseCase(store.txManager, store.ledger, store.balances, store.audit, store.outbox, retrier, idGen).
		WithMetrics(m).
		WithLogger(logger)
	forecastUC := usecase.NewForecastUseCase(store.obligations, store.ledger, store.balances, usecase.ForecastConfig{
		ReportingCurrency: cfg.ReportingCurrency,
		MaxHorizonDays:    cfg.MaxHorizonDays,
	}).
		WithMetrics(m).
		WithLogger(logger)
	alertUC := usecase.NewAlertUseCase(store.txManager, store.alerts, store.thresholds, store.outbox, forecastUC, idGen, cfg.DefaultThresholds()).
		WithMetrics(m).
		WithLogger(logger)
	materializationUC := usecase.NewMaterializationUseCase(
		store.txManager, store.obligations, store.ledger, store.runs, store.audit, store.outbox, ledgerUC, idGen,
		usecase.MaterializationConfig{
			Workers:        cfg.Workers,
			OwnerTimeout:   cfg.OwnerTimeout,
			MaxCatchUpDays: cfg.MaxCatchUpDays,
			RunLockTTL:     cfg.RunLockTTL,
		}).
		WithAlerts(alertUC).
		WithMetrics(m).
		WithLogger(logger)
	consistencyUC := usecase.NewConsistencyUseCase(store.obligations, store.ledger, store.balances).
		WithMetrics(m).
		WithLogger(logger)

	var idempotencyStore usecase.IdempotencyStore
	var publisher eventpublisher.Publisher = eventpublisher.NewLogPublisher(logger)
	if redisClient != nil {
		cache := redisRepo.NewForecastCache(redisClient, cfg.ForecastCacheTTL)
		obligationUC.WithCache(cache)
		ledgerUC.WithCache(cache)
		forecastUC.WithCache(cache)
		materializationUC.WithCache(cache).WithLocker(redisRepo.NewRunLocker(redisClient))
		idempotencyStore = redisRepo.NewIdempotencyStore(redisClient)
		publisher = eventpublisher.NewRedisPublisher(redisClient, eventpublisher.DefaultStream, 100_000)
	}

	var jwtManager *auth.JWTManager
	if cfg.AuthEnabled {
		jwtManager = auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
	}

	if cfg.RateLimitRPS > 0 {
		a.rateLimiter = middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	a.router = httpAdapter.NewRouter(httpAdapter.RouterConfig{
		ObligationHandler:      handler.NewObligationHandler(obligationUC),
		LedgerHandler:          handler.NewLedgerHandler(ledgerUC, materializationUC),
		ForecastHandler:        handler.NewForecastHandler(forecastUC),
		AlertHandler:           handler.NewAlertHandler(alertUC),
		MaterializationHandler: handler.NewMaterializationHandler(materializationUC, consistencyUC),
		HealthHandler:          handler.NewHealthHandler(checks...),
		IdempotencyStore:       idempotencyStore,
		IdempotencyTTL:         cfg.IdempotencyTTL,
		JWTManager:             jwtManager,
		RateLimiter:            a.rateLimiter,
		MetricsHandler:         promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
		Logger:                 logger,
	})

	if cfg.SchedulerEnabled {
		s, err := scheduler.New(materializationUC, scheduler.Config{
			Spec:         cfg.SchedulerCron,
			RunOnStartup: true,
			Logger:       logger,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create scheduler: %w", err)
		}
		a.scheduler = s
	}

	a.publisher = eventpublisher.NewEventPublisher(eventpublisher.Config{
		OutboxRepo: store.outbox,
		Publisher:  publisher,
		Metrics:    m,
		Logger:     logger,
		BatchSize:  cfg.OutboxBatchSize,
		Interval:   cfg.OutboxInterval,
		Retention:  cfg.OutboxRetention,
	})

	return a, nil
}

// cleanupLimiters drops idle rate-limit buckets until ctx is done.
func cleanupLimiters(ctx context.Context, rl *middleware.RateLimiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.CleanupLimiters(10 * time.Minute)
		}
	}
}
