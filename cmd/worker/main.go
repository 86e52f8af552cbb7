package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/rasuna-dev/backend-antar/internal/common"
	"github.com/rasuna-dev/backend-antar/internal/config"
	"github.com/rasuna-dev/backend-antar/internal/events"
	"github.com/rasuna-dev/backend-antar/internal/lock"
	"github.com/rasuna-dev/backend-antar/internal/mq"
	"github.com/rasuna-dev/backend-antar/internal/notify"
	"github.com/rasuna-dev/backend-antar/internal/obs"
	"github.com/rasuna-dev/backend-antar/internal/resilience"
	"github.com/rasuna-dev/backend-antar/internal/tracking"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	redisConn, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis uri for task queue")
	}
	taskClient := asynq.NewClient(redisConn)
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()

	mqPublisher, err := mq.Dial(cfg.AMQPUrl, cfg.AMQPExchange, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect message broker")
	}
	defer mqPublisher.Close()

	notifyStore := &notify.PGStore{Pool: pool}
	enqueuer := &notify.Enqueuer{
		Store:       notifyStore,
		Client:      taskClient,
		MaxAttempts: cfg.WebhookMaxAttempts,
		Enabled:     cfg.WebhookDeliveryEnabled,
	}
	notifiers := []events.Notifier{notify.EmailNotifier{
		Mail:    common.NopEmailSender{},
		Enabled: cfg.NotifyEmailEnabled,
		To:      cfg.NotifyEmailTo,
	}}
	if mqPublisher != nil {
		notifiers = append(notifiers, mqPublisher)
	}
	bus := &events.Bus{
		Store:     &events.PGStore{Pool: pool},
		Scheduler: enqueuer,
		Notifiers: notifiers,
	}

	// Single in-call attempt; the task queue owns the retry schedule, the
	// breaker just keeps a dead endpoint from monopolizing worker slots.
	sender := &notify.Sender{
		HTTP: &resilience.HTTPClient{
			Client:  notify.HTTPClient(cfg.WebhookRequestTimeout, cfg.WebhookAllowInsecureTLS),
			Breaker: resilience.NewBreaker("webhook-delivery", cfg.CircuitMinRequests, cfg.CircuitFailureRate, cfg.CircuitOpenFor).WithLogger(logger),
		},
		Replay:    notify.RedisReplayProtector{Client: redisClient},
		ReplayTTL: cfg.WebhookReplayTTL,
	}
	webhookWorker := &notify.Worker{
		Store:  notifyStore,
		Sender: sender,
		Locker: lock.Locker{R: redisClient, RetryBackoff: cfg.LockRetryBackoff},
	}

	sweeper := tracking.Sweeper{
		Store:      &tracking.PGStore{Pool: pool},
		Redis:      redisClient,
		Bus:        bus,
		StaleAfter: cfg.TrackingStaleAfter,
		Interval:   cfg.SweepInterval,
		Logger:     &logger,
	}
	// Catch drivers that went stale while no worker was running.
	if err := sweeper.SweepOnce(ctx, cfg.TrackingStaleAfter); err != nil {
		logger.Warn().Err(err).Msg("startup presence sweep")
	}
	go func() {
		if err := sweeper.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("presence sweeper stopped")
		}
	}()

	srv := asynq.NewServer(redisConn, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues:      map[string]int{notify.QueueWebhooks: 1},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(notify.TaskWebhookDelivery, webhookWorker.HandleWebhookDelivery)

	logger.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("worker starting")
	if err := srv.Run(mux); err != nil {
		logger.Fatal().Err(err).Msg("worker stopped with error")
	}
	logger.Info().Msg("worker shutdown complete")
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "antar-worker"
	if cfg.DBMaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.DBMaxIdleConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
