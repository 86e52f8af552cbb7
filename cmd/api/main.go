package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"

	"github.com/rasuna-dev/backend-antar/internal/audit"
	"github.com/rasuna-dev/backend-antar/internal/auth"
	"github.com/rasuna-dev/backend-antar/internal/common"
	"github.com/rasuna-dev/backend-antar/internal/config"
	"github.com/rasuna-dev/backend-antar/internal/delivery"
	"github.com/rasuna-dev/backend-antar/internal/events"
	"github.com/rasuna-dev/backend-antar/internal/health"
	"github.com/rasuna-dev/backend-antar/internal/lock"
	"github.com/rasuna-dev/backend-antar/internal/mq"
	"github.com/rasuna-dev/backend-antar/internal/notify"
	"github.com/rasuna-dev/backend-antar/internal/obs"
	"github.com/rasuna-dev/backend-antar/internal/ratelimit"
	"github.com/rasuna-dev/backend-antar/internal/security"
	"github.com/rasuna-dev/backend-antar/internal/tracking"
	"github.com/rasuna-dev/backend-antar/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "antar")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "antar-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: sampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				ctx := context.Background()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, initCancel := context.WithTimeout(ctx, 5*time.Second)
	defer initCancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "antar-api"
	if cfg.DBMaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.DBMaxIdleConns)
	}

	pool, err := pgxpool.NewWithConfig(initCtx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if err := pool.Ping(initCtx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(initCtx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

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
	taskInspector := asynq.NewInspector(redisConn)
	defer func() {
		if err := taskInspector.Close(); err != nil {
			logger.Error().Err(err).Msg("close task inspector")
		}
	}()

	validate := validator.New()
	locker := lock.Locker{R: redisClient, RetryBackoff: cfg.LockRetryBackoff}

	authService, err := auth.NewService(auth.Config{
		Store:          &auth.PGStore{Pool: pool},
		Secret:         cfg.JWTSecret,
		AccessTokenTTL: cfg.AccessTokenTTL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise auth service")
	}
	authHandler := &auth.Handler{Service: authService, Validate: validate}
	authMiddleware := auth.Middleware{Service: authService}

	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	notifyStore := &notify.PGStore{Pool: pool}
	enqueuer := &notify.Enqueuer{
		Store:       notifyStore,
		Client:      taskClient,
		Inspector:   taskInspector,
		MaxAttempts: cfg.WebhookMaxAttempts,
		Enabled:     cfg.WebhookDeliveryEnabled,
	}
	emailNotifier := notify.EmailNotifier{
		Mail:    common.NopEmailSender{},
		Enabled: cfg.NotifyEmailEnabled,
		To:      cfg.NotifyEmailTo,
	}

	mqPublisher, err := mq.Dial(cfg.AMQPUrl, cfg.AMQPExchange, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect message broker")
	}
	defer mqPublisher.Close()

	notifiers := []events.Notifier{hub, emailNotifier}
	if mqPublisher != nil {
		notifiers = append(notifiers, mqPublisher)
	}
	bus := &events.Bus{
		Store:     &events.PGStore{Pool: pool},
		Scheduler: enqueuer,
		Notifiers: notifiers,
	}

	deliveryService, err := delivery.NewService(delivery.ServiceConfig{
		Store:   &delivery.PGStore{Pool: pool},
		Bus:     bus,
		Locker:  locker,
		LockTTL: cfg.DeliveryLockTTL,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise delivery service")
	}
	deliveryHandler := &delivery.Handler{Service: deliveryService, Validate: validate}

	trackingService, err := tracking.NewService(tracking.ServiceConfig{
		Store:           &tracking.PGStore{Pool: pool},
		Redis:           redisClient,
		Hub:             hub,
		LatestTTL:       cfg.TrackingLatestTTL,
		DefaultInterval: cfg.TrackingDefaultInterval,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise tracking service")
	}
	trackingHandler := &tracking.Handler{Service: trackingService, Validate: validate}

	notifyAdmin := &notify.AdminHandler{
		Store:    notifyStore,
		Enqueuer: enqueuer,
		Replay:   notify.RedisReplayProtector{Client: redisClient},
	}

	auditStore := &audit.PGStore{Pool: pool}
	auditService := &audit.Service{
		Store:        auditStore,
		Enabled:      cfg.AuditEnabled,
		SamplingRate: cfg.AuditSamplingRate,
	}
	auditRecorder := audit.HTTPRecorder{
		Service: auditService,
		OnError: func(err error) { logger.Warn().Err(err).Msg("record audit entry") },
	}
	auditHandler := audit.Handler{Store: auditStore}

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}

	locationLimiter, err := ratelimit.New(redisClient, cfg.LocationRateLimit)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise location rate limiter")
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: cfg.SecurityHeadersEnabled}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.MaxBodyBytes}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	pprofEnabled := envBool("OBS_ENABLE_PPROF", true)
	if pprofEnabled {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker:      readinessChecker{db: pool, redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	if mqPublisher != nil {
		healthHandler.PingMQ = mqPublisher.Ping
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Post("/auth/login", authHandler.Login)

		// Customers poll this without credentials; the share link is the grant.
		v.Get("/deliveries/{deliveryID}/progression", deliveryHandler.PublicProgression)

		v.Route("/drivers/me", func(me chi.Router) {
			me.Use(authMiddleware.RequireDriver)
			me.Get("/", authHandler.Me)
			me.Get("/deliveries", deliveryHandler.List)
			me.Get("/deliveries/{deliveryID}", deliveryHandler.Detail)
			me.Get("/deliveries/{deliveryID}/timeline", deliveryHandler.Timeline)
			me.With(idem.Middleware).Patch("/deliveries/{deliveryID}/status", deliveryHandler.UpdateStatus)
			me.Get("/earnings", deliveryHandler.Earnings)
			me.With(ratelimit.PerDriver(locationLimiter)).Post("/location", trackingHandler.Ingest)
			me.Get("/tracking-policy", trackingHandler.Policy)
		})

		v.Route("/admin", func(admin chi.Router) {
			admin.Use(authMiddleware.RequireDriver)
			admin.Use(authMiddleware.RequireRole(auth.RoleAdmin))
			// Reads are audited too; position lookups are privacy-sensitive.
			admin.Use(auditRecorder.Middleware(audit.HTTPConfig{}))
			admin.Get("/audit-logs", auditHandler.List)
			admin.Post("/deliveries", deliveryHandler.AdminAssign)
			admin.Post("/deliveries/{deliveryID}/cancel", deliveryHandler.AdminCancel)
			admin.Get("/drivers/{driverID}/position", trackingHandler.AdminLatest)
			admin.Get("/drivers/{driverID}/locations", trackingHandler.AdminHistory)
			admin.Post("/webhooks", notifyAdmin.CreateEndpoint)
			admin.Get("/webhooks", notifyAdmin.ListEndpoints)
			admin.Put("/webhooks/{id}", notifyAdmin.UpdateEndpoint)
			admin.Delete("/webhooks/{id}", notifyAdmin.DeleteEndpoint)
			admin.Get("/webhooks/deliveries", notifyAdmin.ListDeliveries)
			admin.Post("/webhooks/deliveries/{id}/replay", notifyAdmin.ReplayDelivery)
		})
	})

	r.Get("/ws/deliveries/{deliveryID}", ws.ServeWS(hub, authService))

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info().Str("addr", srv.Addr).Msg("server starting")

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}
	logger.Info().Msg("server stopped")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

type readinessChecker struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.db == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
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

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/block", pprof.Handler("block"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
	mux.Handle("/threadcreate", pprof.Handler("threadcreate"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
