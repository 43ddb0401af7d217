package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/thecalistalife/review-service/internal/config"
	"github.com/thecalistalife/review-service/internal/event"
	handler "github.com/thecalistalife/review-service/internal/handler/http"
	"github.com/thecalistalife/review-service/internal/ledger"
	"github.com/thecalistalife/review-service/internal/repository"
	"github.com/thecalistalife/review-service/internal/repository/postgres"
	redisrepo "github.com/thecalistalife/review-service/internal/repository/redis"
	"github.com/thecalistalife/review-service/internal/service"
	"github.com/thecalistalife/review-service/migrations"
	"github.com/thecalistalife/review-service/pkg/database"
	"github.com/thecalistalife/review-service/pkg/health"
	"github.com/thecalistalife/review-service/pkg/httpclient"
	pkgkafka "github.com/thecalistalife/review-service/pkg/kafka"
	"github.com/thecalistalife/review-service/pkg/middleware"
	"github.com/thecalistalife/review-service/pkg/tracing"
)

const serviceName = "review-service"

// App wires together all dependencies and runs the review service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	dlq            *pkgkafka.DLQProducer
	consumers      []*pkgkafka.Consumer
	jwks           *keyfunc.JWKS
	httpServer     *http.Server
	tracerShutdown tracing.ShutdownFunc
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	if err := a.init(ctx); err != nil {
		_ = a.closeResources()
		if a.tracerShutdown != nil {
			_ = a.tracerShutdown(context.Background())
		}
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	// Initialize PostgreSQL connection pool.
	pgCfg := database.PostgresConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,
	}
	pool, err := database.NewPostgresPoolWithLogger(ctx, &pgCfg, logger)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	database.RegisterPoolMetrics(pool, serviceName)

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Configure slow query logging.
	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	// Initialize Redis. The summary cache, vote limiter and consumer
	// deduplication all fail open, so an unreachable Redis only degrades them.
	redisClient, err := database.NewRedisClient(ctx, database.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	a.redis = redisClient
	logger.Info("connected to Redis", slog.String("addr", fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort)))

	// Build the dependency graph.
	reviewRepo := postgres.NewReviewRepository(pool)
	purchaseRepo := postgres.NewPurchaseRepository(pool)
	summaryCache := redisrepo.NewSummaryCache(redisClient, cfg.SummaryCacheTTL())
	voteLimiter := redisrepo.NewVoteLimiter(redisClient, cfg.VoteRateLimit, cfg.VoteRateWindow(), time.Now)

	orderLedger, err := NewOrderLedger(cfg, purchaseRepo, logger)
	if err != nil {
		return err
	}
	logger.Info("order ledger configured", slog.String("backend", cfg.OrderLedgerBackend))
	verifier := service.NewPurchaseVerifier(orderLedger, cfg.VerifyTimeout(), logger)

	// The interface stays nil when Kafka is off so the service skips
	// publishing.
	var events service.EventPublisher
	if cfg.KafkaEnabled {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		events = event.NewProducer(a.producer, logger)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	if cfg.OrderLedgerBackend == config.LedgerProjection {
		a.dlq = pkgkafka.NewDLQProducer(cfg.KafkaBrokers, logger)
		a.consumers = event.NewConsumers(event.ConsumerOptions{
			Brokers:     cfg.KafkaBrokers,
			Idempotency: redisrepo.NewIdempotencyStore(redisClient, time.Duration(cfg.IdempotencyTTLHours)*time.Hour),
			DLQ:         a.dlq,
		}, event.NewProjectionHandler(purchaseRepo, logger), logger)
		logger.Info("order projection consumers initialized",
			slog.Any("topics", event.ProjectionTopics()),
			slog.String("group_id", event.ConsumerGroupID),
		)
	}

	reviewService := service.NewReviewService(reviewRepo, verifier, summaryCache, voteLimiter, events, service.Options{
		AutoApprove:  cfg.AutoApprove,
		StoreTimeout: cfg.StoreTimeout(),
	}, logger)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})
	if cfg.KafkaEnabled {
		healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
			return pkgkafka.PingBrokers(ctx, cfg.KafkaBrokers)
		})
	}

	// HTTP router.
	tokenValidator, jwks, err := NewTokenValidator(cfg, logger)
	if err != nil {
		return err
	}
	a.jwks = jwks
	router := handler.NewRouter(reviewService, healthHandler, handler.RouterConfig{
		ServiceName:       serviceName,
		RequestTimeout:    time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		CORS:              middleware.CORSConfig{AllowedOrigins: cfg.CORSAllowedOrigins},
		PprofCIDRs:        cfg.PprofAllowedCIDRs,
		TrustedProxyCIDRs: cfg.TrustedProxyCIDRs,
		SummaryMaxAge:     cfg.SummaryMaxAgeSeconds,
		TokenValidator:    tokenValidator,
	}, logger)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// NewOrderLedger builds the purchase lookup selected by ORDER_LEDGER_BACKEND.
// projection is the locally projected ledger fed by order events.
func NewOrderLedger(cfg *config.Config, projection repository.OrderLedger, logger *slog.Logger) (repository.OrderLedger, error) {
	switch cfg.OrderLedgerBackend {
	case config.LedgerProjection:
		return projection, nil
	case config.LedgerHTTP:
		httpCfg := httpclient.DefaultConfig()
		httpCfg.Timeout = cfg.VerifyTimeout()
		breaker := httpclient.CircuitBreakerConfig{
			Name:         "order-service",
			MaxRequests:  cfg.CBMaxRequests,
			Interval:     time.Duration(cfg.CBInterval) * time.Second,
			Timeout:      time.Duration(cfg.CBTimeout) * time.Second,
			FailureRatio: cfg.CBFailureRatio,
			MinRequests:  cfg.CBMinRequests,
		}
		client := httpclient.NewCircuitBreakerClient(httpclient.New(httpCfg), breaker, logger)
		limiter := rate.NewLimiter(rate.Limit(cfg.OrderServiceRPS), max(1, int(cfg.OrderServiceRPS)))
		return ledger.NewHTTPLedger(client, cfg.OrderServiceURL, cfg.OrderMaxPages, logger).WithRateLimit(limiter), nil
	case config.LedgerSupabase:
		client, err := ledger.NewSupabaseClient(cfg.SupabaseURL, cfg.SupabaseKey)
		if err != nil {
			return nil, err
		}
		return ledger.NewSupabaseLedger(client, ledger.DefaultSupabaseColumns(), int64(cfg.SupabaseMaxInFlight)), nil
	default:
		return nil, fmt.Errorf("unknown order ledger backend %q", cfg.OrderLedgerBackend)
	}
}

// NewTokenValidator selects bearer token validation: JWKS when AUTH_JWKS_URL
// is set, HMAC when JWT_SECRET is set, otherwise none. The returned JWKS, if
// any, refreshes in the background until EndBackground is called.
func NewTokenValidator(cfg *config.Config, logger *slog.Logger) (middleware.TokenValidator, *keyfunc.JWKS, error) {
	switch {
	case cfg.AuthJWKSURL != "":
		jwks, err := keyfunc.Get(cfg.AuthJWKSURL, keyfunc.Options{
			RefreshInterval:   time.Hour,
			RefreshRateLimit:  5 * time.Minute,
			RefreshTimeout:    10 * time.Second,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				logger.Warn("jwks refresh failed", slog.String("error", err.Error()))
			},
		})
		if err != nil {
			return nil, nil, fmt.Errorf("load jwks from %s: %w", cfg.AuthJWKSURL, err)
		}
		return middleware.NewJWKSValidator(jwks.Keyfunc), jwks, nil
	case cfg.JWTSecret != "":
		return middleware.NewJWTValidator(cfg.JWTSecret), nil, nil
	default:
		return nil, nil, nil
	}
}

// Run starts the HTTP server and the order projection consumers and blocks
// until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1+len(a.consumers))

	consumerCtx, stopConsumers := context.WithCancel(ctx)
	defer stopConsumers()

	var wg sync.WaitGroup
	for _, c := range a.consumers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Start(consumerCtx); err != nil {
				errCh <- fmt.Errorf("kafka consumer: %w", err)
			}
		}()
	}

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
	}

	stopConsumers()
	wg.Wait()
	return errors.Join(runErr, a.Shutdown())
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka producers
// 4. Redis and PostgreSQL
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer tracerCancel()
	if err := a.tracerShutdown(tracerCtx); err != nil {
		a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	errs = append(errs, a.closeResources())

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// closeResources releases clients opened by init. It tolerates a partially
// initialized App.
func (a *App) closeResources() error {
	var errs []error
	if a.jwks != nil {
		a.jwks.EndBackground()
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.dlq != nil {
		if err := a.dlq.Close(); err != nil {
			a.logger.Error("kafka dlq producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return errors.Join(errs...)
}
