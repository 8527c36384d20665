package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/docslot/docslot/internal/config"
	"github.com/docslot/docslot/internal/domain/booking"
	"github.com/docslot/docslot/internal/domain/dashboard"
	"github.com/docslot/docslot/internal/domain/directory"
	"github.com/docslot/docslot/internal/platform/auth"
	"github.com/docslot/docslot/internal/platform/db"
	"github.com/docslot/docslot/internal/platform/events"
	"github.com/docslot/docslot/internal/platform/jobs"
	"github.com/docslot/docslot/internal/platform/middleware"
	"github.com/docslot/docslot/migrations"
)

const requestTimeout = 15 * time.Second

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// storeBackend is the repository set of one store driver.
type storeBackend struct {
	doctors  directory.DoctorRepository
	patients directory.PatientRepository
	booking  booking.Store
	tx       db.Transactor
	pinger   db.Pinger
	stats    func() *db.PoolStats
	close    func()
}

func openStore(ctx context.Context, cfg *config.Config) (*storeBackend, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		sqlDB, err := db.OpenSQLite(ctx, cfg.SQLitePath, migrations.SQLite)
		if err != nil {
			return nil, err
		}
		return &storeBackend{
			doctors:  directory.NewDoctorRepoSQLite(sqlDB),
			patients: directory.NewPatientRepoSQLite(sqlDB),
			booking:  booking.NewStoreSQLite(sqlDB),
			tx:       db.NewSQLTransactor(sqlDB),
			pinger:   db.SQLPinger{PingContext: sqlDB.PingContext},
			stats:    func() *db.PoolStats { return nil },
			close:    func() { sqlDB.Close() },
		}, nil
	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, db.PoolOptions{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			return nil, err
		}
		return &storeBackend{
			doctors:  directory.NewDoctorRepoPG(pool),
			patients: directory.NewPatientRepoPG(pool),
			booking:  booking.NewStorePG(pool),
			tx:       db.NewPgTransactor(pool),
			pinger:   pool,
			stats:    func() *db.PoolStats { return db.GetPoolStats(pool) },
			close:    pool.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// app holds the wired services of one process.
type app struct {
	cfg        *config.Config
	logger     zerolog.Logger
	store      *storeBackend
	publisher  events.Publisher
	redis      *redis.Client
	directory  *directory.Service
	bookings   *booking.Service
	reconciler *booking.Reconciler
	dashboard  *dashboard.Service
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	logger.Info().Str("driver", cfg.StoreDriver).Msg("connected to store")

	a := &app{cfg: cfg, logger: logger, store: store}

	if len(cfg.KafkaBrokers) > 0 {
		pub, err := events.NewKafkaPublisher(events.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.publisher = pub
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing events to kafka")
	} else {
		a.publisher = events.NewLogPublisher(logger)
	}
	emitter := events.NewEmitter(a.publisher, logger)

	var cache dashboard.Cache
	if cfg.RedisURL != "" && cfg.DashboardCacheTTL > 0 {
		client, err := dashboard.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			// The cache is optional; dashboards fall back to the store.
			logger.Warn().Err(err).Msg("dashboard cache disabled")
		} else {
			a.redis = client
			cache = dashboard.NewRedisCache(client)
		}
	}

	retry := db.RetryPolicy{Attempts: cfg.StoreReadRetries, Backoff: db.DefaultRetry.Backoff}
	a.directory = directory.NewService(store.doctors, store.patients, retry)
	a.bookings = booking.NewService(a.directory, store.booking, store.tx, booking.Options{
		Location: loc,
		Retry:    retry,
		Events:   emitter,
		Logger:   logger.With().Str("component", "booking").Logger(),
	})
	a.reconciler = booking.NewReconciler(store.booking, store.tx, logger.With().Str("component", "reconcile").Logger())
	a.dashboard = dashboard.NewService(a.directory, store.booking.Appointments, dashboard.Options{
		Recent: cfg.RecentLimit,
		Cache:  cache,
		TTL:    cfg.DashboardCacheTTL,
		Retry:  retry,
		Logger: logger,
	})
	return a, nil
}

func (a *app) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("closing event publisher")
		}
	}
	if a.redis != nil {
		a.redis.Close()
	}
	a.store.close()
}

func (a *app) authMiddleware() echo.MiddlewareFunc {
	jwtCfg := auth.JWTConfig{
		Issuer:     a.cfg.AuthIssuer,
		Audience:   a.cfg.AuthAudience,
		SigningKey: []byte(a.cfg.AuthSigningKey),
	}
	if a.cfg.IsDev() {
		return auth.DevAuthMiddleware(jwtCfg)
	}
	return auth.JWTMiddleware(jwtCfg)
}

func (a *app) newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(a.logger)

	// Global middleware
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.Metrics())
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RequestTimeout(requestTimeout))
	if len(a.cfg.CORSOrigins) > 0 {
		e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins: a.cfg.CORSOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
			AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
		}))
	}

	// Health and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(a.store.pinger, a.cfg.StoreDriver, a.store.stats))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: a.cfg.RateLimitRPS,
		BurstSize:         a.cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	limiter := middleware.RateLimit(rateLimitCfg)

	// API groups: public reads, and everything that needs a caller.
	public := e.Group("/api/v1", limiter)
	api := e.Group("/api/v1", a.authMiddleware(), limiter)

	directory.NewHandler(a.directory).RegisterRoutes(public, api)
	booking.NewHandler(a.bookings).RegisterRoutes(public, api)
	dashboard.NewHandler(a.dashboard).RegisterRoutes(api)

	return e
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("startup failed")
		return err
	}
	defer a.Close()

	runner := jobs.NewRunner(logger)
	if cfg.ReconcileSchedule != "" {
		if err := runner.Add("reconcile-ledger", cfg.ReconcileSchedule, a.reconciler.Task); err != nil {
			return err
		}
		runner.Start()
		logger.Info().Str("schedule", cfg.ReconcileSchedule).Msg("ledger reconciliation scheduled")
	}

	e := a.newEcho()

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	runner.Stop(shutdownCtx)
	logger.Info().Msg("server stopped")
	return nil
}
