// Command api serves the customer reviews HTTP API.
//
// @title                       Reviews API
// @version                     1.0
// @description                 Customer reviews for the studio site: submission, moderation, listing and statistics.
// @BasePath                    /api/v1
// @securityDefinitions.apikey  AdminBearer
// @in                          header
// @name                        Authorization
// @description                 Bearer JWT (HS256) with role=admin
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-reviews-backend/internal/cache"
	"github.com/tbourn/go-reviews-backend/internal/config"
	httpapi "github.com/tbourn/go-reviews-backend/internal/http"
	"github.com/tbourn/go-reviews-backend/internal/notify"
	"github.com/tbourn/go-reviews-backend/internal/observability"
	"github.com/tbourn/go-reviews-backend/internal/repo"
	"github.com/tbourn/go-reviews-backend/internal/sysutil"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version string

const shutdownTimeout = 15 * time.Second

func main() {
	_ = godotenv.Load() // .env is optional

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	ver := sysutil.Version(version)
	logger := sysutil.SetupLogger(sysutil.LoggerOptions{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
		Service: cfg.OTEL.ServiceName,
		Version: ver,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, ver, logger); err != nil {
		logger.Error().Err(err).Msg("api stopped with error")
		os.Exit(1)
	}
}

// run wires the process and blocks until ctx is cancelled or the server
// fails, then shuts everything down in reverse order.
func run(ctx context.Context, cfg config.Config, ver string, logger zerolog.Logger) error {
	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTEL, ver)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn().Err(err).Msg("tracing flush failed")
		}
	}()

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(db); err != nil {
			logger.Warn().Err(err).Msg("store close failed")
		}
	}()

	deps := httpapi.Deps{DB: db}

	if rdb := redisClient(cfg.Redis); rdb != nil {
		defer rdb.Close()
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := rdb.Ping(pctx).Err(); err != nil {
			// statistics fall back to the store on every cache error
			logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable at startup")
		}
		cancel()
		deps.Cache = cache.NewStatsCache(rdb, cfg.Redis.StatsTTL)
	}

	notifier, closeNotifier := buildNotifier(cfg.Notify, logger)
	defer func() {
		if err := closeNotifier(); err != nil {
			logger.Warn().Err(err).Msg("notifier close failed")
		}
	}()
	var dispatcher *notify.Dispatcher
	if notifier != nil {
		guarded := notify.NewBreaker(notifier, notify.DefaultBreakerConfig(), logger)
		dispatcher = notify.NewDispatcher(guarded, cfg.Notify.Timeout, logger)
		deps.Notifier = dispatcher
	}

	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, deps, cfg)

	srv := newServer(cfg, engine)
	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("store", cfg.DB.Driver).
			Str("notify", cfg.Notify.Driver).
			Bool("auto_approve", cfg.AutoApprove).
			Bool("stats_cache", deps.Cache != nil).
			Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown incomplete")
	}
	if dispatcher != nil {
		if err := dispatcher.Close(sctx); err != nil {
			logger.Warn().Err(err).Msg("notifications still in flight at shutdown")
		}
	}
	logger.Info().Msg("shutdown complete")
	return nil
}

// openStore connects to the configured store and migrates the schema.
func openStore(cfg config.Config) (*gorm.DB, error) {
	db, err := repo.Open(repo.Options{
		Driver:       cfg.DB.Driver,
		Path:         cfg.DB.Path,
		DSN:          cfg.DB.URL,
		MaxOpenConns: cfg.DB.MaxOpenConns,
		Tracing:      cfg.OTEL.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		_ = repo.Close(db)
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// redisClient returns nil when caching is not configured.
func redisClient(rc config.RedisConfig) *redis.Client {
	if rc.Addr == "" {
		return nil
	}
	return cache.NewClient(rc.Addr, rc.Password, rc.DB)
}

// buildNotifier returns the delivery driver selected by NOTIFY_DRIVER and the
// function releasing its resources. "none" yields a nil notifier.
func buildNotifier(nc config.NotifyConfig, logger zerolog.Logger) (notify.Notifier, func() error) {
	noop := func() error { return nil }
	switch nc.Driver {
	case "none":
		return nil, noop
	case "smtp":
		return notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     nc.SMTP.Host,
			Port:     nc.SMTP.Port,
			Username: nc.SMTP.Username,
			Password: nc.SMTP.Password,
			From:     nc.SMTP.From,
			To:       nc.SMTP.To,
		}), noop
	case "kafka":
		kn := notify.NewKafkaNotifier(nc.Kafka.Brokers, nc.Kafka.Topic)
		return kn, kn.Close
	default:
		return notify.LogNotifier{Logger: logger.With().Str("component", "notify").Logger()}, noop
	}
}

func newServer(cfg config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
}
