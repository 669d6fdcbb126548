package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/docpoint/booking-engine/internal/api"
	"github.com/docpoint/booking-engine/internal/auth"
	"github.com/docpoint/booking-engine/internal/booking"
	"github.com/docpoint/booking-engine/internal/config"
	"github.com/docpoint/booking-engine/internal/db"
	"github.com/docpoint/booking-engine/internal/payment"
	redisclient "github.com/docpoint/booking-engine/internal/redis"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	log := newLogger(cfg.Env)
	defer func() { _ = log.Sync() }()

	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.Duration("hold_ttl", cfg.HoldTTL),
		zap.Duration("lock_ttl", cfg.LockTTL),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn("error closing redis", zap.Error(err))
		}
	}()
	log.Info("connected to Redis")

	repo := booking.NewPgRepository(pgPool)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)

	var gateway payment.Gateway
	if cfg.StripeKey != "" {
		gateway = payment.NewStripeGateway(cfg.StripeKey)
		log.Info("using Stripe payment gateway")
	} else {
		gateway = payment.NewFakeGateway()
		log.Warn("STRIPE_SECRET_KEY not set, using fake payment gateway")
	}

	coordinator := payment.NewCoordinator(repo, gateway, log)
	svc := booking.NewService(repo, locker, coordinator, cfg, log)

	handler := api.NewRouter(api.RouterConfig{
		Service: svc,
		Tokens:  tokens,
		Logger:  log,
		PgPool:  pgPool,
		Redis:   rdb,
		Env:     cfg.Env,
		Version: version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", zap.Error(err))
	}
}

func newLogger(env string) *zap.Logger {
	var (
		log *zap.Logger
		err error
	)
	if env == "prod" {
		log, err = zap.NewProduction()
	} else {
		log, err = zap.NewDevelopment()
	}
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	return log
}
