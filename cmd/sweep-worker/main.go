package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/docpoint/booking-engine/internal/booking"
	"github.com/docpoint/booking-engine/internal/config"
	"github.com/docpoint/booking-engine/internal/db"
	"github.com/docpoint/booking-engine/internal/payment"
	redisclient "github.com/docpoint/booking-engine/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	var log *zap.Logger
	if cfg.Env == "prod" {
		log, err = zap.NewProduction()
	} else {
		log, err = zap.NewDevelopment()
	}
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()

	log.Info("sweep-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.SweepInterval),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	repo := booking.NewPgRepository(pgPool)

	// The sweeps only do per-row compare-and-set updates; they need neither
	// the slot lock nor a live gateway.
	coordinator := payment.NewCoordinator(repo, payment.NewFakeGateway(), log)
	svc := booking.NewService(repo, redisclient.NoopLocker{}, coordinator, cfg, log)

	// Run once at startup
	runOnce(rootCtx, svc, log)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info("shutdown signal received, stopping sweep worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, log)
		}
	}
}

func runOnce(ctx context.Context, svc *booking.Service, log *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()

	expired, err := svc.ExpireStaleHolds(runCtx)
	if err != nil {
		log.Error("expire sweep error", zap.Error(err))
		return
	}

	completed, err := svc.CompleteElapsed(runCtx)
	if err != nil {
		log.Error("complete sweep error", zap.Error(err))
		return
	}

	log.Info("sweep complete",
		zap.Int("holds_expired", expired),
		zap.Int("visits_completed", completed),
		zap.Duration("took", time.Since(start)),
	)
}
