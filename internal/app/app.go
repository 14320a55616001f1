package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MaksM89/equarium/internal/api"
	"github.com/MaksM89/equarium/internal/api/middleware"
	"github.com/MaksM89/equarium/internal/config"
	"github.com/MaksM89/equarium/internal/db"
	"github.com/MaksM89/equarium/internal/idempotency"
	"github.com/MaksM89/equarium/internal/observability"
	"github.com/MaksM89/equarium/internal/repository"
	"github.com/MaksM89/equarium/internal/service"
	"github.com/MaksM89/equarium/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Run bootstraps the HTTP server and settlement workers, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	// Redis is optional. Without it idempotency falls back to postgres only.
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = newRedisClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
	}

	var redisCmd redis.Cmdable
	if redisClient != nil {
		redisCmd = redisClient
	}
	idemStore := idempotency.NewStore(redisCmd, pool, cfg.IdempotencyTTL)
	store := repository.NewStore(pool)

	auditSvc := service.NewAuditService()
	userSvc := service.NewUserService(store, auditSvc)
	transferSvc := service.NewTransferService(store, auditSvc)
	historySvc := service.NewHistoryService(store, cfg.RecordsInPage)
	integritySvc := service.NewIntegrityService(store, cfg.SettlementPollInterval*2)

	settlementWorker := worker.NewSettlementWorker(transferSvc, store).
		WithQueueSize(cfg.SettlementQueueSize).
		WithPollInterval(cfg.SettlementPollInterval).
		WithBatchSize(cfg.SettlementBatchSize)
	transferSvc.WithScheduler(settlementWorker)

	integrityWorker := worker.NewIntegrityWorker(integritySvc).
		WithInterval(cfg.IntegritySweepInterval)

	stopSettlement := settlementWorker.Run(ctx)
	stopIntegrity := integrityWorker.Run(ctx)
	logger.Info("settlement worker started",
		zap.Duration("interval", cfg.SettlementPollInterval),
		zap.Int32("batch", cfg.SettlementBatchSize))

	router := api.NewRouter(cfg, logger, pool, redisCmd, idemStore, userSvc, transferSvc, historySvc)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping workers")
	stopSettlement()
	stopIntegrity()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
