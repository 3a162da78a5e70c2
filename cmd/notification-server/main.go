// cmd/notification-server/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"civic-notify/internal/api"
	"civic-notify/internal/common/auth"
	"civic-notify/internal/common/config"
	"civic-notify/internal/common/database"
	"civic-notify/internal/common/logger"
	"civic-notify/internal/common/observability"
	"civic-notify/internal/notification/audience"
	"civic-notify/internal/notification/catalog"
	"civic-notify/internal/notification/dispatcher"
	"civic-notify/internal/notification/gateway"
	"civic-notify/internal/notification/presence"
	"civic-notify/internal/notification/store"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog, err := logger.Build(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog).WithFields(map[string]interface{}{
		"service": cfg.App.Name,
		"version": cfg.App.Version,
	})
	zapLog.Info("Starting notification server...", zap.String("environment", cfg.App.Environment))

	obs, err := observability.New(cfg.App.Name)
	if err != nil {
		zapLog.Warn("otel prometheus exporter unavailable, telemetry disabled", zap.Error(err))
	}

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	readiness := []database.Pinger{pg}

	// --- Init Redis with retry (optional) ---
	var redis *database.RedisClient
	if cfg.Database.Redis.Address != "" {
		err = retryWithBackoff(func() error {
			var err error
			redis, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return redis.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer redis.Close()
		readiness = append(readiness, redis)
		zapLog.Info("Redis connected successfully")
	}

	// --- Notification store ---
	var notifications store.Store
	switch cfg.Storage.Driver {
	case "memory":
		notifications = store.NewMemory()
		zapLog.Warn("Using in-memory notification store; notifications are lost on restart")
	default:
		pgStore := store.NewPostgres(pg.DB)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			zapLog.Fatal("notification schema migration failed", zap.Error(err))
		}
		notifications = pgStore
	}

	// --- User directory and entity catalog ---
	var (
		directory audience.Directory = audience.NewPostgresDirectory(pg.DB)
		userCache api.UserCache
	)
	if redis != nil {
		cached := audience.NewCachedDirectory(directory, redis.Client, config.GetDuration(cfg.Cache.UserTTL), log)
		directory, userCache = cached, cached
	}
	entities := catalog.NewPostgres(pg.DB)

	// --- Presence, dispatch, gateway ---
	registry := presence.New(log)

	d := dispatcher.New(
		dispatcher.Config{MaxParallel: cfg.Dispatch.MaxParallel},
		notifications,
		audience.NewResolver(directory),
		registry,
		entities,
		obs,
		log,
	)
	pipeline := dispatcher.NewPipeline(d, dispatcher.PipelineConfig{
		Shards:    cfg.Dispatch.Shards,
		QueueSize: cfg.Dispatch.QueueSize,
	})

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	gw := gateway.New(verifier, directory, notifications, registry, log)

	server := api.NewServer(api.Deps{
		ServiceName: cfg.App.Name,
		Store:       notifications,
		Catalog:     entities,
		Events:      pipeline,
		Gateway:     gw,
		UserCache:   userCache,
		Transport: gateway.TransportConfig{
			PingInterval:   config.GetDuration(cfg.Gateway.PingInterval),
			WriteTimeout:   config.GetDuration(cfg.Gateway.WriteTimeout),
			MaxMessageSize: cfg.Gateway.MaxMessageSize,
			SendBuffer:     cfg.Gateway.SendBuffer,
		},
		Verifier:      verifier,
		InternalToken: cfg.Server.InternalToken,
		Ready: func(ctx context.Context) error {
			return database.PingAll(ctx, readiness...)
		},
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
		Logger:       log,
	})

	go func() {
		if err := server.Listen(cfg.Server.Addr()); err != nil {
			zapLog.Error("HTTP server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if err := pipeline.Close(shutdownCtx); err != nil {
		zapLog.Error("Pipeline drain incomplete", zap.Error(err))
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Telemetry shutdown failed", zap.Error(err))
	}

	stats := registry.Stats()
	zapLog.Info("Notification server stopped",
		zap.Int("openConnections", stats.Connections),
	)
}
