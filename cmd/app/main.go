package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"omnireply/internal/ai"
	"omnireply/internal/broadcast"
	"omnireply/internal/cache"
	"omnireply/internal/config"
	"omnireply/internal/convo"
	"omnireply/internal/credstore"
	"omnireply/internal/gate"
	"omnireply/internal/httpserver"
	"omnireply/internal/logging"
	"omnireply/internal/metrics"
	"omnireply/internal/repo"
	"omnireply/internal/status"
	"omnireply/internal/wa"
	"omnireply/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.AppEnv)
	logger.Info("starting omnireply", "env", cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	repository, err := repo.New(ctx, cfg.DatabaseURL, cfg.DatabaseSchema, logger)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repository.Close()

	if err := repository.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

	redisClient := cache.New(cache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		UseTLS:   cfg.RedisTLS,
	}, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("failed closing redis", "error", err)
		}
	}()
	if err := redisClient.Ping(ctx); err != nil {
		logger.Warn("redis ping failed", "error", err)
	}

	credentials, err := newCredentialStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init credential store: %w", err)
	}
	defer func() {
		if err := credentials.Close(); err != nil {
			logger.Warn("failed closing credential store", "error", err)
		}
	}()

	monitor := status.NewMonitor(logger)
	sendGate := gate.New(repository, cfg.OverrideWindow, cfg.DefaultDailyLimit, logger, metricRegistry)

	dialer := wa.NewMeowDialer(credentials, cfg.WhatsAppLogLevel, logger)
	registry := wa.NewRegistry(wa.Config{
		Dialer:         dialer,
		Credentials:    credentials,
		Store:          repository,
		Monitor:        monitor,
		Overrides:      sendGate,
		ReconnectDelay: cfg.ReconnectDelay,
	}, logger, metricRegistry)

	geminiClient := ai.New(ai.Config{
		APIKey:  cfg.GeminiAPIKey,
		Model:   cfg.GeminiModel,
		Timeout: cfg.GeminiTimeout,
	}, logger, metricRegistry)
	retriever := ai.NewRetriever(repository, redisClient, logger)

	engine := convo.NewEngine(repository, sendGate, retriever, geminiClient, registry, logger, metricRegistry)
	registry.SetMessageHandler(engine)

	dispatcher := broadcast.NewDispatcher(repository, registry, sendGate, logger, metricRegistry)
	scheduler := broadcast.NewScheduler(repository, dispatcher, logger)
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer scheduler.Stop()

	registry.ReconnectAll(ctx)

	httpSrv := httpserver.New(httpserver.Config{
		Addr:             cfg.HTTPListenAddr,
		BasePath:         cfg.PublicBasePath,
		JWTSecret:        cfg.JWTSecret,
		JWTTTL:           cfg.JWTTTL,
		APIRatePerMinute: cfg.APIRatePerMinute,
	}, httpserver.Dependencies{
		Store:      repository,
		Registry:   registry,
		Monitor:    monitor,
		Dispatcher: dispatcher,
		Retriever:  retriever,
	}, logger, metricRegistry)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	registry.Shutdown()

	return nil
}

// newCredentialStore selects the credential backend: per-tenant SQLite files
// for single-host deployments, shared Postgres when sessions must survive
// host moves.
func newCredentialStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (credstore.Store, error) {
	if cfg.SessionBackend == "postgres" {
		return credstore.NewPostgresStore(ctx, cfg.DatabaseURL, cfg.WhatsAppLogLevel, logger)
	}
	return credstore.NewSQLiteStore(cfg.SessionsDir, cfg.WhatsAppLogLevel, logger)
}
