package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chatapp/blobstore"
	"chatapp/config"
	"chatapp/database"
	"chatapp/handlers"
	"chatapp/logging"
	"chatapp/realtime"
	"chatapp/service"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("Failed to load environment: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("close store", zap.Error(err))
		}
	}()
	logger.Info("database ready", zap.String("driver", cfg.DatabaseDriver))

	sessions, closeSessions, err := openSessions(ctx, cfg, store)
	if err != nil {
		return err
	}
	defer closeSessions()

	baseURL := cfg.PublicBaseURL
	if baseURL == "" {
		baseURL = "http://localhost:" + cfg.Port
	}
	blobs, err := blobstore.NewLocalStore(cfg.UploadDir, baseURL, logger.Named("blobstore"))
	if err != nil {
		return fmt.Errorf("init upload storage: %w", err)
	}

	registry := realtime.NewRegistry()
	router := realtime.NewRouter(registry, logger.Named("realtime"))

	chat := service.NewChatService(service.Options{
		Messages:       store,
		Users:          store,
		Blobs:          blobs,
		Delivery:       router,
		Presence:       registry,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger.Named("chat"),
	})

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: handlers.NewHandler(handlers.Dependencies{
			Users:          store,
			Sessions:       sessions,
			Chat:           chat,
			Realtime:       router,
			Media:          blobs,
			Ping:           store.Ping,
			AllowedOrigins: cfg.AllowedOrigins,
			SessionTTL:     cfg.SessionTTL,
			MaxUploadBytes: cfg.MaxUploadBytes,
			Logger:         logger.Named("http"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("chat server starting", zap.String("addr", srv.Addr), zap.String("public_url", baseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (database.Store, error) {
	switch cfg.DatabaseDriver {
	case config.DriverPostgres:
		return database.OpenPostgres(cfg.DatabaseURL)
	case config.DriverMongo:
		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		return database.OpenMongo(connectCtx, cfg.MongoURI, cfg.MongoDatabase, logger.Named("mongo"))
	default:
		return database.OpenSQLite(cfg.SQLitePath)
	}
}

func openSessions(ctx context.Context, cfg *config.Config, store database.Store) (database.SessionStore, func(), error) {
	if cfg.SessionBackend != config.SessionBackendRedis {
		return store, func() {}, nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rs, err := database.OpenRedisSessionStore(connectCtx, cfg.RedisAddr)
	if err != nil {
		return nil, nil, err
	}
	return rs, func() { _ = rs.Close() }, nil
}
