package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"marginalia/api/internal/app"
	"marginalia/api/internal/cache"
	"marginalia/api/internal/config"
	"marginalia/api/internal/search"
	"marginalia/api/internal/snapshot"
	"marginalia/api/internal/store"
)

func main() {
	cfg := config.Load()

	logger, err := newLogger(cfg.LogDev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("marginalia api stopped", zap.Error(err))
	}
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dataStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer dataStore.Close()

	var meiliClient *search.Meili
	var backend search.Backend
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
		backend = meiliClient
	}
	searchService := search.NewService(backend, logger)

	snapshots, err := openSnapshots(ctx, cfg)
	if err != nil {
		return err
	}

	var service *app.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := cache.NewRedisStore(cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisStore.Close()
		logger.Info("workspace cache enabled", zap.Duration("ttl", cfg.CacheTTL))
		service = app.NewWithCache(dataStore, redisStore, searchService, snapshots, logger)
	} else {
		service = app.New(dataStore, searchService, snapshots, logger)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("marginalia api listening", zap.String("addr", cfg.Addr), zap.String("store", dataStore.Backend()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown error", zap.Error(err))
		}
		service.WaitBackground()
		return nil
	})
	if cfg.ReindexOnBoot && meiliClient != nil {
		g.Go(func() error {
			indexed, err := service.Reindex(gctx)
			if err != nil {
				logger.Warn("boot reindex incomplete", zap.Int("indexed", indexed), zap.Error(err))
				return nil
			}
			logger.Info("boot reindex finished", zap.Int("indexed", indexed))
			return nil
		})
	}
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (*store.PostgresStore, error) {
	if store.IsSQLiteURL(cfg.DatabaseURL) {
		db, err := store.OpenSQLite(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("sqlite open failed: %w", err)
		}
		return store.NewSQLiteStore(db), nil
	}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	if len(applied) > 0 {
		logger.Info("migrations applied", zap.Strings("versions", applied))
	}
	return store.NewPostgresStore(db), nil
}

func openSnapshots(ctx context.Context, cfg config.Config) (snapshot.Store, error) {
	switch cfg.SnapshotBackend {
	case config.SnapshotBackendDisk:
		if err := os.MkdirAll(cfg.SnapshotDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create snapshot dir: %w", err)
		}
		return snapshot.NewDiskStore(cfg.SnapshotDir), nil
	case config.SnapshotBackendS3:
		minioStore, err := snapshot.NewMinioStore(ctx, snapshot.MinioConfig{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("snapshot bucket unavailable: %w", err)
		}
		return minioStore, nil
	default:
		return nil, fmt.Errorf("unknown SNAPSHOT_BACKEND %q", cfg.SnapshotBackend)
	}
}
