package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"slashbin/internal/server/api"
	"slashbin/internal/server/config"
	"slashbin/internal/server/database"
	"slashbin/internal/server/idgen"
	"slashbin/internal/server/ingest"
	"slashbin/internal/server/logger"
	"slashbin/internal/server/ratelimit"
	"slashbin/internal/server/service"
	"slashbin/internal/server/stats"
	"slashbin/internal/server/storage"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg := config.Load()

	// Structured logging
	_, logCloser, err := logger.New(cfg.LogFormat, cfg.LogFile)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	slog.Info("configuration loaded",
		"port", cfg.Port,
		"paste_port", cfg.PastePort,
		"storage_path", cfg.StoragePath,
		"max_file_size", cfg.MaxFileSize,
		"default_expiry_days", cfg.DefaultExpiryDays,
		"max_expiry_days", cfg.MaxExpiryDays,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := make(map[string]api.HealthCheck)

	// Initialize storage
	fs := storage.NewFileSystemStore(cfg.StoragePath)
	if err := fs.EnsureDir(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	slog.Info("file storage initialized", "path", cfg.StoragePath)
	checks["storage"] = func(context.Context) error { return fs.EnsureDir() }

	store := storage.NewStore(fs, idgen.New(), storage.Options{
		MaxFileSize:   cfg.MaxFileSize,
		MaxExpiryDays: cfg.MaxExpiryDays,
		IDLength:      cfg.IDLength,
	})

	// Statistics: Postgres when configured, otherwise a JSON file beside the
	// uploads.
	var recorder stats.Recorder
	if cfg.DatabaseURL != "" {
		db, err := database.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.RunMigrations(ctx); err != nil {
			return err
		}
		slog.Info("database migrations complete")
		recorder = database.NewStatsRepository(db)
		checks["database"] = db.HealthCheck
	} else {
		path := filepath.Join(cfg.StoragePath, "stats.json")
		recorder = stats.NewFileRecorder(path, time.Now)
		slog.Info("statistics stored in file", "path", path)
	}

	g, gctx := errgroup.WithContext(ctx)

	// Rate limiting: shared across processes through Redis when configured.
	var limiter ratelimit.Admitter
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse redis URL: %w", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()

		rl := ratelimit.NewRedisLimiter(client, "slashbin:ratelimit:", cfg.RateLimit, cfg.RateLimitWindow)
		if err := rl.Ping(ctx); err != nil {
			slog.Warn("redis unreachable at startup, limiter will fail open", "error", err)
		}
		limiter = rl
		checks["redis"] = rl.Ping
	} else {
		rl := ratelimit.New(cfg.RateLimit, cfg.RateLimitWindow)
		g.Go(func() error {
			rl.Run(gctx, cfg.RateLimitSweep)
			return nil
		})
		limiter = rl
	}
	slog.Info("rate limiter ready", "limit", cfg.RateLimit, "window", cfg.RateLimitWindow, "redis", cfg.RedisURL != "")

	svc := service.NewUploadService(store, recorder, cfg)

	// Start expiry sweeper
	sweeper := storage.NewSweeper(store, cfg.CleanupInterval)
	sweeper.Start(gctx)
	g.Go(func() error {
		sweeper.Wait()
		return nil
	})

	// Paste socket
	paste := ingest.NewServer(ingest.Config{
		SizeCap:          cfg.PasteSizeCap,
		Inactivity:       cfg.PasteInactivity,
		FirstByteTimeout: cfg.PasteFirstByte,
		TTLDays:          cfg.DefaultExpiryDays,
	}, limiter, svc)
	g.Go(func() error {
		return paste.ListenAndServe(gctx, ":"+cfg.PastePort)
	})

	// HTTP
	e := api.SetupRouter(api.NewHandler(svc, checks), limiter, cfg)
	g.Go(func() error {
		addr := ":" + cfg.Port
		slog.Info("starting server", "addr", addr, "base_url", cfg.BaseURL)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		// Stop accepting new requests, finish in-flight with 30s timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server exited cleanly")
	return nil
}
