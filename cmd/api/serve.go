package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"taskflow/api/internal/app"
	"taskflow/api/internal/cache"
	"taskflow/api/internal/config"
	"taskflow/api/internal/metrics"
	"taskflow/api/internal/postcommit"
	"taskflow/api/internal/search"
	"taskflow/api/internal/session"
	"taskflow/api/internal/store"
)

func serve(ctx context.Context, cfg config.Config) error {
	logger := slog.Default()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	if len(applied) > 0 {
		logger.Info("migrations applied", "versions", applied)
	}

	m, err := metrics.New()
	if err != nil {
		return fmt.Errorf("metrics setup failed: %w", err)
	}

	deps := app.Dependencies{
		Store:   store.NewPostgresStore(db),
		Metrics: m,
		Hooks:   postcommit.NewRunner(logger, m),
		Logger:  logger,
	}

	if cfg.RedisURL != "" {
		logger.Info("using redis for cache and token revocation")
		redisCache, err := cache.NewRedis(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis cache connection failed: %w", err)
		}
		defer redisCache.Close()
		revocations, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis session connection failed: %w", err)
		}
		defer revocations.Close()
		deps.Cache = redisCache
		deps.Revoker = revocations
	} else {
		logger.Info("using in-process cache and postgres token revocation")
		deps.Cache = cache.NewMemory(cfg.CommentCacheTTL)
	}

	var primary search.Backend
	if cfg.MeiliURL != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
		primary = meili
	}
	searchService := search.NewService(primary, search.NewPostgres(db), logger)
	deps.Search = searchService
	if primary != nil {
		go func() {
			count, err := searchService.Reindex(ctx)
			if err != nil {
				logger.Warn("search reindex failed", "error", err)
				return
			}
			logger.Info("search reindex complete", "comments", count)
		}()
	}

	service := app.New(cfg, deps)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("taskflow api listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	deps.Hooks.Wait()
	logger.Info("taskflow api stopped")
	return nil
}
