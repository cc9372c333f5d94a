package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	deskhttp "github.com/deskora/deskora/internal/adapter/http"
	"github.com/deskora/deskora/internal/adapter/persistence"
	"github.com/deskora/deskora/internal/aggregate"
	"github.com/deskora/deskora/internal/cache"
	"github.com/deskora/deskora/internal/config"
	"github.com/deskora/deskora/internal/metrics"
	"github.com/deskora/deskora/internal/normalize"
	"github.com/deskora/deskora/internal/ports"
	"github.com/deskora/deskora/internal/upstream"
	"github.com/deskora/deskora/internal/usecase"
)

const version = "1.0.0"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Println("deskora " + version)
		return
	}

	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := newLogger(cfg)
	logger.WithFields(logrus.Fields{
		"version": version,
		"env":     cfg.Environment,
	}).Info("Application starting")

	normalizer, err := normalize.NewNormalizer(normalize.DefaultFieldMap(), logger)
	if err != nil {
		logger.Fatalf("Invalid field mapping: %v", err)
	}

	// Optional snapshot history
	var db *sql.DB
	var history ports.SnapshotRepository
	if cfg.HistoryEnabled {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("Failed to open database: %v", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := db.PingContext(pingCtx); err != nil {
			cancel()
			logger.Fatalf("Failed to ping database: %v", err)
		}
		cancel()

		repo := persistence.NewPostgresSnapshotRepository(db)
		if pg, ok := repo.(*persistence.PostgresSnapshotRepository); ok {
			if err := pg.EnsureSchema(ctx); err != nil {
				logger.Fatalf("Failed to prepare snapshot schema: %v", err)
			}
		}
		history = repo
		logger.Info("Snapshot history enabled")
	}

	resultCache, err := newCache(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize cache: %v", err)
	}

	session := upstream.NewSessionManager(upstream.SessionConfig{
		BaseURL:     cfg.UpstreamBaseURL,
		AppToken:    cfg.UpstreamAppToken,
		UserToken:   cfg.UpstreamUserToken,
		SessionTTL:  cfg.SessionTTL,
		Margin:      cfg.SessionMargin,
		CallTimeout: cfg.UpstreamTimeout,
	}, logger)

	client := upstream.NewClient(upstream.ClientConfig{
		BaseURL:      cfg.UpstreamBaseURL,
		AppToken:     cfg.UpstreamAppToken,
		CallTimeout:  cfg.UpstreamTimeout,
		MaxRetries:   cfg.UpstreamMaxRetries,
		RetryBackoff: cfg.UpstreamRetryBackoff,
		PageSize:     cfg.UpstreamPageSize,
		Breaker: upstream.BreakerConfig{
			FailureThreshold: cfg.BreakerFailureThreshold,
			OpenTimeout:      cfg.BreakerOpenTimeout,
		},
	}, session, logger)

	aggregator := aggregate.NewAggregator(aggregate.Config{
		Concurrency:     cfg.AggregateConcurrency,
		FailureFraction: cfg.AggregateFailureFraction,
	}, logger)

	metricsUsecase := usecase.NewMetricsUsecase(
		client,
		history,
		resultCache,
		normalizer,
		metrics.NewComputer(logger),
		metrics.NewValidator(logger),
		aggregator,
		cfg.LevelGroups,
		usecase.Config{
			SnapshotTTL:       cfg.SnapshotTTL,
			RankingTTL:        cfg.RankingTTL,
			TechniciansTTL:    cfg.TechniciansTTL,
			AggregateDeadline: cfg.AggregateDeadline,
		},
		logger,
	)

	handler := deskhttp.NewMetricsHandler(metricsUsecase, logger)
	server := deskhttp.NewServer(deskhttp.ServerConfig{
		Port:         cfg.ServerPort,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		CORSOrigin:   cfg.CORSOrigin,
	}, handler, func() map[string]interface{} {
		return map[string]interface{}{
			"cache":    metricsUsecase.CacheStats(),
			"breakers": client.BreakerStates(),
		}
	}, logger)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP server shutdown failed")
	}
	if err := session.Close(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Upstream session teardown failed")
	}
	if err := resultCache.Close(); err != nil {
		logger.WithError(err).Warn("Cache close failed")
	}
	if db != nil {
		if err := db.Close(); err != nil {
			logger.WithError(err).Warn("Database close failed")
		}
	}

	logger.Info("Shutdown complete")
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	return logger
}

func newCache(cfg *config.Config, logger *logrus.Logger) (cache.Cache, error) {
	switch cfg.CacheBackend {
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		logger.Info("Redis cache backend initialized")
		return cache.NewRedis(client, "deskora:cache", logger), nil
	default:
		return cache.NewMemory(logger), nil
	}
}
