package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/livetrade/livetrade/internal/api/http"
	"github.com/livetrade/livetrade/internal/application/trade"
	"github.com/livetrade/livetrade/internal/config"
	domainTrade "github.com/livetrade/livetrade/internal/domain/trade"
	"github.com/livetrade/livetrade/internal/infrastructure/memory"
	"github.com/livetrade/livetrade/internal/infrastructure/postgres"
	redisstore "github.com/livetrade/livetrade/internal/infrastructure/redis"
	"github.com/livetrade/livetrade/internal/infrastructure/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("config error: invalid LOG_LEVEL %q", cfg.LogLevel)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	policy := domainTrade.Policy{
		TTL:                 cfg.SessionTTL,
		ResetAcceptOnChange: cfg.ResetAcceptOnChange,
	}

	ctx := context.Background()
	repo, closeStore, err := openStore(ctx, cfg, policy)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("session store unavailable")
	}
	defer closeStore()
	logger.Info().
		Str("backend", cfg.StoreBackend).
		Dur("ttl", policy.TTL).
		Bool("reset_accept_on_change", policy.ResetAcceptOnChange).
		Msg("session store ready")

	// services
	tradeSvc := trade.NewService(repo, policy, logger)
	janitor := trade.NewJanitor(tradeSvc, cfg.SweepInterval, logger)

	// API server
	apiServer := httpapi.NewServer(tradeSvc, cfg.CORSAllowedOrigins...)

	httpServer := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// background loops
	bgCtx, stopBackground := context.WithCancel(context.Background())
	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		janitor.Run(bgCtx)
	}()

	// start server
	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown")
	}
	stopBackground()
	<-janitorDone
}

// openStore builds the configured session store. The returned func
// releases its connections.
func openStore(ctx context.Context, cfg *config.Config, policy domainTrade.Policy) (domainTrade.Repository, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return memory.NewSessionRepository(policy), func() {}, nil

	case config.BackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("db error: %w", err)
		}
		if err := postgres.RunMigrations(ctx, pool, cfg.MigrationsDir); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migration error: %w", err)
		}
		return postgres.NewSessionRepository(pool, policy), pool.Close, nil

	case config.BackendRedis:
		client, err := redisstore.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, fmt.Errorf("redis error: %w", err)
		}
		return redisstore.NewSessionRepository(client, cfg.RedisKeyPrefix, policy), func() { _ = client.Close() }, nil

	case config.BackendSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite error: %w", err)
		}
		return sqlite.NewSessionRepository(db, policy), func() { _ = sqlite.Close(db) }, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", cfg.StoreBackend)
}
