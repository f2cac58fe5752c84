package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/access-engine/internal/config"
	"github.com/p-blackswan/access-engine/internal/engine"
	"github.com/p-blackswan/access-engine/internal/health"
	"github.com/p-blackswan/access-engine/internal/metrics"
	"github.com/p-blackswan/access-engine/internal/persist"
	"github.com/p-blackswan/access-engine/internal/server"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	// Load config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("listen_addr", cfg.ListenAddr).
		Str("store_backend", cfg.StoreBackend).
		Str("auth_mode", cfg.AuthMode).
		Msg("starting access engine")

	// Context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Persistence adapter
	var store persist.Adapter
	if cfg.SQLiteEnabled() {
		store, err = persist.NewSQLiteStore(cfg.SQLitePath, logger)
	} else {
		store, err = persist.NewFileStore(cfg.DataDir, logger)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open persistence store")
	}

	// Engine
	metricsCollector := metrics.New()
	eng := engine.New(store, metricsCollector, logger)

	// Health checker
	checker := health.NewChecker(logger)
	checker.Register("store", func(ctx context.Context) health.Status {
		if err := eng.Ping(); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})

	// API server
	apiServer := server.NewServer(server.Config{
		ListenAddr: cfg.ListenAddr,
		AuthConfig: server.AuthConfig{
			Mode:      cfg.AuthMode,
			APIKey:    cfg.APIKey,
			JWTSecret: cfg.JWTSecret,
		},
		RateLimit: server.RateLimitConfig{
			RPS:   cfg.RateLimitRPS,
			Burst: cfg.RateLimitBurst,
		},
		CORSOrigins:  cfg.CORSOrigins,
		TokenTTL:     cfg.TokenTTL,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}, eng, checker, metricsCollector, logger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := apiServer.Start(); err != nil {
			logger.Error().Err(err).Msg("API server error")
		}
	}()

	// Background maintenance sweep
	if cfg.SweepEnabled() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(cfg.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case now := <-ticker.C:
					eng.Sweep(now)
				}
			}
		}()
		logger.Info().Dur("interval", cfg.SweepInterval).Msg("maintenance sweep enabled")
	} else {
		logger.Info().Msg("maintenance sweep disabled")
	}

	// Wait for shutdown signal
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

	cancel()

	if err := apiServer.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("API server shutdown error")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	if err := eng.Close(); err != nil {
		logger.Error().Err(err).Msg("closing persistence store failed")
	}

	logger.Info().Msg("access engine stopped")
}
