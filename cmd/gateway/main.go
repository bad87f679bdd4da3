package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/medreminder/internal/app"
	"github.com/lalithlochan/medreminder/internal/config"
	"github.com/lalithlochan/medreminder/internal/observ"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting medreminder gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("timezone", cfg.Timezone),
		zap.String("store_backend", cfg.StoreBackend),
	)

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	a.Start()
	if cfg.LocalCron != "" {
		logger.Info("in-process trigger enabled", zap.String("spec", cfg.LocalCron))
	}
	if cfg.CronSecret == "" {
		logger.Warn("CRON_SECRET unset, /cron/tick will reject every request")
	}
	if cfg.APIToken == "" {
		logger.Warn("API_TOKEN unset, the /v1 dashboard API will reject every request")
	}

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      a.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		a.Close(ctx)
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests and an in-flight tick 30 seconds
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			a.Close(ctx)
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		a.Close(ctx)

		logger.Info("server stopped gracefully")
	}

	return nil
}
