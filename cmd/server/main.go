package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/umbrellashare/umbrellashare/internal/app"
	"github.com/umbrellashare/umbrellashare/internal/credential"
	"github.com/umbrellashare/umbrellashare/internal/handler"
	"github.com/umbrellashare/umbrellashare/internal/infrastructure/logger"
	"github.com/umbrellashare/umbrellashare/internal/observability/tracing"
	"github.com/umbrellashare/umbrellashare/internal/repository"
	"github.com/umbrellashare/umbrellashare/internal/security/audit"
	"github.com/umbrellashare/umbrellashare/internal/security/auth"
	"github.com/umbrellashare/umbrellashare/internal/security/ratelimit"
	"github.com/umbrellashare/umbrellashare/internal/service"
	"github.com/umbrellashare/umbrellashare/internal/worker"
	"github.com/umbrellashare/umbrellashare/pkg/cache"
	"github.com/umbrellashare/umbrellashare/pkg/config"
)

const serviceName = "umbrellashare"

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize structured logger
	log := logger.NewLogger(cfg.LogLevel)
	log.Info("starting umbrella share server",
		slog.String("environment", cfg.Environment),
		slog.String("store", cfg.StoreBackend),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Tracing (no-op unless an OTLP endpoint is configured)
	shutdownTracing, err := tracing.Init(ctx, log, serviceName, cfg.Environment)
	if err != nil {
		log.Error("failed to initialize tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Open the document store
	token, _ := credential.Resolve(app.TokenSources(cfg, "")...)
	backend, err := app.OpenStore(cfg, token, log)
	if err != nil {
		log.Error("failed to open document store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer backend.Close()

	// 5. Repositories and the workflow engine
	policy, err := service.ParseReturnPolicy(cfg.ReturnPolicy)
	if err != nil {
		log.Error("invalid return policy", slog.String("error", err.Error()))
		os.Exit(1)
	}
	loans := service.NewLoanService(
		repository.NewUserRepository(backend.Store, log),
		repository.NewInventoryRepository(backend.Store, log),
		log,
		service.Options{MaxAttempts: cfg.LoanMaxAttempts, ReturnPolicy: policy},
	)

	// 6. Security components
	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET not set, using the development secret")
	}
	tokenManager := auth.NewTokenManager(cfg.JWTSecret, serviceName)
	rateLimiter := ratelimit.NewLimiter(cfg.RateLimitPerMinute, time.Minute)
	auditLogger := audit.NewLogger(log)
	sessions := handler.NewSessionStore(cache.New(), cfg.SessionTTL)

	// 7. HTTP routes and middleware
	router := handler.NewRouter(handler.RouterDeps{
		Loans:       loans,
		Sessions:    sessions,
		Tokens:      tokenManager,
		Limiter:     rateLimiter,
		Audit:       auditLogger,
		Checks:      map[string]handler.Pinger{backend.Name: backend.Probe},
		StaticDir:   cfg.StaticDir,
		CORSOrigins: cfg.CORSAllowedOrigins,
		Logger:      log,
	})

	// 8. Start session sweeper in background
	sweeper := worker.NewSessionSweeper(sessions, log, cfg.SessionSweepPeriod)
	go sweeper.Start(ctx)

	// 9. Start HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		// A borrow can retry both of its writes against a slow store.
		WriteTimeout: 2 * cfg.ContentAPI.Timeout * time.Duration(cfg.LoanMaxAttempts),
		IdleTimeout:  60 * time.Second,
	}

	log.Info("server starting",
		slog.Int("port", cfg.ServerPort),
		slog.String("return_policy", string(policy)),
		slog.Int("rate_limit", cfg.RateLimitPerMinute),
		slog.String("rate_limit_window", "1m"),
		slog.String("static_dir", cfg.StaticDir),
	)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.String("error", err.Error()))
			sigChan <- syscall.SIGTERM
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", slog.String("error", err.Error()))
	}

	cancel() // Stop session sweeper
	rateLimiter.Stop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("tracing shutdown error", slog.String("error", err.Error()))
	}
	log.Info("server stopped")
}
