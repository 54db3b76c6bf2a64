// Merlin - Real-time transaction fraud decisions.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/merlin/internal/api"
	"github.com/opensource-finance/merlin/internal/bus"
	"github.com/opensource-finance/merlin/internal/cache"
	"github.com/opensource-finance/merlin/internal/domain"
	"github.com/opensource-finance/merlin/internal/engine"
	"github.com/opensource-finance/merlin/internal/repository"
	"github.com/opensource-finance/merlin/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("MERLIN_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting merlin",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("MERLIN_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Resolve engine configuration: latest persisted snapshot wins,
	// defaults otherwise.
	engineCfg := loadEngineConfig(ctx, repo, cfg.Engine)

	// Initialize Engine
	eng, err := engine.New(engineCfg, engine.Options{
		Repository: repo,
		Cache:      cacheImpl,
		EventBus:   busImpl,
		Logger:     logger,
	})
	if err != nil {
		slog.Error("failed to initialize engine", "error", err)
		os.Exit(1)
	}
	slog.Info("engine initialized",
		"config_version", engineCfg.Version,
		"rules_count", len(engineCfg.Rules),
	)

	// Prime the alert manager with open alerts from the repository
	loadOpenAlerts(ctx, repo, eng)

	// Initialize notification dispatcher
	dispatcher := worker.NewDispatcher(busImpl, worker.NewLogNotifier(logger))
	if err := dispatcher.Start(); err != nil {
		slog.Error("failed to start notification dispatcher", "error", err)
		os.Exit(1)
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, eng, repo, cacheImpl, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("merlin is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop dispatcher first
	if err := dispatcher.Stop(); err != nil {
		slog.Error("failed to stop notification dispatcher", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("merlin shutdown complete")
}

// loadEngineConfig returns the newest persisted engine configuration, or the
// supplied default when none has been saved yet.
func loadEngineConfig(ctx context.Context, repo domain.Repository, fallback *domain.EngineConfig) *domain.EngineConfig {
	cfg, err := repo.GetLatestEngineConfig(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Warn("failed to load persisted engine config", "error", err)
		}
		slog.Info("using default engine config", "version", fallback.Version)
		return fallback
	}

	if err := cfg.Validate(); err != nil {
		slog.Warn("persisted engine config invalid, using default",
			"version", cfg.Version,
			"error", err,
		)
		return fallback
	}

	slog.Info("loaded persisted engine config", "version", cfg.Version)
	return cfg
}

// loadOpenAlerts primes the in-memory alert index so the workflow survives
// restarts. Closed alerts load too: they stay reopenable inside the reopen
// window.
func loadOpenAlerts(ctx context.Context, repo domain.Repository, eng *engine.Engine) {
	var all []*domain.Alert
	for _, status := range []domain.AlertStatus{
		domain.AlertNew,
		domain.AlertUnderInvestigation,
		domain.AlertReopened,
		domain.AlertConfirmed,
		domain.AlertFalsePositive,
		domain.AlertClosed,
	} {
		alerts, err := repo.ListAlertsByStatus(ctx, status, 1000)
		if err != nil {
			slog.Warn("failed to load alerts", "status", status, "error", err)
			continue
		}
		all = append(all, alerts...)
	}

	if len(all) > 0 {
		eng.Alerts().Load(all)
		slog.Info("alerts loaded from repository", "count", len(all))
	}
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🧙 MERLIN                   ║")
	fmt.Println("  ║      Fraud Decision Engine                ║")
	fmt.Println("  ║      Every transaction, judged.           ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /api/v1/score                    - Score a transaction")
	fmt.Println("    GET  /api/v1/assessments/{id}         - Get assessment by ID")
	fmt.Println("    GET  /api/v1/transactions/{id}        - Get transaction by ID")
	fmt.Println("    GET  /api/v1/alerts                   - List alerts by status")
	fmt.Println("    POST /api/v1/alerts/{id}/transition   - Move an alert through its workflow")
	fmt.Println("    GET  /api/v1/config                   - Active engine configuration")
	fmt.Println("    PUT  /api/v1/config                   - Hot-reload engine configuration")
	fmt.Println("    POST /api/v1/models/train             - Train and swap the model ensemble")
	fmt.Println("    GET  /health                          - Health check")
	fmt.Println()
}
