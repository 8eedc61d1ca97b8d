// Kestrel - Risk and fraud scoring for financial documents.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/counterparty"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/worker"
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
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
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

	// Seed the built-in global rule catalog on first start. Operators
	// tune or replace rules afterwards via the rules API.
	if err := seedDefaultRules(ctx, repo); err != nil {
		slog.Error("failed to seed rule catalog", "error", err)
		os.Exit(1)
	}

	// Initialize rule catalog and evaluators
	catalog := rules.NewCatalog(repo, cacheImpl, time.Duration(cfg.Scoring.RuleCacheTTLSecs)*time.Second)

	documents, err := rules.NewDocumentEvaluator(repo)
	if err != nil {
		slog.Error("failed to initialize document evaluator", "error", err)
		os.Exit(1)
	}
	companies := rules.NewCompanyEvaluator(repo, cfg.Scoring.CompanyPageLimit)
	counterparties := counterparty.NewService(repo)
	slog.Info("rule evaluators initialized")

	// Initialize scoring pipeline
	pipeline := scoring.NewPipeline(repo, catalog, documents, companies, counterparties, busImpl, cfg.Scoring)
	slog.Info("scoring pipeline initialized",
		"window_days", cfg.Scoring.CompanyWindowDays,
	)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, pipeline)

		tenantIDs := []string{}
		if envTenants := os.Getenv("KESTREL_TENANTS"); envTenants != "" {
			for _, tenantID := range strings.Split(envTenants, ",") {
				if tenantID = strings.TrimSpace(tenantID); tenantID != "" {
					tenantIDs = append(tenantIDs, tenantID)
				}
			}
		}

		workerCfg := worker.Config{
			TenantIDs:   tenantIDs,
			WorkerCount: 5,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, pipeline, catalog, documents, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// seedDefaultRules writes the built-in global rules when the catalog is
// empty. An already-populated catalog is left untouched so operator
// changes survive restarts.
func seedDefaultRules(ctx context.Context, repo domain.Repository) error {
	existing, err := repo.ListRules(ctx, domain.GlobalTenantID, domain.ScopeDocument)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		slog.Info("rule catalog already populated", "document_rules", len(existing))
		return nil
	}

	defaults := rules.DefaultRules()
	for _, rule := range defaults {
		if err := repo.SaveRule(ctx, domain.GlobalTenantID, rule); err != nil {
			return fmt.Errorf("failed to seed rule %s: %w", rule.Code, err)
		}
	}

	slog.Info("seeded default rule catalog", "count", len(defaults))
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║      Document Risk & Fraud Engine         ║")
	fmt.Println("  ║       Eyes on every document.             ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /documents/evaluate              - Score a document")
	fmt.Println("    GET  /documents/{id}                  - Get document by ID")
	fmt.Println("    GET  /documents/{id}/score            - Get document score")
	fmt.Println("    POST /companies/{unit}/score          - Score a business unit")
	fmt.Println("    GET  /companies/{unit}/score          - Get company score")
	fmt.Println("    GET  /rules                           - List active rules")
	fmt.Println("    GET  /rules/{scope}/{code}            - Get one rule")
	fmt.Println("    POST /rules                           - Create or update a rule")
	fmt.Println("    POST /rules/reload                    - Hot-reload rules from database")
	fmt.Println("    GET  /health                          - Health check")
	fmt.Println()
}
