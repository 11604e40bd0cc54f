// Kestrel - Local-first SAR narrative generation with a full audit trail.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/cases"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/knowledge"
	"github.com/opensource-finance/kestrel/internal/llm"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Set via ldflags.
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (overrides KESTREL_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kestrel: %v\n", err)
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("kestrel exited", "error", err)
		stop()
		os.Exit(1)
	}
}

// run wires the case book, generation stack and API, then serves until ctx
// is cancelled or the listener fails.
func run(ctx context.Context, cfg *domain.Config, logger *slog.Logger) error {
	logger.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"generation_backend", cfg.Generation.Backend,
		"floor_policy", cfg.Classifier.FloorPolicy,
	)

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("case book: %w", err)
	}
	defer repo.Close()

	store, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer store.Close()

	eventBus, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	defer eventBus.Close()

	kb, err := knowledge.Load()
	if err != nil {
		return fmt.Errorf("knowledge base: %w", err)
	}
	logger.Info("knowledge base loaded",
		"templates", len(kb.Templates()),
		"typologies", len(kb.Typologies()),
		"escalation_rules", len(kb.EscalationRules()),
	)

	backend, err := llm.New(cfg.Generation, store, eventBus)
	if err != nil {
		return fmt.Errorf("generation backend: %w", err)
	}

	if cfg.Generation.Responder {
		responder, err := startResponder(ctx, cfg.Generation, store, eventBus)
		if err != nil {
			return err
		}
		defer func() {
			if err := responder.Stop(); err != nil {
				logger.Error("failed to stop generation responder", "error", err)
			}
		}()
	}

	p, err := pipeline.FromConfig(ctx, cfg, kb, backend, repo, logger)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	caseSvc := cases.NewService(p, repo, history.NewService(repo, cfg.History.Window, logger), eventBus, logger)

	queue := worker.NewWorker(eventBus, caseSvc, logger)
	if err := queue.Start(); err != nil {
		return fmt.Errorf("async worker: %w", err)
	}
	defer func() {
		if err := queue.Stop(); err != nil {
			logger.Error("failed to stop async worker", "error", err)
		}
	}()

	srv := api.NewServer(cfg.Server, api.Deps{
		Cases:      caseSvc,
		Classifier: p,
		Templates:  kb,
		Repo:       repo,
		Cache:      store,
		Bus:        eventBus,
		Version:    Version,
	})

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	logger.Info("kestrel is ready", "host", cfg.Server.Host, "port", cfg.Server.Port, "backend", backend.Name())
	printBanner(cfg, Version, backend.Name())

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	return nil
}

// startResponder answers bus-backed generation requests from other nodes
// with a local Ollama model.
func startResponder(ctx context.Context, gen domain.GenerationConfig, store domain.Cache, eventBus domain.EventBus) (*llm.Responder, error) {
	gen.Backend = domain.BackendOllama
	local, err := llm.New(gen, store, nil)
	if err != nil {
		return nil, fmt.Errorf("responder backend: %w", err)
	}
	responder := llm.NewResponder(eventBus, local)
	if err := responder.Start(ctx); err != nil {
		return nil, fmt.Errorf("generation responder: %w", err)
	}
	return responder, nil
}

func printBanner(cfg *domain.Config, version, backend string) {
	fmt.Printf(`
  KESTREL  %s
  SAR narratives, drafted locally, audited end to end.

  tier     %s
  backend  %s
  listen   http://%s:%d

  POST /cases                draft a SAR (?async=true to queue)
  GET  /cases[/{id}]         browse cases
  POST /cases/{id}/approve   approve, optionally with an edited narrative
  POST /cases/{id}/reject    reject with a reason
  GET  /cases/{id}/audit     review history
  GET  /stats  /templates    case statistics, reference templates
  POST /classify             score text without drafting
  GET  /health /metrics      liveness, Prometheus

`, version, cfg.Tier, backend, cfg.Server.Host, cfg.Server.Port)
}
