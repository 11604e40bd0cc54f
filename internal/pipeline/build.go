package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/classifier"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/knowledge"
	"github.com/opensource-finance/kestrel/internal/llm"
	"github.com/opensource-finance/kestrel/internal/narrative"
	"github.com/opensource-finance/kestrel/internal/retrieval"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// FromConfig assembles every stage from the configuration and the knowledge
// base. store may be nil; it is only used when retrieval persistence is on.
// An index build failure is logged and left to the retriever's fallback.
func FromConfig(ctx context.Context, cfg *domain.Config, kb *knowledge.Base, backend llm.Backend, store retrieval.IndexStore, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}

	policy, err := classifier.ParseFloorPolicy(cfg.Classifier.FloorPolicy)
	if err != nil {
		return nil, err
	}

	engine, err := rules.NewEngine(kb.DefaultActions())
	if err != nil {
		return nil, fmt.Errorf("failed to create rules engine: %w", err)
	}
	if err := engine.LoadRules(kb.EscalationRules()); err != nil {
		return nil, fmt.Errorf("failed to load escalation rules: %w", err)
	}

	opts := []retrieval.Option{retrieval.WithLogger(logger)}
	if store != nil && cfg.Retrieval.Persist {
		opts = append(opts, retrieval.WithStore(store))
	}
	retriever := retrieval.New(kb, opts...)
	if err := retriever.Build(ctx); err != nil {
		logger.Warn("template index build failed", "error", err)
	}

	return New(Config{
		Classifier:  classifier.New(kb, classifier.Config{FloorPolicy: policy}),
		Retriever:   retriever,
		Rules:       engine,
		Synthesizer: narrative.NewSynthesizer(backend, cfg.Generation.Timeout, logger),
		TopK:        cfg.Retrieval.TopK,
		Logger:      logger,
	})
}
