// Package pipeline implements the narrative generation pipeline.
// The pipeline classifies the case text, retrieves reference templates,
// evaluates escalation rules, synthesizes the narrative and records the audit trail.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/audit"
	"github.com/opensource-finance/kestrel/internal/classifier"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/narrative"
	"github.com/opensource-finance/kestrel/internal/retrieval"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// ErrInvalidInput is returned for requests missing required fields.
var ErrInvalidInput = errors.New("invalid input")

// DefaultAccountNumber is used when a request carries no account number.
const DefaultAccountNumber = "N/A"

var tracer = otel.Tracer("kestrel-pipeline")

// Config wires the pipeline stages.
type Config struct {
	Classifier  *classifier.Classifier
	Retriever   *retrieval.Retriever
	Rules       *rules.Engine
	Synthesizer *narrative.Synthesizer
	TopK        int
	Logger      *slog.Logger
}

// Pipeline is stateless apart from its read-only stages and is safe for
// concurrent use.
type Pipeline struct {
	classifier  *classifier.Classifier
	retriever   *retrieval.Retriever
	rules       *rules.Engine
	synthesizer *narrative.Synthesizer
	topK        int
	logger      *slog.Logger
}

// New creates a pipeline. Every stage is required.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Classifier == nil || cfg.Retriever == nil || cfg.Rules == nil || cfg.Synthesizer == nil {
		return nil, fmt.Errorf("pipeline requires classifier, retriever, rules and synthesizer")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = retrieval.DefaultTopK
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		classifier:  cfg.Classifier,
		retriever:   cfg.Retriever,
		rules:       cfg.Rules,
		synthesizer: cfg.Synthesizer,
		topK:        cfg.TopK,
		logger:      cfg.Logger,
	}, nil
}

// Classify runs the classifier alone.
func (p *Pipeline) Classify(text string) domain.Classification {
	return p.classifier.Classify(text)
}

// Backend returns the generation backend name.
func (p *Pipeline) Backend() string {
	return p.synthesizer.Backend()
}

// Normalize validates a request and applies defaults. Additional context is
// folded into the transaction text.
func Normalize(req domain.GenerateRequest) (domain.GenerateRequest, error) {
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.AccountNumber = strings.TrimSpace(req.AccountNumber)

	if req.CustomerName == "" {
		return req, fmt.Errorf("%w: customer_name is required", ErrInvalidInput)
	}
	if strings.TrimSpace(req.Transactions) == "" {
		return req, fmt.Errorf("%w: transactions is required", ErrInvalidInput)
	}
	if req.PriorCases < 0 {
		return req, fmt.Errorf("%w: prior_cases must not be negative", ErrInvalidInput)
	}
	if req.AccountNumber == "" {
		req.AccountNumber = DefaultAccountNumber
	}
	if extra := strings.TrimSpace(req.AdditionalContext); extra != "" {
		req.Transactions = req.Transactions + "\n\nADDITIONAL CONTEXT:\n" + extra
		req.AdditionalContext = ""
	}
	return req, nil
}

// Generate produces a narrative, risk score, typology and audit payload.
// Only invalid input is returned as an error; retrieval and backend failures
// degrade to their deterministic fallbacks.
func (p *Pipeline) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.NarrativeResult, error) {
	start := time.Now()

	req, err := Normalize(req)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "pipeline.generate",
		trace.WithAttributes(attribute.String("account_number", req.AccountNumber)),
	)
	defer span.End()

	_, clsSpan := tracer.Start(ctx, "pipeline.classify")
	cls := p.classifier.Classify(req.Transactions)
	clsSpan.SetAttributes(
		attribute.Int("risk_score", cls.RiskScore),
		attribute.String("typology", cls.Typology),
	)
	clsSpan.End()

	retCtx, retSpan := tracer.Start(ctx, "pipeline.retrieve")
	ret := p.retriever.Retrieve(retCtx, req.Transactions, p.topK)
	retSpan.SetAttributes(
		attribute.Bool("fallback", ret.Fallback),
		attribute.StringSlice("typologies", ret.Typologies()),
	)
	retSpan.End()

	escCtx, escSpan := tracer.Start(ctx, "pipeline.escalate")
	esc := p.rules.Evaluate(escCtx, domain.EscalationFacts{
		RiskScore:         cls.RiskScore,
		Typology:          cls.Typology,
		HighHits:          cls.HitCount(domain.TierHigh),
		MediumHits:        cls.HitCount(domain.TierMedium),
		LowHits:           cls.HitCount(domain.TierLow),
		PriorCases:        req.PriorCases,
		TransactionLength: utf8.RuneCountInString(req.Transactions),
	})
	escSpan.SetAttributes(attribute.String("priority", esc.Priority))
	escSpan.End()
	for _, e := range esc.Errors {
		p.logger.Warn("escalation rule error", "error", e)
	}

	synCtx, synSpan := tracer.Start(ctx, "pipeline.synthesize")
	outcome := p.synthesizer.Synthesize(synCtx, req, cls, ret, esc)
	synSpan.SetAttributes(attribute.String("outcome", string(outcome.Kind)))
	synSpan.End()

	rec := audit.Record(audit.Input{
		Transactions:   req.Transactions,
		Classification: cls,
		Retrieval:      ret,
		Escalation:     esc,
		Outcome:        outcome,
		PromptTemplate: narrative.PromptTemplateID,
		PriorCases:     req.PriorCases,
		GeneratedAt:    time.Now(),
	})
	payload, err := audit.Marshal(rec)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	elapsed := time.Since(start)
	metrics.NarrativesGenerated.WithLabelValues(rec.GenerationBackend, string(outcome.Kind)).Inc()
	metrics.GenerationDuration.WithLabelValues(string(outcome.Kind)).Observe(elapsed.Seconds())
	metrics.RiskScore.Observe(float64(cls.RiskScore))

	p.logger.Debug("narrative generated",
		"risk_score", cls.RiskScore,
		"typology", cls.Typology,
		"priority", esc.Priority,
		"outcome", outcome.Kind,
		"retrieval_fallback", ret.Fallback,
		"duration_ms", elapsed.Milliseconds(),
	)

	return &domain.NarrativeResult{
		Narrative:    outcome.Text,
		RiskScore:    cls.RiskScore,
		Typology:     cls.Typology,
		Escalation:   esc,
		Outcome:      outcome,
		Audit:        rec,
		AuditPayload: payload,
		DurationMs:   elapsed.Milliseconds(),
	}, nil
}
