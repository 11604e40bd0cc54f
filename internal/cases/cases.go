// Package cases runs the SAR case workflow: generation, analyst review and
// the audit log around both.
package cases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/pipeline"
)

// ErrReasonRequired is returned when a rejection carries no reason.
var ErrReasonRequired = errors.New("rejection reason is required")

// Generator produces narratives for a request.
type Generator interface {
	Generate(ctx context.Context, req domain.GenerateRequest) (*domain.NarrativeResult, error)
}

// Event is published on the case workflow topics.
type Event struct {
	CaseID    string `json:"case_id"`
	Status    string `json:"status"`
	Analyst   string `json:"analyst,omitempty"`
	RiskScore int    `json:"risk_score"`
	Typology  string `json:"typology"`
	Priority  string `json:"priority"`
	Fallback  bool   `json:"fallback"`
}

// Service coordinates generation, persistence and notifications.
type Service struct {
	generator Generator
	repo      domain.Repository
	history   *history.Service
	bus       domain.EventBus
	logger    *slog.Logger
}

// NewService creates a case service. history and bus may be nil.
func NewService(generator Generator, repo domain.Repository, hist *history.Service, bus domain.EventBus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		generator: generator,
		repo:      repo,
		history:   hist,
		bus:       bus,
		logger:    logger,
	}
}

// GenerateResult bundles the stored case with the pipeline output.
type GenerateResult struct {
	Case   *domain.Case
	Result *domain.NarrativeResult
}

// Generate produces a narrative, stores it as a DRAFT case and records the
// GENERATED audit entry.
func (s *Service) Generate(ctx context.Context, req domain.GenerateRequest) (*GenerateResult, error) {
	req, err := pipeline.Normalize(req)
	if err != nil {
		return nil, err
	}

	if s.history != nil {
		req.PriorCases = max(req.PriorCases, s.history.PriorCases(ctx, req.AccountNumber))
	}

	res, err := s.generator.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	c := &domain.Case{
		ID:            uuid.New().String(),
		CustomerName:  req.CustomerName,
		AccountNumber: req.AccountNumber,
		Transactions:  req.Transactions,
		Narrative:     res.Narrative,
		Status:        domain.CaseDraft,
		RiskScore:     res.RiskScore,
		Typology:      res.Typology,
		Priority:      res.Escalation.Priority,
		Fallback:      res.Outcome.IsFallback(),
		AnalystName:   req.AnalystName,
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.repo.SaveCase(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to save case: %w", err)
	}

	entry := &domain.AuditEntry{
		CaseID:   c.ID,
		Action:   domain.ActionGenerated,
		Analyst:  req.AnalystName,
		Detail:   fmt.Sprintf("SAR generated. Risk Score: %d/100. Typology: %s", res.RiskScore, res.Typology),
		DataUsed: res.AuditPayload,
	}
	if err := s.repo.AppendAudit(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to record audit entry: %w", err)
	}

	metrics.CaseActions.WithLabelValues(strings.ToLower(domain.ActionGenerated)).Inc()
	s.publish(ctx, domain.TopicCaseGenerated, c, req.AnalystName)

	s.logger.Info("case generated",
		"case_id", c.ID,
		"risk_score", c.RiskScore,
		"typology", c.Typology,
		"priority", c.Priority,
		"fallback", c.Fallback,
		"prior_cases", req.PriorCases,
		"duration_ms", res.DurationMs,
	)

	return &GenerateResult{Case: c, Result: res}, nil
}

// approvalData is stored as data_used on APPROVED entries.
type approvalData struct {
	OriginalNarrativeLength int  `json:"original_narrative_length"`
	FinalNarrativeLength    int  `json:"final_narrative_length"`
	EditsMade               bool `json:"edits_made"`
}

// Approve marks a DRAFT case as approved. An empty edit keeps the generated narrative.
func (s *Service) Approve(ctx context.Context, caseID, analyst, editedNarrative string) (*domain.Case, error) {
	if strings.TrimSpace(editedNarrative) == "" {
		editedNarrative = ""
	}

	c, err := s.repo.ApproveCase(ctx, caseID, analyst, editedNarrative)
	if err != nil {
		return nil, err
	}

	final := c.FinalNarrative()
	data, _ := json.Marshal(approvalData{
		OriginalNarrativeLength: utf8.RuneCountInString(c.Narrative),
		FinalNarrativeLength:    utf8.RuneCountInString(final),
		EditsMade:               final != c.Narrative,
	})

	if err := s.repo.AppendAudit(ctx, &domain.AuditEntry{
		CaseID:   c.ID,
		Action:   domain.ActionApproved,
		Analyst:  analyst,
		Detail:   "Analyst reviewed and approved SAR for filing.",
		DataUsed: string(data),
	}); err != nil {
		return nil, fmt.Errorf("failed to record audit entry: %w", err)
	}

	metrics.CaseActions.WithLabelValues(strings.ToLower(domain.ActionApproved)).Inc()
	s.publish(ctx, domain.TopicCaseApproved, c, analyst)

	s.logger.Info("case approved", "case_id", c.ID, "analyst", analyst)
	return c, nil
}

// Reject sends a DRAFT case back with a reason.
func (s *Service) Reject(ctx context.Context, caseID, analyst, reason string) (*domain.Case, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	c, err := s.repo.RejectCase(ctx, caseID, analyst, reason)
	if err != nil {
		return nil, err
	}

	if err := s.repo.AppendAudit(ctx, &domain.AuditEntry{
		CaseID:  c.ID,
		Action:  domain.ActionRejected,
		Analyst: analyst,
		Detail:  "SAR rejected. Reason: " + reason,
	}); err != nil {
		return nil, fmt.Errorf("failed to record audit entry: %w", err)
	}

	metrics.CaseActions.WithLabelValues(strings.ToLower(domain.ActionRejected)).Inc()
	s.publish(ctx, domain.TopicCaseRejected, c, analyst)

	s.logger.Info("case rejected", "case_id", c.ID, "analyst", analyst)
	return c, nil
}

// Get returns a case by ID.
func (s *Service) Get(ctx context.Context, caseID string) (*domain.Case, error) {
	return s.repo.GetCase(ctx, caseID)
}

// List returns the most recent cases.
func (s *Service) List(ctx context.Context, limit int) ([]*domain.Case, error) {
	return s.repo.ListCases(ctx, limit)
}

// AuditTrail returns the case's audit entries. Unknown cases yield the
// repository's not-found error.
func (s *Service) AuditTrail(ctx context.Context, caseID string) ([]*domain.AuditEntry, error) {
	if _, err := s.repo.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	return s.repo.GetAuditTrail(ctx, caseID)
}

// Stats summarizes the case book.
func (s *Service) Stats(ctx context.Context) (*domain.CaseStats, error) {
	return s.repo.Stats(ctx)
}

func (s *Service) publish(ctx context.Context, topic string, c *domain.Case, analyst string) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(Event{
		CaseID:    c.ID,
		Status:    c.Status,
		Analyst:   analyst,
		RiskScore: c.RiskScore,
		Typology:  c.Typology,
		Priority:  c.Priority,
		Fallback:  c.Fallback,
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, topic, payload); err != nil {
		s.logger.Error("failed to publish case event",
			"topic", topic,
			"case_id", c.ID,
			"error", err,
		)
	}
}
