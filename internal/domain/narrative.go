package domain

import "time"

// GenerateRequest is the input to narrative generation.
type GenerateRequest struct {
	CustomerName      string `json:"customer_name"`
	AccountNumber     string `json:"account_number"`
	Transactions      string `json:"transactions"`
	AdditionalContext string `json:"additional_context,omitempty"`
	AnalystName       string `json:"analyst_name,omitempty"`

	// PriorCases is the number of earlier cases for the same account.
	PriorCases int `json:"prior_cases,omitempty"`
}

// Classification is the output of the risk and typology classifier.
type Classification struct {
	RiskScore int    `json:"risk_score"`
	RawScore  int    `json:"raw_score"`
	Typology  string `json:"typology"`

	// Hits lists matched terms per tier, in keyword set order.
	Hits map[RiskTier][]string `json:"hits"`

	// TypologyHits lists matched indicator terms for the chosen typology.
	TypologyHits []string `json:"typology_hits,omitempty"`

	FloorApplied bool `json:"floor_applied"`
}

// HitCount returns the number of matched terms for a tier.
func (c Classification) HitCount(tier RiskTier) int {
	return len(c.Hits[tier])
}

// RetrievedTemplate is a template chosen as generation context.
type RetrievedTemplate struct {
	Template ReferenceTemplate `json:"template"`
	Score    float64           `json:"score"`
}

// Retrieval is the output of the template retriever.
type Retrieval struct {
	Templates []RetrievedTemplate `json:"templates"`
	Context   string              `json:"context"`
	Fallback  bool                `json:"fallback"`
	Error     string              `json:"error,omitempty"`
}

// Typologies returns the typology labels of the retrieved templates in order.
func (r Retrieval) Typologies() []string {
	out := make([]string, 0, len(r.Templates))
	for _, t := range r.Templates {
		out = append(out, t.Template.Typology)
	}
	return out
}

// Escalation priorities, lowest first.
const (
	PriorityStandard = "STANDARD"
	PriorityElevated = "ELEVATED"
	PriorityHigh     = "HIGH"
	PriorityCritical = "CRITICAL"
)

// Escalation is the recommendation produced by the escalation rules.
type Escalation struct {
	Priority string   `json:"priority"`
	Rules    []string `json:"rules_fired"`
	Actions  []string `json:"actions"`
	Errors   []string `json:"errors,omitempty"`
}

// OutcomeKind distinguishes live generation from the deterministic fallback.
type OutcomeKind string

const (
	OutcomeLive     OutcomeKind = "live"
	OutcomeFallback OutcomeKind = "fallback"
)

// GenerationOutcome is either a live narrative with its backend identity
// or a fallback narrative with the reason the backend was not used.
type GenerationOutcome struct {
	Kind    OutcomeKind `json:"kind"`
	Text    string      `json:"text"`
	Backend string      `json:"backend,omitempty"`
	Reason  string      `json:"reason,omitempty"`
}

// IsFallback reports whether the deterministic template produced the narrative.
func (o GenerationOutcome) IsFallback() bool {
	return o.Kind == OutcomeFallback
}

// AuditRecord is the structured explanation of how a narrative was produced.
type AuditRecord struct {
	RiskScore           int                   `json:"risk_score"`
	TypologyDetected    string                `json:"typology_detected"`
	TemplatesReferenced []string              `json:"templates_referenced"`
	RetrievalFallback   bool                  `json:"retrieval_fallback"`
	TransactionLength   int                   `json:"transaction_length"`
	GenerationBackend   string                `json:"generation_backend"`
	PromptTemplate      string                `json:"prompt_template"`
	KeywordHits         map[RiskTier][]string `json:"keyword_hits"`
	Escalation          Escalation            `json:"escalation"`
	PriorCases          int                   `json:"prior_cases"`
	GeneratedAt         time.Time             `json:"generated_at"`
	ProcessingSteps     []string              `json:"processing_steps"`
}

// NarrativeResult is the bundle returned by the generation pipeline.
type NarrativeResult struct {
	Narrative    string            `json:"narrative"`
	RiskScore    int               `json:"risk_score"`
	Typology     string            `json:"typology"`
	Escalation   Escalation        `json:"escalation"`
	Outcome      GenerationOutcome `json:"-"`
	Audit        AuditRecord       `json:"-"`
	AuditPayload string            `json:"audit_payload"`
	DurationMs   int64             `json:"duration_ms"`
}
