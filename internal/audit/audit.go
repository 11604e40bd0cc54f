// Package audit builds the structured record explaining how a narrative was
// produced and (de)serializes it as the audit payload stored with each case.
package audit

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/xeipuuv/gojsonschema"

	"github.com/opensource-finance/kestrel/internal/domain"
)

//go:embed schema.json
var schemaJSON []byte

// ErrInvalidPayload is returned when an audit payload fails schema validation.
var ErrInvalidPayload = errors.New("invalid audit payload")

// FallbackBackend is recorded as generation_backend for fallback narratives.
const FallbackBackend = "deterministic-fallback"

var schemaLoader = gojsonschema.NewBytesLoader(schemaJSON)

// Input carries everything the recorder needs from one pipeline run.
type Input struct {
	Transactions   string
	Classification domain.Classification
	Retrieval      domain.Retrieval
	Escalation     domain.Escalation
	Outcome        domain.GenerationOutcome
	PromptTemplate string
	PriorCases     int
	GeneratedAt    time.Time
}

// Record builds the audit record. Slices are copied so the record does not
// alias pipeline state.
func Record(in Input) domain.AuditRecord {
	rec := domain.AuditRecord{
		RiskScore:           in.Classification.RiskScore,
		TypologyDetected:    in.Classification.Typology,
		TemplatesReferenced: append([]string{}, in.Retrieval.Typologies()...),
		RetrievalFallback:   in.Retrieval.Fallback,
		TransactionLength:   utf8.RuneCountInString(in.Transactions),
		PromptTemplate:      in.PromptTemplate,
		KeywordHits:         copyHits(in.Classification.Hits),
		Escalation: domain.Escalation{
			Priority: in.Escalation.Priority,
			Rules:    append([]string{}, in.Escalation.Rules...),
			Actions:  append([]string{}, in.Escalation.Actions...),
			Errors:   append([]string(nil), in.Escalation.Errors...),
		},
		PriorCases:  in.PriorCases,
		GeneratedAt: in.GeneratedAt.UTC(),
	}
	if rec.GeneratedAt.IsZero() {
		rec.GeneratedAt = time.Now().UTC()
	}

	retrievalStep := "3. Template index queried for relevant SAR templates"
	if in.Retrieval.Fallback {
		retrievalStep = "3. Template retrieval unavailable, deterministic fallback template used"
	}

	var generationStep string
	if in.Outcome.IsFallback() {
		rec.GenerationBackend = FallbackBackend
		generationStep = "5. Deterministic fallback narrative generated"
	} else {
		rec.GenerationBackend = in.Outcome.Backend
		generationStep = fmt.Sprintf("5. %s generated narrative", in.Outcome.Backend)
	}

	rec.ProcessingSteps = []string{
		"1. Risk keywords scanned and scored",
		"2. Typology pattern matched",
		retrievalStep,
		"4. Prompt assembled with retrieved context",
		generationStep,
		"6. Narrative stored with audit trail",
	}
	if in.Outcome.IsFallback() {
		rec.ProcessingSteps = append(rec.ProcessingSteps,
			"NOTE: generation backend unavailable, fallback template used. Error: "+in.Outcome.Reason)
	}

	return rec
}

func copyHits(hits map[domain.RiskTier][]string) map[domain.RiskTier][]string {
	out := make(map[domain.RiskTier][]string, len(hits))
	for tier, terms := range hits {
		out[tier] = append([]string{}, terms...)
	}
	return out
}

// Marshal renders the record as indented JSON.
func Marshal(rec domain.AuditRecord) (string, error) {
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal audit record: %w", err)
	}
	return string(b), nil
}

// Validate checks a payload against the audit record schema.
func Validate(payload string) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewStringLoader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return fmt.Errorf("%w: %v", ErrInvalidPayload, errs)
	}
	return nil
}

// Parse validates and decodes a payload produced by Marshal.
func Parse(payload string) (domain.AuditRecord, error) {
	var rec domain.AuditRecord
	if err := Validate(payload); err != nil {
		return rec, err
	}
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return rec, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return rec, nil
}

// ParseMap validates a payload and decodes it into a generic map for viewers
// that do not depend on the record type.
func ParseMap(payload string) (map[string]any, error) {
	if err := Validate(payload); err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return m, nil
}
