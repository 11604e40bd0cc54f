package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/audit"
	"github.com/opensource-finance/kestrel/internal/classifier"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/knowledge"
	"github.com/opensource-finance/kestrel/internal/llm"
	"github.com/opensource-finance/kestrel/internal/narrative"
	"github.com/opensource-finance/kestrel/internal/retrieval"
	"github.com/opensource-finance/kestrel/internal/rules"
)

type recordingBackend struct {
	mu      sync.Mutex
	text    string
	prompts []string
}

func (b *recordingBackend) Name() string { return "stub:sar" }

func (b *recordingBackend) Generate(_ context.Context, prompt string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prompts = append(b.prompts, prompt)
	return b.text, nil
}

func canonicalNarrative() string {
	var sb strings.Builder
	for _, h := range narrative.RequiredSections {
		sb.WriteString(h + "\nContent.\n\n")
	}
	return sb.String()
}

func newTestPipeline(t *testing.T, backend llm.Backend) *Pipeline {
	t.Helper()
	kb := knowledge.MustLoad()

	engine, err := rules.NewEngine(kb.DefaultActions())
	if err != nil {
		t.Fatalf("failed to create rules engine: %v", err)
	}
	if err := engine.LoadRules(kb.EscalationRules()); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}

	p, err := New(Config{
		Classifier:  classifier.New(kb, classifier.Config{}),
		Retriever:   retrieval.New(kb),
		Rules:       engine,
		Synthesizer: narrative.NewSynthesizer(backend, time.Second, nil),
	})
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}
	return p
}

func TestNew(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for missing stages")
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		req     domain.GenerateRequest
		wantErr bool
	}{
		{"Valid", domain.GenerateRequest{CustomerName: "A", Transactions: "x"}, false},
		{"BlankCustomer", domain.GenerateRequest{CustomerName: "  ", Transactions: "x"}, true},
		{"EmptyTransactions", domain.GenerateRequest{CustomerName: "A", Transactions: ""}, true},
		{"WhitespaceTransactions", domain.GenerateRequest{CustomerName: "A", Transactions: " \n\t"}, true},
		{"NegativePriorCases", domain.GenerateRequest{CustomerName: "A", Transactions: "x", PriorCases: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.req)
			if tt.wantErr && !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}

	t.Run("Defaults", func(t *testing.T) {
		got, err := Normalize(domain.GenerateRequest{
			CustomerName:      " Anita Desai ",
			Transactions:      "cash deposits",
			AdditionalContext: "Different branch each time.",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.AccountNumber != DefaultAccountNumber {
			t.Errorf("expected account %s, got %s", DefaultAccountNumber, got.AccountNumber)
		}
		if got.CustomerName != "Anita Desai" {
			t.Errorf("expected trimmed name, got %q", got.CustomerName)
		}
		if got.Transactions != "cash deposits\n\nADDITIONAL CONTEXT:\nDifferent branch each time." {
			t.Errorf("unexpected transactions %q", got.Transactions)
		}
	})
}

func TestGenerateStructuringOffline(t *testing.T) {
	p := newTestPipeline(t, llm.Disabled{})

	res, err := p.Generate(context.Background(), domain.GenerateRequest{
		CustomerName:  "Anita Desai",
		AccountNumber: "CA-3312-9901-7745",
		Transactions:  "9 cash deposits of 49,000 each, all below threshold; smurfing suspected",
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if res.Typology != domain.TypologyStructuring {
		t.Errorf("expected %s, got %s", domain.TypologyStructuring, res.Typology)
	}
	if res.RiskScore != 30 {
		t.Errorf("expected floored score 30, got %d", res.RiskScore)
	}
	if !res.Outcome.IsFallback() {
		t.Error("expected fallback outcome with disabled backend")
	}
	if !narrative.HasRequiredSections(res.Narrative) {
		t.Error("narrative missing required sections")
	}

	rec, err := audit.Parse(res.AuditPayload)
	if err != nil {
		t.Fatalf("audit payload does not parse: %v", err)
	}
	if rec.RiskScore != res.RiskScore || rec.TypologyDetected != res.Typology {
		t.Errorf("audit disagrees with result: %d/%s vs %d/%s", rec.RiskScore, rec.TypologyDetected, res.RiskScore, res.Typology)
	}
	if rec.GenerationBackend != audit.FallbackBackend {
		t.Errorf("expected fallback backend, got %s", rec.GenerationBackend)
	}
	if len(rec.TemplatesReferenced) != 2 {
		t.Errorf("expected 2 referenced templates, got %v", rec.TemplatesReferenced)
	}
	last := rec.ProcessingSteps[len(rec.ProcessingSteps)-1]
	if !strings.HasPrefix(last, "NOTE: generation backend unavailable") || !strings.Contains(last, llm.ErrBackendDisabled.Error()) {
		t.Errorf("unexpected final step %q", last)
	}
}

func TestGenerateLive(t *testing.T) {
	backend := &recordingBackend{text: canonicalNarrative()}
	p := newTestPipeline(t, backend)

	res, err := p.Generate(context.Background(), domain.GenerateRequest{
		CustomerName:      "Rajesh Kumar Sharma",
		Transactions:      "Funds from multiple accounts aggregated and wired offshore the same day; layering suspected",
		AdditionalContext: "No trade license on file.",
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if res.Outcome.IsFallback() {
		t.Fatalf("expected live outcome, got fallback: %s", res.Outcome.Reason)
	}
	if res.Narrative != strings.TrimSpace(canonicalNarrative()) {
		t.Error("expected backend narrative to be returned")
	}
	if res.Typology != domain.TypologyLayering {
		t.Errorf("expected %s, got %s", domain.TypologyLayering, res.Typology)
	}
	if res.RiskScore != 32 {
		t.Errorf("expected score 32, got %d", res.RiskScore)
	}
	if res.Audit.ProcessingSteps[4] != "5. stub:sar generated narrative" {
		t.Errorf("unexpected step 5: %s", res.Audit.ProcessingSteps[4])
	}
	if len(res.Audit.ProcessingSteps) != 6 {
		t.Errorf("expected 6 steps on live path, got %d", len(res.Audit.ProcessingSteps))
	}
	if len(backend.prompts) != 1 || !strings.Contains(backend.prompts[0], "ADDITIONAL CONTEXT:\nNo trade license on file.") {
		t.Error("expected additional context in the prompt")
	}
	if !strings.Contains(backend.prompts[0], "ACCOUNT NUMBER: N/A") {
		t.Error("expected default account number in the prompt")
	}
}

func TestGenerateLowRiskOnly(t *testing.T) {
	p := newTestPipeline(t, nil)

	res, err := p.Generate(context.Background(), domain.GenerateRequest{
		CustomerName: "Jane Roe",
		Transactions: "Regular transaction: salary credit followed by a utility payment",
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if res.RiskScore != 30 {
		t.Errorf("expected floor 30 under unconditional policy, got %d", res.RiskScore)
	}
	if res.Typology != domain.TypologyGeneral {
		t.Errorf("expected %s, got %s", domain.TypologyGeneral, res.Typology)
	}
	if res.Escalation.Priority != domain.PriorityStandard {
		t.Errorf("expected STANDARD priority, got %s", res.Escalation.Priority)
	}
	if len(res.Escalation.Actions) == 0 {
		t.Error("expected default actions")
	}
}

func TestGenerateEscalation(t *testing.T) {
	p := newTestPipeline(t, nil)

	res, err := p.Generate(context.Background(), domain.GenerateRequest{
		CustomerName: "Dr. Vikram Mehta",
		Transactions: "Login from new device, new beneficiary added, unauthorized transfers to a mule account",
		PriorCases:   2,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if res.Typology != domain.TypologyAccountTakeover {
		t.Errorf("expected %s, got %s", domain.TypologyAccountTakeover, res.Typology)
	}
	if res.Escalation.Priority != domain.PriorityHigh {
		t.Errorf("expected HIGH priority, got %s", res.Escalation.Priority)
	}
	fired := strings.Join(res.Escalation.Rules, ",")
	if !strings.Contains(fired, "esc_account_takeover") || !strings.Contains(fired, "esc_repeat_subject") {
		t.Errorf("unexpected fired rules %s", fired)
	}
	if res.Audit.PriorCases != 2 {
		t.Errorf("expected prior_cases 2 in audit, got %d", res.Audit.PriorCases)
	}
}

func TestGenerateInvalid(t *testing.T) {
	p := newTestPipeline(t, nil)

	if _, err := p.Generate(context.Background(), domain.GenerateRequest{CustomerName: "A"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestGenerateConcurrent(t *testing.T) {
	p := newTestPipeline(t, &recordingBackend{text: canonicalNarrative()})
	req := domain.GenerateRequest{
		CustomerName: "Anita Desai",
		Transactions: "cash deposits below threshold at multiple branches",
	}

	var wg sync.WaitGroup
	results := make([]*domain.NarrativeResult, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := p.Generate(context.Background(), req)
			if err != nil {
				t.Errorf("Generate failed: %v", err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		if res == nil {
			continue
		}
		if res.RiskScore != results[0].RiskScore || res.Typology != results[0].Typology {
			t.Errorf("result %d differs: %d/%s", i, res.RiskScore, res.Typology)
		}
	}
}

func TestFromConfig(t *testing.T) {
	cfg := domain.DefaultConfig()
	cfg.Classifier.FloorPolicy = "on_match"

	p, err := FromConfig(context.Background(), cfg, knowledge.MustLoad(), llm.Disabled{}, nil, nil)
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}
	if p.Backend() != "disabled" {
		t.Errorf("expected disabled backend, got %s", p.Backend())
	}

	cls := p.Classify("quarterly review note")
	if cls.FloorApplied {
		t.Error("expected no floor under on_match policy without hits")
	}

	t.Run("BadFloorPolicy", func(t *testing.T) {
		cfg := domain.DefaultConfig()
		cfg.Classifier.FloorPolicy = "never"
		if _, err := FromConfig(context.Background(), cfg, knowledge.MustLoad(), llm.Disabled{}, nil, nil); err == nil {
			t.Error("expected error for unknown floor policy")
		}
	})
}
