package narrative

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/llm"
)

type fakeBackend struct {
	text  string
	err   error
	delay time.Duration
	got   string
}

func (f *fakeBackend) Name() string { return "fake:model" }

func (f *fakeBackend) Generate(ctx context.Context, prompt string) (string, error) {
	f.got = prompt
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.text, f.err
}

func testInputs() (domain.GenerateRequest, domain.Classification, domain.Retrieval, domain.Escalation) {
	req := domain.GenerateRequest{
		CustomerName:  "Anita Desai",
		AccountNumber: "CA-3312-9901-7745",
		Transactions:  "9 cash deposits of 49,000 below threshold",
	}
	cls := domain.Classification{
		RiskScore:    30,
		Typology:     domain.TypologyStructuring,
		Hits:         map[domain.RiskTier][]string{domain.TierHigh: {}, domain.TierMedium: {}, domain.TierLow: {}},
		TypologyHits: []string{"below threshold", "cash deposits", "49,000"},
	}
	ret := domain.Retrieval{Context: "\n\n--- REFERENCE TEMPLATE (Structuring / Smurfing) ---\nSUBJECT INFORMATION:"}
	esc := domain.Escalation{Priority: domain.PriorityStandard, Actions: []string{"Place account under enhanced monitoring"}}
	return req, cls, ret, esc
}

func liveNarrative() string {
	var b strings.Builder
	for _, h := range RequiredSections {
		b.WriteString(h + "\nbody\n\n")
	}
	return b.String()
}

func TestSections(t *testing.T) {
	t.Run("Exact", func(t *testing.T) {
		if !HasRequiredSections(liveNarrative()) {
			t.Error("expected canonical narrative to pass")
		}
	})

	t.Run("TolerantFormatting", func(t *testing.T) {
		text := strings.Join([]string{
			"### 1. Subject Information",
			"**2. TRANSACTION SUMMARY**",
			"## 3.  SUSPICIOUS ACTIVITY DESCRIPTION:",
			"## 4. TYPOLOGY MATCH",
			"## 5. RED FLAGS IDENTIFIED",
			"## 6. ANALYST RECOMMENDATION",
			"## 7. AUDIT RATIONALE   ",
		}, "\ntext\n")
		if got := Sections(text); len(got) != 7 {
			t.Errorf("expected 7 sections, got %v", got)
		}
		if !HasRequiredSections(text) {
			t.Error("expected tolerant match")
		}
	})

	t.Run("MissingSection", func(t *testing.T) {
		text := strings.Replace(liveNarrative(), "## 5. RED FLAGS IDENTIFIED", "## 5. OBSERVATIONS", 1)
		if HasRequiredSections(text) {
			t.Error("expected missing section to fail")
		}
	})

	t.Run("WrongOrder", func(t *testing.T) {
		text := "## 2. TRANSACTION SUMMARY\n" + strings.Replace(liveNarrative(), "## 2. TRANSACTION SUMMARY", "", 1)
		if HasRequiredSections(text) {
			t.Error("expected out of order sections to fail")
		}
	})

	t.Run("Prose", func(t *testing.T) {
		if got := Sections("I cannot help with that request."); len(got) != 0 {
			t.Errorf("expected no sections, got %v", got)
		}
	})
}

func TestBuildPrompt(t *testing.T) {
	req, cls, ret, esc := testInputs()
	prompt := BuildPrompt(req, cls, ret, esc)

	for _, want := range []string{
		"CUSTOMER NAME: Anita Desai",
		"ACCOUNT NUMBER: CA-3312-9901-7745",
		"DETECTED TYPOLOGY: Structuring / Smurfing",
		"RISK SCORE: 30/100",
		"REVIEW PRIORITY: STANDARD",
		"--- REFERENCE TEMPLATE (Structuring / Smurfing) ---",
		"9 cash deposits of 49,000 below threshold",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if !HasRequiredSections(prompt) {
		t.Error("prompt should list every required section")
	}
}

func TestFallback(t *testing.T) {
	req, cls, _, esc := testInputs()
	text := Fallback(req, cls, esc)

	got := Sections(text)
	if strings.Join(got, "|") != strings.Join(RequiredSections, "|") {
		t.Errorf("expected exactly the required sections, got %v", got)
	}
	for _, want := range []string{
		"Customer Name: Anita Desai",
		"Detected Typology: Structuring / Smurfing",
		"Risk Score: 30/100",
		"- Place account under enhanced monitoring",
		"9 cash deposits of 49,000",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("fallback missing %q", want)
		}
	}

	if Fallback(req, cls, esc) != text {
		t.Error("fallback must be deterministic")
	}
}

func TestFallbackEmptyInput(t *testing.T) {
	text := Fallback(domain.GenerateRequest{}, domain.Classification{Typology: domain.TypologyGeneral, RiskScore: 30}, domain.Escalation{})
	if !HasRequiredSections(text) {
		t.Error("fallback for empty input must still contain all sections")
	}
}

func TestSynthesize(t *testing.T) {
	req, cls, ret, esc := testInputs()
	ctx := context.Background()

	t.Run("Live", func(t *testing.T) {
		backend := &fakeBackend{text: liveNarrative()}
		out := NewSynthesizer(backend, time.Second, nil).Synthesize(ctx, req, cls, ret, esc)

		if out.Kind != domain.OutcomeLive {
			t.Fatalf("expected live outcome, got %s (%s)", out.Kind, out.Reason)
		}
		if out.Backend != "fake:model" {
			t.Errorf("expected backend fake:model, got %s", out.Backend)
		}
		if !strings.Contains(backend.got, "RISK SCORE: 30/100") {
			t.Error("backend did not receive assembled prompt")
		}
	})

	tests := []struct {
		name       string
		backend    llm.Backend
		timeout    time.Duration
		wantReason string
	}{
		{"BackendError", &fakeBackend{err: errors.New("connection refused")}, time.Second, "connection refused"},
		{"Disabled", llm.Disabled{}, time.Second, llm.ErrBackendDisabled.Error()},
		{"NilBackend", nil, time.Second, llm.ErrBackendDisabled.Error()},
		{"Timeout", &fakeBackend{text: liveNarrative(), delay: time.Second}, 20 * time.Millisecond, "deadline exceeded"},
		{"MissingSections", &fakeBackend{text: "Here is a summary of the case."}, time.Second, ErrMissingSections.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := NewSynthesizer(tt.backend, tt.timeout, nil).Synthesize(ctx, req, cls, ret, esc)
			if !out.IsFallback() {
				t.Fatal("expected fallback outcome")
			}
			if !strings.Contains(out.Reason, tt.wantReason) {
				t.Errorf("expected reason containing %q, got %q", tt.wantReason, out.Reason)
			}
			if !HasRequiredSections(out.Text) {
				t.Error("fallback narrative missing sections")
			}
		})
	}
}
