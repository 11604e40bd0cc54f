package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/audit"
	"github.com/opensource-finance/kestrel/internal/domain"
)

const structuringText = "9 cash deposits of 49,000 below threshold across branches, then crypto exchange transfer"

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

func TestGenerateOffline(t *testing.T) {
	out, err := run(t, structuringText, "generate", "--offline", "--customer", "Anita Desai", "--account", "CA-3312")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	for _, want := range []string{"RISK SCORE:", "## 1. SUBJECT INFORMATION", "Anita Desai", "--- AUDIT PAYLOAD ---", "deterministic-fallback"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q", want)
		}
	}
}

func TestGenerateOfflineJSON(t *testing.T) {
	out, err := run(t, structuringText, "generate", "--offline", "--json", "--customer", "Anita Desai")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	var res domain.NarrativeResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("expected JSON output: %v", err)
	}
	rec, err := audit.Parse(res.AuditPayload)
	if err != nil {
		t.Fatalf("audit payload should validate: %v", err)
	}
	if rec.RiskScore != res.RiskScore {
		t.Errorf("expected audit risk score %d, got %d", res.RiskScore, rec.RiskScore)
	}

	t.Run("AuditValidate", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "audit.json")
		if err := os.WriteFile(path, []byte(res.AuditPayload), 0o600); err != nil {
			t.Fatalf("failed to write payload: %v", err)
		}
		out, err := run(t, "", "audit", "validate", path)
		if err != nil {
			t.Fatalf("validate failed: %v", err)
		}
		if !strings.HasPrefix(out, "valid:") {
			t.Errorf("expected valid output, got %q", out)
		}
	})
}

func TestGenerateErrors(t *testing.T) {
	t.Run("MissingCustomer", func(t *testing.T) {
		if _, err := run(t, structuringText, "generate", "--offline"); err == nil {
			t.Error("expected error without --customer")
		}
	})

	t.Run("EmptyTransactions", func(t *testing.T) {
		if _, err := run(t, "   ", "generate", "--offline", "--customer", "X"); err == nil {
			t.Error("expected error for blank transactions")
		}
	})
}

func TestGenerateRemote(t *testing.T) {
	var gotAnalyst string
	var gotReq domain.GenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cases" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		gotAnalyst = r.Header.Get("X-Analyst-ID")
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"case_id":"c-1","status":"DRAFT"}`))
	}))
	defer srv.Close()

	out, err := run(t, structuringText, "generate", "--server", srv.URL, "--analyst", "priya", "--customer", "Anita Desai")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if gotAnalyst != "priya" {
		t.Errorf("expected analyst header priya, got %q", gotAnalyst)
	}
	if gotReq.CustomerName != "Anita Desai" {
		t.Errorf("expected customer forwarded, got %q", gotReq.CustomerName)
	}
	if !strings.Contains(out, `"case_id": "c-1"`) {
		t.Errorf("expected indented response, got %q", out)
	}

	t.Run("ServerError", func(t *testing.T) {
		bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid input: customer_name is required"}`))
		}))
		defer bad.Close()

		_, err := run(t, structuringText, "generate", "--server", bad.URL, "--customer", "x")
		if err == nil || !strings.Contains(err.Error(), "customer_name is required") {
			t.Errorf("expected server error message, got %v", err)
		}
	})
}

func TestClassify(t *testing.T) {
	out, err := run(t, "", "classify", "deposits", "below", "threshold", "structuring")
	if err != nil {
		t.Fatalf("classify failed: %v", err)
	}

	var cls domain.Classification
	if err := json.Unmarshal([]byte(out), &cls); err != nil {
		t.Fatalf("expected JSON output: %v", err)
	}
	if cls.RiskScore < 30 || cls.RiskScore > 100 {
		t.Errorf("expected score in [30,100], got %d", cls.RiskScore)
	}

	t.Run("Stdin", func(t *testing.T) {
		if _, err := run(t, structuringText, "classify"); err != nil {
			t.Errorf("classify from stdin failed: %v", err)
		}
	})
}

func TestTemplates(t *testing.T) {
	out, err := run(t, "", "templates")
	if err != nil {
		t.Fatalf("templates failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 6 {
		t.Errorf("expected header plus 5 templates, got %d lines", len(lines))
	}

	if _, err := run(t, "", "templates", "--show", "tmpl_001"); err != nil {
		t.Errorf("show failed: %v", err)
	}
	if _, err := run(t, "", "templates", "--show", "missing"); err == nil {
		t.Error("expected error for unknown template")
	}
}

func TestAuditValidateInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte(`{"risk_score": 500}`), 0o600); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}

	if _, err := run(t, "", "audit", "validate", path); err == nil {
		t.Error("expected validation error")
	}
}
