package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/knowledge"
	"github.com/opensource-finance/kestrel/internal/llm"
	"github.com/opensource-finance/kestrel/internal/pipeline"
)

type generateOptions struct {
	File     string
	Customer string
	Account  string
	Context  string
	Prior    int
	Offline  bool
	JSON     bool
}

func newGenerateCommand(root *RootOptions) *cobra.Command {
	opts := &generateOptions{}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a SAR narrative from transaction text",
		Long: `Generate a SAR narrative and its audit payload from transaction text read
from --file or stdin.

Without --server the pipeline runs in-process using the configured backend.
With --offline the deterministic fallback narrative is produced without
contacting any backend. With --server the request is sent to POST /cases and
a DRAFT case is stored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, opts.File)
			if err != nil {
				return err
			}

			req := domain.GenerateRequest{
				CustomerName:      opts.Customer,
				AccountNumber:     opts.Account,
				Transactions:      text,
				AdditionalContext: opts.Context,
				AnalystName:       root.Analyst,
				PriorCases:        opts.Prior,
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), root.Timeout)
			defer cancel()

			if root.ServerAddr != "" {
				return generateRemote(ctx, cmd.OutOrStdout(), root, req)
			}
			return generateLocal(ctx, cmd.OutOrStdout(), root, opts, req)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.File, "file", "f", "", "transaction text file (default stdin)")
	f.StringVar(&opts.Customer, "customer", "", "customer name (required)")
	f.StringVar(&opts.Account, "account", "", "account number")
	f.StringVar(&opts.Context, "context", "", "additional analyst context")
	f.IntVar(&opts.Prior, "prior-cases", 0, "known prior cases for the account")
	f.BoolVar(&opts.Offline, "offline", false, "skip the generation backend and use the fallback template")
	f.BoolVar(&opts.JSON, "json", false, "print the full result as JSON")
	_ = cmd.MarkFlagRequired("customer")

	return cmd
}

func generateLocal(ctx context.Context, out io.Writer, root *RootOptions, opts *generateOptions, req domain.GenerateRequest) error {
	cfg, err := config.Load(root.ConfigPath)
	if err != nil {
		return err
	}
	if opts.Offline {
		cfg.Generation.Backend = domain.BackendDisabled
	}
	if cfg.Generation.Backend == domain.BackendBus {
		return fmt.Errorf("the bus backend needs a running server; use --server or --offline")
	}

	kb, err := knowledge.Load()
	if err != nil {
		return err
	}
	backend, err := llm.New(cfg.Generation, cache.NewLRUCache(cfg.Cache.LocalMaxSize), nil)
	if err != nil {
		return err
	}
	p, err := pipeline.FromConfig(ctx, cfg, kb, backend, nil, nil)
	if err != nil {
		return err
	}

	req, err = pipeline.Normalize(req)
	if err != nil {
		return err
	}
	res, err := p.Generate(ctx, req)
	if err != nil {
		return err
	}

	if opts.JSON {
		return writeIndented(out, res)
	}

	fmt.Fprintf(out, "RISK SCORE: %d/100\nTYPOLOGY: %s\nPRIORITY: %s\n\n", res.RiskScore, res.Typology, res.Escalation.Priority)
	fmt.Fprintln(out, strings.TrimSpace(res.Narrative))
	fmt.Fprintln(out)
	fmt.Fprintln(out, "--- AUDIT PAYLOAD ---")
	fmt.Fprintln(out, res.AuditPayload)
	return nil
}

func generateRemote(ctx context.Context, out io.Writer, root *RootOptions, req domain.GenerateRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	respBody, err := post(ctx, root, "/cases", body)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, respBody, "", "  "); err != nil {
		_, err = out.Write(respBody)
		return err
	}
	fmt.Fprintln(out, pretty.String())
	return nil
}

// post sends a JSON body to the API and returns the response body. Non-2xx
// responses are returned as errors carrying the server's message.
func post(ctx context.Context, root *RootOptions, path string, body []byte) ([]byte, error) {
	url := strings.TrimRight(root.ServerAddr, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Analyst-ID", analystOrDefault(root.Analyst))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
		}
		return nil, fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return data, nil
}

func writeIndented(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
