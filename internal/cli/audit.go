package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/audit"
)

func newAuditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Work with audit payloads",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Validate an audit payload against the record schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}

			rec, err := audit.Parse(string(data))
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "valid: risk_score=%d typology=%q backend=%s steps=%d\n",
				rec.RiskScore, rec.TypologyDetected, rec.GenerationBackend, len(rec.ProcessingSteps))
			return nil
		},
	})
	return cmd
}
