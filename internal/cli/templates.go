package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/knowledge"
)

func newTemplatesCommand() *cobra.Command {
	var show string

	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List the reference SAR templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kb, err := knowledge.Load()
			if err != nil {
				return fmt.Errorf("loading knowledge base: %w", err)
			}
			out := cmd.OutOrStdout()

			if show != "" {
				t, ok := kb.Template(show)
				if !ok {
					return fmt.Errorf("template %q not found", show)
				}
				fmt.Fprintf(out, "%s  %s\n%s\n\n%s\n", t.ID, t.Typology, t.Title, t.Body)
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPOLOGY\tTITLE")
			for _, t := range kb.Templates() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", t.ID, t.Typology, t.Title)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&show, "show", "", "print the full body of one template")
	return cmd
}
