package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/classifier"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/knowledge"
)

func newClassifyCommand(root *RootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "classify [text...]",
		Short: "Score text and detect its typology without drafting a narrative",
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if text == "" {
				var err error
				if text, err = readInput(cmd, file); err != nil {
					return err
				}
			}

			cfg, err := config.Load(root.ConfigPath)
			if err != nil {
				return err
			}
			policy, err := classifier.ParseFloorPolicy(cfg.Classifier.FloorPolicy)
			if err != nil {
				return err
			}
			kb, err := knowledge.Load()
			if err != nil {
				return fmt.Errorf("loading knowledge base: %w", err)
			}

			cls := classifier.New(kb, classifier.Config{FloorPolicy: policy}).Classify(text)
			return writeIndented(cmd.OutOrStdout(), cls)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "read text from a file instead of arguments")
	return cmd
}
