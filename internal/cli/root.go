// Package cli implements the kestrelctl command tree.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// RootOptions holds global CLI flags.
type RootOptions struct {
	ConfigPath string
	ServerAddr string
	Analyst    string
	Timeout    time.Duration
}

// NewRootCommand creates the root command with every subcommand attached.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "kestrelctl",
		Short:         "Draft, score and audit SAR narratives",
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file path (overrides KESTREL_CONFIG)")
	pf.StringVar(&opts.ServerAddr, "server", "", "Kestrel API address; when empty the pipeline runs in-process")
	pf.StringVar(&opts.Analyst, "analyst", "", "analyst identity sent as X-Analyst-ID")
	pf.DurationVar(&opts.Timeout, "timeout", 3*time.Minute, "overall operation timeout")

	cmd.AddCommand(
		newGenerateCommand(opts),
		newClassifyCommand(opts),
		newTemplatesCommand(),
		newAuditCommand(),
	)
	return cmd
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// readInput reads a file path, or stdin when path is empty or "-".
func readInput(cmd *cobra.Command, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return string(data), nil
}

func analystOrDefault(name string) string {
	if strings.TrimSpace(name) != "" {
		return name
	}
	return "kestrelctl"
}
