// Package cli implements the semlayer command-line interface. It operates
// directly on a model directory and a DuckDB database, without going through
// the HTTP API.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "semlayer",
		Short:         "Semantic layer CLI",
		Long:          "Compile and run semantic-layer queries against locally defined models.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Precedence: flag > env > default.
			if !cmd.Flags().Changed("models") {
				if v := os.Getenv("MODEL_DIR"); v != "" {
					_ = cmd.Root().PersistentFlags().Set("models", v)
				}
			}
			return validateOutputFormat(getOutputFormat(cmd))
		},
	}

	rootCmd.PersistentFlags().String("models", "models", "Directory of model YAML files")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "Output format (table, json)")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newModelsCmd())
	rootCmd.AddCommand(newDescribeCmd())
	rootCmd.AddCommand(newGraphCmd())
	rootCmd.AddCommand(newExplainCmd())
	rootCmd.AddCommand(newQueryCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, map[string]string{
					"version": version,
					"commit":  commit,
				})
			}
			_, _ = fmt.Fprintf(os.Stdout, "semlayer version %s (commit: %s)\n", version, commit)
			return nil
		},
	}
}
