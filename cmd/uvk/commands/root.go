package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	quiet      bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "uvk",
		Short: "uvk - Isolated uv-backed Jupyter kernels",
		Long: `uvk installs Jupyter kernelspecs whose kernels run in ephemeral,
uv-provisioned Python environments. Every kernel launch builds a fresh
isolated environment, binds the kernel process to it, and destroys the
environment when the session ends.

Features:
  - Kernelspecs bound to interpreter versions, ranges, or explicit paths
  - Per-launch ephemeral environments, never shared or reused
  - Inline PEP 723 metadata and in-session dependency additions
  - Policy screening of dependency requests
  - Launch history with exit evidence`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			if quiet {
				zerolog.SetGlobalLevel(zerolog.ErrorLevel)
			}
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&verbose, "debug", false, "enable debug output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only log errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInstallCommand())
	rootCmd.AddCommand(newUninstallCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newLaunchCommand())
	rootCmd.AddCommand(newMagicCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
