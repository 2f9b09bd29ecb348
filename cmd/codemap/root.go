package main

import (
	"github.com/spf13/cobra"

	"codemap/internal/version"
)

var (
	// configFile is the --config flag value; empty means <home>/config.json
	configFile string
	verbosity  int
	quiet      bool
)

var rootCmd = &cobra.Command{
	Use:   "codemap",
	Short: "codemap - derive code mappings from stack traces",
	Long: `codemap infers which directory of which repository a stack trace path
comes from. It derives stack-root to source-root mappings from error event
frames and repository file trees, stores them per project, and applies them
to resolve frames to source files.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("codemap version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Config file (json, yaml or toml; default: $CODEMAP_HOME/config.json)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v",
		"Increase log verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false,
		"Silence log output")
}
