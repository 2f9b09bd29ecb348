package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"codemap/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(stdout(), "codemap %s\n", version.Colored())
		dimColor.Fprintf(stdout(), "Commit: %s\nBuilt: %s\n", version.Commit, version.BuildDate)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
