package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"codemap/internal/codemapping"
)

var (
	applyProject  string
	applyFilename string
	applyModule   string
	applyAbsPath  string
	applyPlatform string
	applyFormat   string
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Resolve a frame to a source file with stored mappings",
	Long: `Apply a project's stored code mappings to one frame. The first mapping
in precedence order whose stack root prefixes the frame path wins.

Examples:
  codemap apply --project backend --filename sentry/tasks.py --platform python`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringVar(&applyProject, "project", "", "Project whose mappings are applied")
	applyCmd.Flags().StringVar(&applyFilename, "filename", "", "Frame filename")
	applyCmd.Flags().StringVar(&applyModule, "module", "", "Frame module (module platforms)")
	applyCmd.Flags().StringVar(&applyAbsPath, "abs-path", "", "Frame abs_path")
	applyCmd.Flags().StringVar(&applyPlatform, "platform", "", "Event platform")
	applyCmd.Flags().StringVar(&applyFormat, "format", "human", "Output format (json, human)")
	_ = applyCmd.MarkFlagRequired("project")
	rootCmd.AddCommand(applyCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	format, err := parseFormat(applyFormat)
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	frame := codemapping.Frame{Filename: applyFilename, Module: applyModule, AbsPath: applyAbsPath}
	loc, ok, err := a.deriver.Apply(applyProject, frame, applyPlatform)
	if err != nil {
		return err
	}

	if format == FormatJSON {
		if !ok {
			return writeJSON(stdout(), nil)
		}
		return writeJSON(stdout(), loc)
	}

	w := stdout()
	if !ok {
		warnColor.Fprintln(w, "No code mapping applies")
		return nil
	}
	fmt.Fprintf(w, "%s@%s:%s\n", loc.Repo.Name, loc.Repo.Branch, loc.SourcePath)
	dimColor.Fprintf(w, "via code mapping %d\n", loc.ConfigID)
	return nil
}
