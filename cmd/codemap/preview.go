package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"codemap/internal/codemapping"
)

var (
	previewOrg      string
	previewFilename string
	previewModule   string
	previewAbsPath  string
	previewPlatform string
	previewFormat   string
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "List every file a frame could map to",
	Long: `Show all repository files that could be the source of a single frame,
with the stack and source roots each candidate would produce. Nothing is
stored.

Examples:
  codemap preview --org acme --filename sentry/tasks.py --platform python
  codemap preview --org acme --module com.example.app.MainActivity --abs-path MainActivity.kt --platform kotlin`,
	RunE: runPreview,
}

func init() {
	previewCmd.Flags().StringVar(&previewOrg, "org", "", "Organization whose trees are searched")
	previewCmd.Flags().StringVar(&previewFilename, "filename", "", "Frame filename")
	previewCmd.Flags().StringVar(&previewModule, "module", "", "Frame module (module platforms)")
	previewCmd.Flags().StringVar(&previewAbsPath, "abs-path", "", "Frame abs_path")
	previewCmd.Flags().StringVar(&previewPlatform, "platform", "", "Event platform")
	previewCmd.Flags().StringVar(&previewFormat, "format", "human", "Output format (json, human)")
	_ = previewCmd.MarkFlagRequired("org")
	rootCmd.AddCommand(previewCmd)
}

func runPreview(cmd *cobra.Command, args []string) error {
	format, err := parseFormat(previewFormat)
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	frame := codemapping.Frame{Filename: previewFilename, Module: previewModule, AbsPath: previewAbsPath}
	matches, err := a.deriver.Preview(newContext(), previewOrg, frame, previewPlatform)
	if err != nil {
		return err
	}

	if format == FormatJSON {
		return writeJSON(stdout(), matches)
	}

	w := stdout()
	if len(matches) == 0 {
		warnColor.Fprintln(w, "No matching files")
		return nil
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "FILE\tREPOSITORY\tBRANCH\tSTACK ROOT\tSOURCE ROOT")
	for _, m := range matches {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", m.Filename, m.RepoName, m.RepoBranch, orDash(m.StacktraceRoot), orDash(m.SourcePath))
	}
	return tw.Flush()
}
