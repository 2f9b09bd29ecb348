package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"codemap/internal/derivation"
)

var (
	deriveEvent   string
	deriveOrg     string
	deriveProject string
	deriveForce   bool
	deriveFormat  string
)

var deriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Derive code mappings from an error event",
	Long: `Read an error event (JSON) and derive code mappings from its frames
against the organization's repository trees. New mappings are stored for the
project; user-authored mappings are never changed.

Examples:
  codemap derive --event event.json
  codemap derive --event - --org acme --project backend < event.json
  codemap derive --event event.json --force --format json`,
	RunE: runDerive,
}

func init() {
	deriveCmd.Flags().StringVar(&deriveEvent, "event", "", "Event file, or - for stdin")
	deriveCmd.Flags().StringVar(&deriveOrg, "org", "", "Override the event organization")
	deriveCmd.Flags().StringVar(&deriveProject, "project", "", "Override the event project")
	deriveCmd.Flags().BoolVar(&deriveForce, "force", false, "Ignore the project and issue rate limits")
	deriveCmd.Flags().StringVar(&deriveFormat, "format", "human", "Output format (json, human)")
	_ = deriveCmd.MarkFlagRequired("event")
	rootCmd.AddCommand(deriveCmd)
}

func runDerive(cmd *cobra.Command, args []string) error {
	format, err := parseFormat(deriveFormat)
	if err != nil {
		return err
	}

	ev, err := readEvent(deriveEvent)
	if err != nil {
		return err
	}
	if deriveOrg != "" {
		ev.Organization = deriveOrg
	}
	if deriveProject != "" {
		ev.Project = deriveProject
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var opts []derivation.RunOption
	if deriveForce {
		opts = append(opts, derivation.Force())
	}
	result, err := a.deriver.Derive(newContext(), *ev, opts...)
	if err != nil {
		return err
	}

	if format == FormatJSON {
		return writeJSON(stdout(), result)
	}
	printDeriveResult(stdout(), ev, result)
	return nil
}

func readEvent(path string) (*derivation.Event, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open event: %w", err)
		}
		defer f.Close()
		r = f
	}

	var ev derivation.Event
	if err := json.NewDecoder(r).Decode(&ev); err != nil {
		return nil, fmt.Errorf("failed to parse event: %w", err)
	}
	return &ev, nil
}

func printDeriveResult(w io.Writer, ev *derivation.Event, result *derivation.Result) {
	headerColor.Fprintf(w, "Derivation %s\n", result.RunID)
	fmt.Fprintf(w, "  organization: %s  project: %s  platform: %s\n", ev.Organization, ev.Project, ev.Platform)

	if result.Skipped != "" {
		warnColor.Fprintf(w, "  skipped: %s\n", result.Skipped)
		return
	}

	if len(result.Mappings) == 0 {
		warnColor.Fprintln(w, "  no code mappings found")
	} else {
		tw := newTable(w)
		fmt.Fprintln(tw, "  STACK ROOT\tSOURCE ROOT\tREPOSITORY\tBRANCH")
		for _, m := range result.Mappings {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", orDash(m.StacktraceRoot), orDash(m.SourcePath), m.Repo.Name, m.Repo.Branch)
		}
		_ = tw.Flush()
	}

	successColor.Fprintf(w, "  created %d, updated %d, unchanged %d", result.Created, result.Updated, result.Unchanged)
	dimColor.Fprintf(w, " (%d passes)\n", result.Passes)
	for _, d := range result.Diagnostics {
		warnColor.Fprintf(w, "  skipped repository %s: %s\n", orDash(d.Repo), d.Reason)
	}
}
