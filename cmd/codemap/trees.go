package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"codemap/internal/trees"
)

var (
	treesOrg    string
	treesFormat string
)

var treesCmd = &cobra.Command{
	Use:   "trees",
	Short: "Inspect repository trees",
}

var treesShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List the repositories known for an organization",
	RunE:  runTreesShow,
}

var treesRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Drop the cached trees of an organization and fetch them again",
	RunE:  runTreesRefresh,
}

func init() {
	treesCmd.PersistentFlags().StringVar(&treesOrg, "org", "", "Organization")
	treesCmd.PersistentFlags().StringVar(&treesFormat, "format", "human", "Output format (json, human)")
	_ = treesCmd.MarkPersistentFlagRequired("org")

	treesCmd.AddCommand(treesShowCmd)
	treesCmd.AddCommand(treesRefreshCmd)
	rootCmd.AddCommand(treesCmd)
}

func runTreesShow(cmd *cobra.Command, args []string) error {
	return showTrees(false)
}

func runTreesRefresh(cmd *cobra.Command, args []string) error {
	return showTrees(true)
}

func showTrees(refresh bool) error {
	format, err := parseFormat(treesFormat)
	if err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if refresh {
		if err := a.treeCache.Invalidate(treesOrg); err != nil {
			return err
		}
	}
	repoTrees, err := a.trees.Trees(newContext(), treesOrg)
	if err != nil {
		return err
	}
	summary := trees.Summarize(repoTrees)

	if format == FormatJSON {
		return writeJSON(stdout(), summary)
	}
	tw := newTable(stdout())
	fmt.Fprintln(tw, "KEY\tREPOSITORY\tBRANCH\tFILES")
	for _, s := range summary {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", s.Key, orDash(s.Repo), orDash(s.Branch), s.Files)
	}
	return tw.Flush()
}
