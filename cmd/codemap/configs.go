package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"codemap/internal/storage"
)

var (
	configsProject    string
	configsJSON       bool
	configsOrg        string
	configsStackRoot  string
	configsSourceRoot string
	configsRepo       string
	configsBranch     string
	configsExportAs   string
)

var configsCmd = &cobra.Command{
	Use:   "configs",
	Short: "Manage stored code mappings",
	Long:  "List, add, delete and export the code mappings stored for a project",
}

var configsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a project's code mappings in application order",
	RunE:  runConfigsList,
}

var configsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a user-authored code mapping",
	Long: `Add a code mapping by hand. User-authored mappings take precedence over
derived ones and are never modified by derivation.

Example:
  codemap configs add --org acme --project backend --stack-root sentry/ \
    --source-root src/sentry/ --repo getsentry/sentry --branch master`,
	RunE: runConfigsAdd,
}

var configsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a code mapping",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigsDelete,
}

var configsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a project's code mappings as json, yaml or toml",
	RunE:  runConfigsExport,
}

func init() {
	configsCmd.PersistentFlags().StringVar(&configsProject, "project", "", "Project")

	configsListCmd.Flags().BoolVar(&configsJSON, "json", false, "Output JSON")

	configsAddCmd.Flags().StringVar(&configsOrg, "org", "", "Organization")
	configsAddCmd.Flags().StringVar(&configsStackRoot, "stack-root", "", "Stack trace root")
	configsAddCmd.Flags().StringVar(&configsSourceRoot, "source-root", "", "Source root inside the repository")
	configsAddCmd.Flags().StringVar(&configsRepo, "repo", "", "Repository name")
	configsAddCmd.Flags().StringVar(&configsBranch, "branch", "", "Repository branch")
	for _, name := range []string{"org", "repo", "branch"} {
		_ = configsAddCmd.MarkFlagRequired(name)
	}

	configsExportCmd.Flags().StringVar(&configsExportAs, "format", "json", "Export format (json, yaml, toml)")

	configsCmd.AddCommand(configsListCmd)
	configsCmd.AddCommand(configsAddCmd)
	configsCmd.AddCommand(configsDeleteCmd)
	configsCmd.AddCommand(configsExportCmd)
	rootCmd.AddCommand(configsCmd)
}

// exportedConfig is the portable form of one stored mapping
type exportedConfig struct {
	ID                     int64  `json:"id" yaml:"id" toml:"id"`
	StackRoot              string `json:"stackRoot" yaml:"stackRoot" toml:"stack_root"`
	SourceRoot             string `json:"sourceRoot" yaml:"sourceRoot" toml:"source_root"`
	Repository             string `json:"repository" yaml:"repository" toml:"repository"`
	Branch                 string `json:"branch" yaml:"branch" toml:"branch"`
	AutomaticallyGenerated bool   `json:"automaticallyGenerated" yaml:"automaticallyGenerated" toml:"automatically_generated"`
}

type exportDocument struct {
	Organization string           `json:"organization,omitempty" yaml:"organization,omitempty" toml:"organization,omitempty"`
	Project      string           `json:"project" yaml:"project" toml:"project"`
	CodeMappings []exportedConfig `json:"codeMappings" yaml:"codeMappings" toml:"code_mappings"`
}

func requireProject() error {
	if configsProject == "" {
		return fmt.Errorf("--project is required")
	}
	return nil
}

func loadExport(a *app) (*exportDocument, error) {
	rows, err := a.deriver.SortedConfigs(configsProject)
	if err != nil {
		return nil, err
	}
	doc := &exportDocument{Project: configsProject, CodeMappings: make([]exportedConfig, 0, len(rows))}
	for _, row := range rows {
		if doc.Organization == "" {
			doc.Organization = row.Organization
		}
		doc.CodeMappings = append(doc.CodeMappings, exportedConfig{
			ID:                     row.ID,
			StackRoot:              row.StackRoot,
			SourceRoot:             row.SourceRoot,
			Repository:             row.Repository,
			Branch:                 row.Branch,
			AutomaticallyGenerated: row.AutomaticallyGenerated,
		})
	}
	return doc, nil
}

func runConfigsList(cmd *cobra.Command, args []string) error {
	if err := requireProject(); err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := loadExport(a)
	if err != nil {
		return err
	}
	if configsJSON {
		return writeJSON(stdout(), doc.CodeMappings)
	}

	w := stdout()
	if len(doc.CodeMappings) == 0 {
		warnColor.Fprintf(w, "No code mappings for %s\n", configsProject)
		return nil
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tSTACK ROOT\tSOURCE ROOT\tREPOSITORY\tBRANCH\tORIGIN")
	for _, c := range doc.CodeMappings {
		origin := "user"
		if c.AutomaticallyGenerated {
			origin = "derived"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", c.ID, orDash(c.StackRoot), orDash(c.SourceRoot), c.Repository, c.Branch, origin)
	}
	return tw.Flush()
}

func runConfigsAdd(cmd *cobra.Command, args []string) error {
	if err := requireProject(); err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := &storage.PathConfig{
		Organization: configsOrg,
		Project:      configsProject,
		StackRoot:    configsStackRoot,
		SourceRoot:   configsSourceRoot,
		Repository:   configsRepo,
		Branch:       configsBranch,
	}
	if err := a.configs.Create(cfg); err != nil {
		return err
	}
	a.logger.Info("Added code mapping", "id", cfg.ID, "project", cfg.Project, "stack_root", cfg.StackRoot)
	successColor.Fprintf(stdout(), "Added code mapping %d\n", cfg.ID)
	return nil
}

func runConfigsDelete(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q", args[0])
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.configs.Delete(id); err != nil {
		return err
	}
	a.logger.Info("Deleted code mapping", "id", id)
	successColor.Fprintf(stdout(), "Deleted code mapping %d\n", id)
	return nil
}

func runConfigsExport(cmd *cobra.Command, args []string) error {
	if err := requireProject(); err != nil {
		return err
	}
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := loadExport(a)
	if err != nil {
		return err
	}
	return exportConfigs(stdout(), doc, configsExportAs)
}

func exportConfigs(w io.Writer, doc *exportDocument, format string) error {
	switch format {
	case "json":
		return writeJSON(w, doc)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	case "toml":
		if err := toml.NewEncoder(w).Encode(doc); err != nil {
			return fmt.Errorf("failed to encode toml: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}
