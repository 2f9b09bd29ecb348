// Package testutil loads shared test fixtures from testdata/fixtures.
package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"codemap/internal/codemapping"
)

// Scenario is one resolver fixture: the trees of an organization, the frames
// of an event, and the mappings expected from them.
type Scenario struct {
	// Name defaults to the file name without extension
	Name            string                 `yaml:"name"`
	Description     string                 `yaml:"description"`
	Platform        string                 `yaml:"platform"`
	ModulePlatforms []string               `yaml:"modulePlatforms"`
	Trees           []codemapping.RepoTree `yaml:"trees"`
	Frames          []codemapping.Frame    `yaml:"frames"`
	Want            []WantMapping          `yaml:"want"`
}

// WantMapping is an expected code mapping in fixture form.
type WantMapping struct {
	Repo       string `yaml:"repo"`
	Branch     string `yaml:"branch"`
	StackRoot  string `yaml:"stackRoot"`
	SourceRoot string `yaml:"sourceRoot"`
}

// TreeMap keys the scenario trees by repository name.
func (s *Scenario) TreeMap() map[string]codemapping.RepoTree {
	out := make(map[string]codemapping.RepoTree, len(s.Trees))
	for _, tree := range s.Trees {
		out[tree.Repo.Name] = tree
	}
	return out
}

// WantMappings converts Want to codemapping.CodeMapping values.
func (s *Scenario) WantMappings() []codemapping.CodeMapping {
	out := make([]codemapping.CodeMapping, 0, len(s.Want))
	for _, w := range s.Want {
		out = append(out, codemapping.CodeMapping{
			Repo:           codemapping.RepoAndBranch{Name: w.Repo, Branch: w.Branch},
			StacktraceRoot: w.StackRoot,
			SourcePath:     w.SourceRoot,
		})
	}
	return out
}

// LoadScenarios loads every *.yaml file under testdata/fixtures/<set>,
// ordered by file name. The test fails if the set is empty.
func LoadScenarios(t *testing.T, set string) []*Scenario {
	t.Helper()

	dir := filepath.Join(FixturesRoot(t), set)
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Failed to read fixture set %s: %v", set, err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".yaml" {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		t.Fatalf("No fixtures found in %s", dir)
	}

	scenarios := make([]*Scenario, 0, len(names))
	for _, name := range names {
		scenarios = append(scenarios, loadScenario(t, filepath.Join(dir, name)))
	}
	return scenarios
}

func loadScenario(t *testing.T, path string) *Scenario {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read fixture: %v", err)
	}

	var s Scenario
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		t.Fatalf("Failed to parse fixture %s: %v", path, err)
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &s
}

// FixturesRoot returns the absolute path to testdata/fixtures/.
func FixturesRoot(t *testing.T) string {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get caller information")
	}

	// internal/testutil -> project root
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(thisFile)))
	fixturesRoot := filepath.Join(projectRoot, "testdata", "fixtures")

	if _, err := os.Stat(fixturesRoot); os.IsNotExist(err) {
		t.Fatalf("Fixtures root not found: %s", fixturesRoot)
	}
	return fixturesRoot
}
