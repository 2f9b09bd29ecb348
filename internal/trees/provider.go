// Package trees supplies the repository file trees that code mappings are
// derived against.
package trees

import (
	"context"
	"sort"

	"codemap/internal/codemapping"
)

// Provider returns the repository trees of an organization, keyed by
// repository identifier.
type Provider interface {
	Trees(ctx context.Context, org string) (map[string]codemapping.RepoTree, error)
}

// StaticProvider serves fixed trees for every organization.
type StaticProvider map[string]codemapping.RepoTree

// Trees implements Provider.
func (s StaticProvider) Trees(_ context.Context, _ string) (map[string]codemapping.RepoTree, error) {
	return s, nil
}

// Summary is one repository line of a tree listing.
type Summary struct {
	Key    string `json:"key"`
	Repo   string `json:"repo"`
	Branch string `json:"branch"`
	Files  int    `json:"files"`
}

// Summarize lists trees sorted by key.
func Summarize(trees map[string]codemapping.RepoTree) []Summary {
	out := make([]Summary, 0, len(trees))
	for key, tree := range trees {
		out = append(out, Summary{
			Key:    key,
			Repo:   tree.Repo.Name,
			Branch: tree.Repo.Branch,
			Files:  len(tree.Files),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
