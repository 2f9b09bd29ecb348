package trees

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"codemap/internal/codemapping"
	cmerrors "codemap/internal/errors"
	"codemap/internal/paths"
	"codemap/internal/slogutil"
)

// manifestExtensions are tried in order for <dir>/<org>.<ext>.
var manifestExtensions = []string{".yaml", ".yml", ".json", ".toml"}

// Manifest lists the repositories of one organization.
type Manifest struct {
	Repositories []RepoEntry `json:"repositories" yaml:"repositories" toml:"repositories"`
}

// RepoEntry describes where one repository's file list comes from.
// Exactly one of Files, Checkout and SCIPIndex should be set.
type RepoEntry struct {
	Name      string   `json:"name" yaml:"name" toml:"name"`
	Branch    string   `json:"branch" yaml:"branch" toml:"branch"`
	Files     []string `json:"files,omitempty" yaml:"files,omitempty" toml:"files,omitempty"`
	Checkout  string   `json:"checkout,omitempty" yaml:"checkout,omitempty" toml:"checkout,omitempty"`
	SCIPIndex string   `json:"scipIndex,omitempty" yaml:"scipIndex,omitempty" toml:"scipIndex,omitempty"`
}

// source names the configured file source for logging.
func (e RepoEntry) source() string {
	switch {
	case e.Checkout != "":
		return "checkout"
	case e.SCIPIndex != "":
		return "scip"
	default:
		return "inline"
	}
}

// ManifestProvider reads per-organization manifests from a directory.
type ManifestProvider struct {
	dir           string
	gitTimeout    time.Duration
	maxConcurrent int
	logger        *slog.Logger
}

// ManifestOptions configures a ManifestProvider.
type ManifestOptions struct {
	GitTimeout    time.Duration
	MaxConcurrent int
	Logger        *slog.Logger
}

// NewManifestProvider creates a provider reading <dir>/<org>.{yaml,yml,json,toml}.
func NewManifestProvider(dir string, opts ManifestOptions) *ManifestProvider {
	if opts.GitTimeout <= 0 {
		opts.GitTimeout = DefaultGitTimeout
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.Logger == nil {
		opts.Logger = slogutil.NewDiscardLogger()
	}
	return &ManifestProvider{
		dir:           dir,
		gitTimeout:    opts.GitTimeout,
		maxConcurrent: opts.MaxConcurrent,
		logger:        opts.Logger,
	}
}

// Trees implements Provider. Repositories load concurrently; a repository
// that fails to load is logged and left out.
func (p *ManifestProvider) Trees(ctx context.Context, org string) (map[string]codemapping.RepoTree, error) {
	ctx, span := tracer.Start(ctx, "trees.manifest", trace.WithAttributes(attribute.String("organization", org)))
	defer span.End()

	manifest, path, err := p.LoadManifest(org)
	if err != nil {
		return nil, err
	}
	baseDir := filepath.Dir(path)

	results := make([]*codemapping.RepoTree, len(manifest.Repositories))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxConcurrent)

	for i, entry := range manifest.Repositories {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			files, err := p.loadFiles(gctx, baseDir, entry)
			if err != nil {
				p.logger.Warn("Skipping repository",
					"organization", org,
					"repo", entry.Name,
					"source", entry.source(),
					"error", err.Error(),
				)
				return nil
			}
			results[i] = &codemapping.RepoTree{
				Repo:  codemapping.RepoAndBranch{Name: entry.Name, Branch: entry.Branch},
				Files: files,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	trees := make(map[string]codemapping.RepoTree, len(results))
	for i, tree := range results {
		if tree == nil {
			continue
		}
		// Unnamed entries are kept so the resolver reports them.
		key := tree.Repo.Name
		if key == "" {
			key = fmt.Sprintf("%s#%d", org, i)
		}
		if _, dup := trees[key]; dup {
			p.logger.Warn("Duplicate repository in manifest", "organization", org, "repo", key)
		}
		trees[key] = *tree
	}

	span.SetAttributes(attribute.Int("repos", len(trees)))
	p.logger.Debug("Loaded repository trees", "organization", org, "repos", len(trees), "manifest", path)
	return trees, nil
}

// LoadManifest finds and decodes the manifest for org.
func (p *ManifestProvider) LoadManifest(org string) (*Manifest, string, error) {
	if org == "" || strings.ContainsAny(org, `/\`) || org == "." || org == ".." {
		return nil, "", cmerrors.New(cmerrors.TreesUnavailable, fmt.Sprintf("invalid organization %q", org))
	}
	for _, ext := range manifestExtensions {
		path := filepath.Join(p.dir, org+ext)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, "", cmerrors.Wrap(cmerrors.TreesUnavailable, "failed to read manifest "+path, err)
		}
		m, err := DecodeManifest(data, ext)
		if err != nil {
			return nil, "", cmerrors.Wrap(cmerrors.TreesUnavailable, "failed to parse manifest "+path, err)
		}
		return m, path, nil
	}
	return nil, "", cmerrors.New(cmerrors.TreesUnavailable, fmt.Sprintf("no manifest for organization %q in %s", org, p.dir))
}

// DecodeManifest parses a manifest in the format named by ext.
func DecodeManifest(data []byte, ext string) (*Manifest, error) {
	var m Manifest
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&m); err != nil {
			return nil, err
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&m); err != nil {
			return nil, err
		}
	case ".toml":
		md, err := toml.Decode(string(data), &m)
		if err != nil {
			return nil, err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown manifest keys: %v", undecoded)
		}
	default:
		return nil, fmt.Errorf("unsupported manifest format %q", ext)
	}
	return &m, nil
}

func (p *ManifestProvider) loadFiles(ctx context.Context, baseDir string, entry RepoEntry) ([]string, error) {
	var files []string
	switch {
	case entry.Checkout != "":
		listed, err := ListGitFiles(ctx, resolve(baseDir, entry.Checkout), p.gitTimeout)
		if err != nil {
			return nil, err
		}
		files = listed
	case entry.SCIPIndex != "":
		listed, err := LoadSCIPFiles(resolve(baseDir, entry.SCIPIndex))
		if err != nil {
			return nil, err
		}
		files = listed
	default:
		files = entry.Files
	}

	out := make([]string, 0, len(files))
	for _, f := range files {
		f = strings.TrimPrefix(paths.NormalizePath(strings.TrimSpace(f)), "./")
		if f != "" {
			out = append(out, f)
		}
	}
	return out, nil
}

func resolve(baseDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}
