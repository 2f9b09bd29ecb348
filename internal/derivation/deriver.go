// Package derivation runs code mapping derivation for error events: it
// applies rate limits, fetches repository trees, resolves mappings and
// stores them for the project.
package derivation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"codemap/internal/codemapping"
	"codemap/internal/config"
	cmerrors "codemap/internal/errors"
	"codemap/internal/metrics"
	"codemap/internal/slogutil"
	"codemap/internal/storage"
	"codemap/internal/trees"
)

var tracer = otel.Tracer("codemap/derivation")

// Skip reasons reported in Result.Skipped.
const (
	SkipRateLimited         = "rate_limited"
	SkipUnsupportedPlatform = "unsupported_platform"
	SkipNoFrames            = "no_frames"
)

// Event is the part of an error event derivation needs.
type Event struct {
	Organization string              `json:"organization"`
	Project      string              `json:"project"`
	Issue        string              `json:"issue,omitempty"`
	Platform     string              `json:"platform"`
	Frames       []codemapping.Frame `json:"frames"`
}

// Result summarizes one derivation run.
type Result struct {
	RunID       string                       `json:"run_id"`
	Mappings    []codemapping.CodeMapping    `json:"mappings"`
	Created     int                          `json:"created"`
	Updated     int                          `json:"updated"`
	Unchanged   int                          `json:"unchanged"`
	Skipped     string                       `json:"skipped,omitempty"`
	Passes      int                          `json:"passes"`
	Diagnostics []codemapping.RepoDiagnostic `json:"diagnostics,omitempty"`
}

// Deriver derives and stores code mappings. It is safe for concurrent use.
type Deriver struct {
	cfg     *config.Config
	trees   trees.Provider
	configs *storage.PathConfigRepository
	locks   *storage.LockRepository
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Options wires a Deriver's collaborators. Metrics and Logger are optional.
type Options struct {
	Config  *config.Config
	Trees   trees.Provider
	Configs *storage.PathConfigRepository
	Locks   *storage.LockRepository
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// New creates a Deriver.
func New(opts Options) *Deriver {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(opts.Config.Metrics.Namespace)
	}
	if opts.Logger == nil {
		opts.Logger = slogutil.NewDiscardLogger()
	}
	return &Deriver{
		cfg:     opts.Config,
		trees:   opts.Trees,
		configs: opts.Configs,
		locks:   opts.Locks,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		now:     time.Now,
	}
}

// RunOption adjusts a single Derive call.
type RunOption func(*runOptions)

type runOptions struct {
	force bool
}

// Force bypasses the project and issue rate limits.
func Force() RunOption {
	return func(o *runOptions) { o.force = true }
}

// Derive resolves code mappings from ev's frames and stores them. Runs
// skipped by policy return a Result with Skipped set and a nil error.
func (d *Deriver) Derive(ctx context.Context, ev Event, opts ...RunOption) (*Result, error) {
	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}

	result := &Result{RunID: uuid.New().String()}
	start := d.now()
	logger := d.logger.With("run_id", result.RunID, "organization", ev.Organization, "project", ev.Project)

	ctx, span := tracer.Start(ctx, "derivation.derive", trace.WithAttributes(
		attribute.String("run_id", result.RunID),
		attribute.String("organization", ev.Organization),
		attribute.String("project", ev.Project),
		attribute.String("platform", ev.Platform),
		attribute.Int("frames", len(ev.Frames)),
	))
	defer span.End()

	outcome, err := d.derive(ctx, ev, ro, result, logger)
	d.metrics.Runs.WithLabelValues(outcome).Inc()
	d.metrics.RunDuration.Observe(d.now().Sub(start).Seconds())
	span.SetAttributes(attribute.String("outcome", outcome))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("Derivation failed", "error", err.Error())
		return nil, err
	}
	logger.Info("Derivation finished",
		"outcome", outcome,
		"mappings", len(result.Mappings),
		"created", result.Created,
		"updated", result.Updated,
		"unchanged", result.Unchanged,
	)
	return result, nil
}

func (d *Deriver) derive(ctx context.Context, ev Event, ro runOptions, result *Result, logger *slog.Logger) (string, error) {
	if ev.Organization == "" || ev.Project == "" {
		return metrics.OutcomeError, cmerrors.New(cmerrors.InternalError, "event needs an organization and a project")
	}
	if !d.cfg.IsSupportedPlatform(ev.Platform) {
		logger.Debug("Platform not supported", "platform", ev.Platform)
		result.Skipped = SkipUnsupportedPlatform
		return metrics.OutcomeSkipped, nil
	}

	frames := d.candidateFrames(ev.Frames)
	if len(frames) == 0 {
		result.Skipped = SkipNoFrames
		return metrics.OutcomeSkipped, nil
	}

	// Rate limit keys are never released, so expired ones pile up.
	if removed, err := d.locks.CleanupExpired(); err != nil {
		logger.Warn("Failed to clean up expired locks", "error", err.Error())
	} else if removed > 0 {
		logger.Debug("Removed expired locks", "count", removed)
	}

	if !ro.force {
		limited, err := d.rateLimited(ev, result.RunID)
		if err != nil {
			return metrics.OutcomeError, err
		}
		if limited {
			logger.Info("Derivation rate limited", "issue", ev.Issue)
			result.Skipped = SkipRateLimited
			return metrics.OutcomeRateLimited, nil
		}
	}

	repoTrees, err := d.trees.Trees(ctx, ev.Organization)
	if err != nil {
		return metrics.OutcomeError, fmt.Errorf("failed to fetch trees: %w", err)
	}

	helper := d.newHelper(repoTrees)
	res := helper.Resolve(frames, ev.Platform)
	for code, n := range res.Skipped {
		d.metrics.FramesSkipped.WithLabelValues(string(code)).Add(float64(n))
	}
	d.metrics.ResolverPasses.Observe(float64(res.Passes))
	result.Passes = res.Passes
	result.Diagnostics = res.Diagnostics
	result.Mappings = res.Mappings

	for _, cm := range res.Mappings {
		up, err := d.configs.UpsertPathConfig(ev.Organization, ev.Project, cm)
		if err != nil {
			return metrics.OutcomeError, cmerrors.Wrap(cmerrors.StorageError, "failed to store code mapping", err)
		}
		switch {
		case up.Created:
			result.Created++
			d.metrics.CodeMappings.WithLabelValues(metrics.ResultCreated).Inc()
		case up.Updated:
			result.Updated++
			d.metrics.CodeMappings.WithLabelValues(metrics.ResultUpdated).Inc()
		default:
			result.Unchanged++
			d.metrics.CodeMappings.WithLabelValues(metrics.ResultUnchanged).Inc()
		}
		logger.Debug("Stored code mapping",
			"stack_root", cm.StacktraceRoot,
			"source_root", cm.SourcePath,
			"repo", cm.Repo.Name,
			"created", up.Created,
			"updated", up.Updated,
		)
	}

	if len(res.Mappings) == 0 {
		return metrics.OutcomeNoMappings, nil
	}
	return metrics.OutcomeMapped, nil
}

// candidateFrames drops frames explicitly marked as not in-app when
// configured to. Frames without an in_app flag are kept.
func (d *Deriver) candidateFrames(frames []codemapping.Frame) []codemapping.Frame {
	if !d.cfg.Derivation.OnlyInAppFrames {
		return frames
	}
	out := make([]codemapping.Frame, 0, len(frames))
	for _, f := range frames {
		if f.InApp != nil && !*f.InApp {
			continue
		}
		out = append(out, f)
	}
	return out
}

// rateLimited takes the project and issue windows together. Either window
// being held skips the run without claiming the other; a zero window
// disables that limit.
func (d *Deriver) rateLimited(ev Event, runID string) (bool, error) {
	var leases []storage.Lease
	if s := d.cfg.Derivation.ProjectWindowSeconds; s > 0 {
		leases = append(leases, storage.Lease{Key: ProjectLimitKey(ev.Project), TTL: time.Duration(s) * time.Second})
	}
	if s := d.cfg.Derivation.IssueWindowSeconds; ev.Issue != "" && s > 0 {
		leases = append(leases, storage.Lease{Key: IssueLimitKey(ev.Project, ev.Issue), TTL: time.Duration(s) * time.Second})
	}
	if len(leases) == 0 {
		return false, nil
	}

	ok, err := d.locks.TryAcquireAll(runID, leases)
	if err != nil {
		return false, cmerrors.Wrap(cmerrors.StorageError, "failed to check rate limit", err)
	}
	return !ok, nil
}

// ProjectLimitKey is the derivation_locks key of a project's rate limit.
func ProjectLimitKey(project string) string {
	return "project:" + project
}

// IssueLimitKey is the derivation_locks key of an issue's rate limit.
func IssueLimitKey(project, issue string) string {
	return "issue:" + project + ":" + issue
}

func (d *Deriver) newHelper(repoTrees map[string]codemapping.RepoTree) *codemapping.TreesHelper {
	return codemapping.NewTreesHelper(repoTrees,
		codemapping.WithLogger(d.logger),
		codemapping.WithModulePlatforms(d.cfg.Derivation.ModulePlatforms...),
	)
}

// Preview lists every repository file that could be the source of frame,
// without requiring a unique match or storing anything.
func (d *Deriver) Preview(ctx context.Context, org string, frame codemapping.Frame, platform string) ([]codemapping.FileMatch, error) {
	ctx, span := tracer.Start(ctx, "derivation.preview", trace.WithAttributes(attribute.String("organization", org)))
	defer span.End()

	helper := d.newHelper(nil)
	fi, err := helper.Extractor().FrameInfo(frame, platform)
	if err != nil {
		return nil, err
	}

	repoTrees, err := d.trees.Trees(ctx, org)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch trees: %w", err)
	}
	matches := d.newHelper(repoTrees).ListFileMatches(fi)
	span.SetAttributes(attribute.Int("matches", len(matches)))
	return matches, nil
}

// SortedConfigs returns a project's stored mappings in the order they are
// applied.
func (d *Deriver) SortedConfigs(project string) ([]*storage.PathConfig, error) {
	rows, err := d.configs.ListForProject(project)
	if err != nil {
		return nil, cmerrors.Wrap(cmerrors.StorageError, "failed to list code mappings", err)
	}
	return codemapping.SortConfigs(rows, d.logger), nil
}

// Apply resolves frame to a source file using the project's stored mappings.
func (d *Deriver) Apply(project string, frame codemapping.Frame, platform string) (codemapping.SourceLocation, bool, error) {
	rows, err := d.SortedConfigs(project)
	if err != nil {
		return codemapping.SourceLocation{}, false, err
	}
	configs := make([]codemapping.MappingConfig, len(rows))
	for i, row := range rows {
		configs[i] = row.MappingConfig()
	}
	loc, ok := d.newHelper(nil).Extractor().Apply(configs, frame, platform)
	return loc, ok, nil
}
