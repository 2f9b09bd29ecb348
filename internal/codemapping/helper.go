package codemapping

import (
	"log/slog"
	"sort"
	"strings"

	cmerrors "codemap/internal/errors"
	"codemap/internal/slogutil"
)

// TreesHelper resolves frames against a fixed set of repository trees.
//
// The helper holds no per-call state: every GenerateCodeMappings call works on
// a fresh accumulator, so one helper may serve concurrent calls.
type TreesHelper struct {
	trees     map[string]RepoTree
	repoKeys  []string
	extractor *Extractor
	logger    *slog.Logger
}

// Option configures a TreesHelper.
type Option func(*TreesHelper)

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(h *TreesHelper) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithModulePlatforms replaces DefaultModulePlatforms.
func WithModulePlatforms(platforms ...string) Option {
	return func(h *TreesHelper) {
		h.extractor = NewExtractor(platforms)
	}
}

// NewTreesHelper creates a helper over trees, keyed by repository identifier.
func NewTreesHelper(trees map[string]RepoTree, opts ...Option) *TreesHelper {
	h := &TreesHelper{
		trees:     trees,
		extractor: defaultExtractor,
		logger:    slogutil.NewDiscardLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.repoKeys = make([]string, 0, len(trees))
	for k := range trees {
		h.repoKeys = append(h.repoKeys, k)
	}
	sort.Strings(h.repoKeys)
	return h
}

// Extractor returns the frame extractor in use.
func (h *TreesHelper) Extractor() *Extractor {
	return h.extractor
}

// Resolution is the detailed outcome of one resolver run.
type Resolution struct {
	// Mappings are ordered by stack root.
	Mappings []CodeMapping
	// Buckets is the number of distinct stack roots seen.
	Buckets int
	// Passes is the number of fixed-point passes performed.
	Passes int
	// Skipped counts frames rejected by the extractor, by error code.
	Skipped map[cmerrors.ErrorCode]int
	// Diagnostics lists repositories that could not be searched.
	Diagnostics []RepoDiagnostic
}

// bucket groups frames sharing a stack root, deduplicated by raw path and
// sorted so that results do not depend on input order.
type bucket struct {
	stackRoot string
	frames    []FrameInfo
}

// resolution is the working state of a single run.
type resolution struct {
	h           *TreesHelper
	mappings    map[string]CodeMapping
	diagnosed   map[RepoDiagnostic]struct{}
	diagnostics []RepoDiagnostic
}

func (h *TreesHelper) newResolution() *resolution {
	return &resolution{
		h:         h,
		mappings:  make(map[string]CodeMapping),
		diagnosed: make(map[RepoDiagnostic]struct{}),
	}
}

// GenerateCodeMappings returns the code mappings derivable from frames.
func (h *TreesHelper) GenerateCodeMappings(frames []Frame, platform string) []CodeMapping {
	return h.Resolve(frames, platform).Mappings
}

// Resolve buckets frames by stack root and searches the trees until a pass
// produces no new mapping. The number of passes never exceeds the number of
// buckets.
func (h *TreesHelper) Resolve(frames []Frame, platform string) *Resolution {
	res := &Resolution{Skipped: make(map[cmerrors.ErrorCode]int)}
	buckets := h.stacktraceBuckets(frames, platform, res.Skipped)
	res.Buckets = len(buckets)

	r := h.newResolution()
	for res.Passes < len(buckets) && len(r.mappings) < len(buckets) {
		res.Passes++
		if !r.processBuckets(buckets) {
			break
		}
	}

	res.Mappings = make([]CodeMapping, 0, len(r.mappings))
	for _, b := range buckets {
		if cm, ok := r.mappings[b.stackRoot]; ok {
			res.Mappings = append(res.Mappings, cm)
		}
	}
	res.Diagnostics = r.diagnostics

	h.logger.Debug("Code mapping resolution finished",
		"buckets", res.Buckets,
		"passes", res.Passes,
		"mappings", len(res.Mappings),
	)
	return res
}

func (h *TreesHelper) stacktraceBuckets(frames []Frame, platform string, skipped map[cmerrors.ErrorCode]int) []bucket {
	byRoot := make(map[string]map[string]FrameInfo)
	for _, frame := range frames {
		fi, err := h.extractor.FrameInfo(frame, platform)
		if err != nil {
			code, _ := cmerrors.CodeOf(err)
			skipped[code]++
			h.logger.Debug("Skipping frame",
				"filename", frame.Filename,
				"module", frame.Module,
				"code", string(code),
				"reason", err.Error(),
			)
			continue
		}
		if byRoot[fi.StackRoot] == nil {
			byRoot[fi.StackRoot] = make(map[string]FrameInfo)
		}
		byRoot[fi.StackRoot][fi.RawPath] = fi
	}

	buckets := make([]bucket, 0, len(byRoot))
	for root, unique := range byRoot {
		b := bucket{stackRoot: root, frames: make([]FrameInfo, 0, len(unique))}
		for _, fi := range unique {
			b.frames = append(b.frames, fi)
		}
		sort.Slice(b.frames, func(i, j int) bool { return b.frames[i].RawPath < b.frames[j].RawPath })
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].stackRoot < buckets[j].stackRoot })
	return buckets
}

// processBuckets runs one pass over unresolved buckets and reports whether any
// new mapping was recorded.
func (r *resolution) processBuckets(buckets []bucket) bool {
	changed := false
	for _, b := range buckets {
		if _, done := r.mappings[b.stackRoot]; done {
			continue
		}
		for _, fi := range b.frames {
			if cm, ok := r.findCodeMapping(fi); ok {
				r.mappings[b.stackRoot] = cm
				changed = true
				break
			}
		}
	}
	return changed
}

type candidate struct {
	repo RepoAndBranch
	file string
}

// findCodeMapping requires exactly one matching file across all trees.
func (r *resolution) findCodeMapping(fi FrameInfo) (CodeMapping, bool) {
	var matches []candidate
	for _, key := range r.h.repoKeys {
		tree := r.h.trees[key]
		files, err := r.matchesInTree(tree, fi)
		if err != nil {
			r.diagnose(key, err)
			continue
		}
		for _, f := range files {
			matches = append(matches, candidate{repo: tree.Repo, file: f})
		}
	}

	switch len(matches) {
	case 0:
		r.h.logger.Debug("Missing code mapping", "raw_path", fi.RawPath)
		return CodeMapping{}, false
	case 1:
	default:
		r.h.logger.Debug("More than one file matched", "raw_path", fi.RawPath, "matches", len(matches))
		return CodeMapping{}, false
	}

	m := matches[0]
	stackRoot, sourceRoot, err := FindRoots(fi, m.file)
	if err != nil {
		r.h.logger.Warn("Could not reconcile frame with source file",
			"raw_path", fi.RawPath,
			"file", m.file,
			"error", err.Error(),
		)
		return CodeMapping{}, false
	}
	if !roundTrips(fi.RawPath, stackRoot, sourceRoot, m.file) {
		r.h.logger.Warn("Unexpected format for stack root or source root",
			"raw_path", fi.RawPath,
			"file", m.file,
			"stack_root", stackRoot,
			"source_root", sourceRoot,
		)
		return CodeMapping{}, false
	}
	// An empty stack root prefixes every frame of the project.
	if stackRoot == "" && sourceRoot != "" {
		r.h.logger.Warn("Empty stack root for non-empty source root",
			"raw_path", fi.RawPath,
			"file", m.file,
			"source_root", sourceRoot,
		)
		return CodeMapping{}, false
	}

	return CodeMapping{Repo: m.repo, StacktraceRoot: stackRoot, SourcePath: sourceRoot}, true
}

func (r *resolution) matchesInTree(tree RepoTree, fi FrameInfo) ([]string, error) {
	if tree.Repo.Name == "" {
		return nil, ErrInvalidRepoTree
	}
	var files []string
	for _, f := range tree.Files {
		if r.isPotentialMatch(f, fi) {
			files = append(files, f)
		}
	}
	return files, nil
}

func (r *resolution) diagnose(repo string, err error) {
	d := RepoDiagnostic{Repo: repo, Reason: err.Error()}
	if _, seen := r.diagnosed[d]; seen {
		return
	}
	r.diagnosed[d] = struct{}{}
	r.diagnostics = append(r.diagnostics, d)
	r.h.logger.Warn("Skipping repository", "repo", d.Repo, "reason", d.Reason)
}

// isPotentialMatch compares srcFile and the frame path segment-wise from the
// end. Files under an already established source root are never candidates.
func (r *resolution) isPotentialMatch(srcFile string, fi FrameInfo) bool {
	if r.claimedByExistingMapping(srcFile) {
		return false
	}

	srcItems := strings.Split(srcFile, "/")
	frameItems := strings.Split(fi.NormalizedPath, "/")

	switch {
	case len(srcItems) > len(frameItems):
		// Monorepo: the source file sits deeper than the frame path.
		return segmentsEndWith(srcItems, frameItems)
	case len(srcItems) < len(frameItems):
		// Absolute frame path.
		return segmentsEndWith(frameItems, srcItems)
	default:
		return srcFile == fi.NormalizedPath
	}
}

func (r *resolution) claimedByExistingMapping(srcFile string) bool {
	for _, cm := range r.mappings {
		if cm.SourcePath == "" {
			continue
		}
		root := cm.SourcePath
		if !strings.HasSuffix(root, "/") {
			root += "/"
		}
		if strings.HasPrefix(srcFile, root) {
			return true
		}
	}
	return false
}

// segmentsEndWith reports whether long ends with every element of short.
func segmentsEndWith(long, short []string) bool {
	offset := len(long) - len(short)
	for i := len(short) - 1; i >= 0; i-- {
		if long[offset+i] != short[i] {
			return false
		}
	}
	return true
}

// ListFileMatches returns every repository file that could be the source of
// fi, with the roots each would produce. Unlike GenerateCodeMappings it does
// not require a unique match.
func (h *TreesHelper) ListFileMatches(fi FrameInfo) []FileMatch {
	r := h.newResolution()
	var matches []FileMatch
	for _, key := range h.repoKeys {
		tree := h.trees[key]
		files, err := r.matchesInTree(tree, fi)
		if err != nil {
			r.diagnose(key, err)
			continue
		}
		for _, f := range files {
			stackRoot, sourceRoot, err := FindRoots(fi, f)
			if err != nil {
				h.logger.Debug("No common root for preview match", "raw_path", fi.RawPath, "file", f)
				continue
			}
			matches = append(matches, FileMatch{
				Filename:       f,
				RepoName:       tree.Repo.Name,
				RepoBranch:     tree.Repo.Branch,
				StacktraceRoot: stackRoot,
				SourcePath:     sourceRoot,
			})
		}
	}
	return matches
}
