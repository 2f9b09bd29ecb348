package codemapping

import (
	"bytes"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/davecgh/go-spew/spew"

	cmerrors "codemap/internal/errors"
	"codemap/internal/slogutil"
)

var sentryRepo = RepoAndBranch{Name: "getsentry/sentry", Branch: "master"}

func filenames(paths ...string) []Frame {
	frames := make([]Frame, len(paths))
	for i, p := range paths {
		frames[i] = Frame{Filename: p}
	}
	return frames
}

func TestGenerateCodeMappings_Basic(t *testing.T) {
	h := NewTreesHelper(map[string]RepoTree{
		"getsentry/sentry": {
			Repo:  sentryRepo,
			Files: []string{"src/sentry/tasks.py", "src/sentry/api/base.py", "README.md"},
		},
	})

	got := h.GenerateCodeMappings(filenames("sentry/tasks.py", "sentry/api/base.py"), "python")
	want := []CodeMapping{{Repo: sentryRepo, StacktraceRoot: "sentry/", SourcePath: "src/sentry/"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("mappings mismatch:\ngot:  %s\nwant: %s", spew.Sdump(got), spew.Sdump(want))
	}
}

func TestGenerateCodeMappings_NoMatch(t *testing.T) {
	h := NewTreesHelper(map[string]RepoTree{
		"getsentry/sentry": {Repo: sentryRepo, Files: []string{"src/sentry/tasks.py"}},
	})

	got := h.GenerateCodeMappings(filenames("other/module.py"), "python")
	if len(got) != 0 {
		t.Errorf("expected no mappings, got %s", spew.Sdump(got))
	}
}

func TestGenerateCodeMappings_RejectsEmptyStackRoot(t *testing.T) {
	h := NewTreesHelper(map[string]RepoTree{
		"getsentry/web": {
			Repo:  RepoAndBranch{Name: "getsentry/web", Branch: "main"},
			Files: []string{"web/app/utils.js"},
		},
	})

	// Relative Windows path: the roots reconcile to ("", "web/").
	if got := h.GenerateCodeMappings(filenames(`app\utils.js`), "javascript"); len(got) != 0 {
		t.Errorf("expected no mappings, got %s", spew.Sdump(got))
	}
}

func TestGenerateCodeMappings_AmbiguousInOneRepo(t *testing.T) {
	h := NewTreesHelper(map[string]RepoTree{
		"getsentry/sentry": {Repo: sentryRepo, Files: []string{"a/foo/bar.py", "b/foo/bar.py"}},
	})

	if got := h.GenerateCodeMappings(filenames("foo/bar.py"), "python"); len(got) != 0 {
		t.Errorf("ambiguous match must not produce a mapping, got %s", spew.Sdump(got))
	}
}

func TestGenerateCodeMappings_AmbiguousAcrossRepos(t *testing.T) {
	h := NewTreesHelper(map[string]RepoTree{
		"org/one": {Repo: RepoAndBranch{Name: "org/one", Branch: "main"}, Files: []string{"a/foo/bar.py"}},
		"org/two": {Repo: RepoAndBranch{Name: "org/two", Branch: "main"}, Files: []string{"b/foo/bar.py"}},
	})

	if got := h.GenerateCodeMappings(filenames("foo/bar.py"), "python"); len(got) != 0 {
		t.Errorf("a match in two repositories must not produce a mapping, got %s", spew.Sdump(got))
	}
}

// monorepoTrees is resolvable only in two passes: "lib/x.py" is ambiguous
// until the "ui" bucket claims everything under frontend/ui/.
func monorepoTrees() map[string]RepoTree {
	return map[string]RepoTree{
		"getsentry/sentry": {
			Repo: sentryRepo,
			Files: []string{
				"frontend/ui/main.py",
				"frontend/ui/lib/x.py",
				"backend/lib/x.py",
			},
		},
	}
}

func TestResolve_FixedPoint(t *testing.T) {
	h := NewTreesHelper(monorepoTrees())

	res := h.Resolve(filenames("lib/x.py", "ui/main.py"), "python")

	want := []CodeMapping{
		{Repo: sentryRepo, StacktraceRoot: "lib/", SourcePath: "backend/lib/"},
		{Repo: sentryRepo, StacktraceRoot: "ui/", SourcePath: "frontend/ui/"},
	}
	if !reflect.DeepEqual(res.Mappings, want) {
		t.Errorf("mappings mismatch:\ngot:  %s\nwant: %s", spew.Sdump(res.Mappings), spew.Sdump(want))
	}
	if res.Buckets != 2 {
		t.Errorf("Buckets = %d, want 2", res.Buckets)
	}
	if res.Passes != 2 {
		t.Errorf("Passes = %d, want 2", res.Passes)
	}
}

func TestResolve_PassesBoundedByBuckets(t *testing.T) {
	h := NewTreesHelper(monorepoTrees())

	inputs := [][]Frame{
		nil,
		filenames("nothing/here.py"),
		filenames("lib/x.py"),
		filenames("lib/x.py", "ui/main.py", "nothing/here.py"),
	}
	for _, frames := range inputs {
		res := h.Resolve(frames, "python")
		if res.Passes > res.Buckets {
			t.Errorf("Passes = %d exceeds Buckets = %d for %v", res.Passes, res.Buckets, frames)
		}
	}
}

func TestGenerateCodeMappings_PermutationInvariant(t *testing.T) {
	h := NewTreesHelper(monorepoTrees())
	frames := filenames("ui/main.py", "lib/x.py", "ui/main.py", "nothing/here.py")

	base := h.GenerateCodeMappings(frames, "python")
	reversed := make([]Frame, len(frames))
	for i, f := range frames {
		reversed[len(frames)-1-i] = f
	}
	if got := h.GenerateCodeMappings(reversed, "python"); !reflect.DeepEqual(got, base) {
		t.Errorf("order changed the result:\nforward: %s\nreverse: %s", spew.Sdump(base), spew.Sdump(got))
	}
}

func TestGenerateCodeMappings_Idempotent(t *testing.T) {
	h := NewTreesHelper(monorepoTrees())
	frames := filenames("lib/x.py", "ui/main.py")

	first := h.GenerateCodeMappings(frames, "python")
	second := h.GenerateCodeMappings(frames, "python")
	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated calls differ:\nfirst:  %s\nsecond: %s", spew.Sdump(first), spew.Sdump(second))
	}
}

func TestGenerateCodeMappings_ConcurrentCalls(t *testing.T) {
	h := NewTreesHelper(monorepoTrees())
	frames := filenames("lib/x.py", "ui/main.py")
	want := h.GenerateCodeMappings(frames, "python")

	var wg sync.WaitGroup
	errs := make(chan string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := h.GenerateCodeMappings(frames, "python"); !reflect.DeepEqual(got, want) {
				errs <- spew.Sdump(got)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Errorf("concurrent call diverged: %s", e)
	}
}

func TestGenerateCodeMappings_ModulePlatform(t *testing.T) {
	repo := RepoAndBranch{Name: "example/android", Branch: "main"}
	h := NewTreesHelper(map[string]RepoTree{
		"example/android": {Repo: repo, Files: []string{
			"app/src/main/java/com/example/app/MainActivity.kt",
			"app/build.gradle",
		}},
	})

	frames := []Frame{{Module: "com.example.app.MainActivity$Inner", AbsPath: "MainActivity.kt"}}
	got := h.GenerateCodeMappings(frames, "kotlin")
	want := []CodeMapping{{
		Repo:           repo,
		StacktraceRoot: "com/example/app/",
		SourcePath:     "app/src/main/java/com/example/app/",
	}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("mappings mismatch:\ngot:  %s\nwant: %s", spew.Sdump(got), spew.Sdump(want))
	}
}

func TestGenerateCodeMappings_CustomModulePlatforms(t *testing.T) {
	h := NewTreesHelper(map[string]RepoTree{
		"getsentry/sentry": {Repo: sentryRepo, Files: []string{"src/sentry/tasks.py"}},
	}, WithModulePlatforms("python"))

	// Without a module the frame is skipped even though its filename matches.
	res := h.Resolve(filenames("sentry/tasks.py"), "python")
	if len(res.Mappings) != 0 {
		t.Errorf("expected no mappings, got %s", spew.Sdump(res.Mappings))
	}
	if res.Skipped[cmerrors.MissingModuleOrAbsPath] != 1 {
		t.Errorf("Skipped = %v, want one MISSING_MODULE_OR_ABS_PATH", res.Skipped)
	}
}

func TestResolve_SkippedFrames(t *testing.T) {
	h := NewTreesHelper(map[string]RepoTree{
		"getsentry/sentry": {Repo: sentryRepo, Files: []string{"src/sentry/tasks.py"}},
	})

	res := h.Resolve(filenames("[native code]", "<anonymous>", "src/Makefile", "sentry/tasks.py"), "python")

	if res.Skipped[cmerrors.UnsupportedFrameInfo] != 2 {
		t.Errorf("UNSUPPORTED_FRAME_INFO = %d, want 2", res.Skipped[cmerrors.UnsupportedFrameInfo])
	}
	if res.Skipped[cmerrors.NeedsExtension] != 1 {
		t.Errorf("NEEDS_EXTENSION = %d, want 1", res.Skipped[cmerrors.NeedsExtension])
	}
	if len(res.Mappings) != 1 {
		t.Errorf("expected the valid frame to resolve, got %s", spew.Sdump(res.Mappings))
	}
}

func TestResolve_InvalidTreeDiagnostic(t *testing.T) {
	var buf bytes.Buffer
	h := NewTreesHelper(map[string]RepoTree{
		"broken":           {Files: []string{"src/sentry/tasks.py"}},
		"getsentry/sentry": {Repo: sentryRepo, Files: []string{"src/sentry/tasks.py"}},
	}, WithLogger(slogutil.NewLogger(&buf, slog.LevelWarn)))

	res := h.Resolve(filenames("sentry/tasks.py", "sentry/models.py"), "python")

	wantDiag := []RepoDiagnostic{{Repo: "broken", Reason: ErrInvalidRepoTree.Error()}}
	if !reflect.DeepEqual(res.Diagnostics, wantDiag) {
		t.Errorf("diagnostics mismatch:\ngot:  %s\nwant: %s", spew.Sdump(res.Diagnostics), spew.Sdump(wantDiag))
	}
	if strings.Count(buf.String(), "Skipping repository") != 1 {
		t.Errorf("expected a single warning, got: %s", buf.String())
	}

	want := []CodeMapping{{Repo: sentryRepo, StacktraceRoot: "sentry/", SourcePath: "src/sentry/"}}
	if !reflect.DeepEqual(res.Mappings, want) {
		t.Errorf("valid repository should still resolve, got %s", spew.Sdump(res.Mappings))
	}
}

func TestIsPotentialMatch(t *testing.T) {
	h := NewTreesHelper(nil)

	tests := []struct {
		srcFile  string
		frame    string
		expected bool
	}{
		{"src/sentry/tasks.py", "sentry/tasks.py", true},
		{"sentry/tasks.py", "sentry/tasks.py", true},
		{"src/sentry/tasks.py", "sentry/models.py", false},
		{"app/foo.py", "/Users/dev/app/foo.py", true},
		{"lib/foo.py", "/Users/dev/app/foo.py", false},
		{"lib/foo.py", "app/foo.py", false},
		{"a/b/c.py", "x/c.py", false},
	}

	for _, tt := range tests {
		r := h.newResolution()
		if got := r.isPotentialMatch(tt.srcFile, mustFrameInfo(t, tt.frame)); got != tt.expected {
			t.Errorf("isPotentialMatch(%q, %q) = %v, want %v", tt.srcFile, tt.frame, got, tt.expected)
		}
	}
}

func TestIsPotentialMatch_ExcludesClaimedFiles(t *testing.T) {
	h := NewTreesHelper(nil)
	r := h.newResolution()
	r.mappings["ui"] = CodeMapping{Repo: sentryRepo, StacktraceRoot: "ui/", SourcePath: "frontend/ui"}
	r.mappings["abs"] = CodeMapping{Repo: sentryRepo, StacktraceRoot: "/srv/", SourcePath: ""}

	fi := mustFrameInfo(t, "lib/x.py")
	if r.isPotentialMatch("frontend/ui/lib/x.py", fi) {
		t.Error("file under an established source root should be excluded")
	}
	if !r.isPotentialMatch("frontend/uix/lib/x.py", fi) {
		t.Error("the exclusion should respect segment boundaries")
	}
	if !r.isPotentialMatch("backend/lib/x.py", fi) {
		t.Error("an empty source root must not exclude anything")
	}
}

func TestListFileMatches(t *testing.T) {
	h := NewTreesHelper(map[string]RepoTree{
		"org/one": {Repo: RepoAndBranch{Name: "org/one", Branch: "main"}, Files: []string{"a/foo/bar.py", "README.md"}},
		"org/two": {Repo: RepoAndBranch{Name: "org/two", Branch: "dev"}, Files: []string{"b/foo/bar.py"}},
		"broken":  {Files: []string{"c/foo/bar.py"}},
	})

	got := h.ListFileMatches(mustFrameInfo(t, "foo/bar.py"))
	want := []FileMatch{
		{Filename: "a/foo/bar.py", RepoName: "org/one", RepoBranch: "main", StacktraceRoot: "foo/", SourcePath: "a/foo/"},
		{Filename: "b/foo/bar.py", RepoName: "org/two", RepoBranch: "dev", StacktraceRoot: "foo/", SourcePath: "b/foo/"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("matches mismatch:\ngot:  %s\nwant: %s", spew.Sdump(got), spew.Sdump(want))
	}
}

func TestSegmentsEndWith(t *testing.T) {
	long := strings.Split("src/sentry/tasks.py", "/")
	if !segmentsEndWith(long, strings.Split("sentry/tasks.py", "/")) {
		t.Error("expected suffix match")
	}
	if segmentsEndWith(long, strings.Split("other/tasks.py", "/")) {
		t.Error("unexpected suffix match")
	}
}
