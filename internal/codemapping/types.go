// Package codemapping infers stack-trace-root to source-root correspondences
// ("code mappings") from error event frames and repository file trees.
//
// Everything in this package is synchronous and side-effect free apart from
// logging. Trees are supplied already fetched; see internal/trees for providers
// and internal/derivation for the job that persists the results.
package codemapping

// Frame is one raw stack frame as reported by an error event.
// Empty strings stand for absent values.
type Frame struct {
	Filename string `json:"filename,omitempty" yaml:"filename,omitempty"`
	Module   string `json:"module,omitempty" yaml:"module,omitempty"`
	AbsPath  string `json:"abs_path,omitempty" yaml:"abs_path,omitempty"`
	InApp    *bool  `json:"in_app,omitempty" yaml:"in_app,omitempty"`
}

// RepoAndBranch identifies one source repository tree.
type RepoAndBranch struct {
	Name   string `json:"name" yaml:"name" msgpack:"name"`
	Branch string `json:"branch" yaml:"branch" msgpack:"branch"`
}

// RepoTree is the flat list of file paths known for a repository and branch.
type RepoTree struct {
	Repo  RepoAndBranch `json:"repo" yaml:"repo" msgpack:"repo"`
	Files []string      `json:"files" yaml:"files" msgpack:"files"`
}

// CodeMapping maps a stack trace root to a source root within one repository.
// Replacing StacktraceRoot with SourcePath once in a matching frame's raw path
// yields a file path inside Repo.
type CodeMapping struct {
	Repo           RepoAndBranch `json:"repo"`
	StacktraceRoot string        `json:"stacktrace_root"`
	SourcePath     string        `json:"source_path"`
}

// FileMatch is one candidate returned by ListFileMatches.
type FileMatch struct {
	Filename       string `json:"filename"`
	RepoName       string `json:"repo_name"`
	RepoBranch     string `json:"repo_branch"`
	StacktraceRoot string `json:"stacktrace_root"`
	SourcePath     string `json:"source_path"`
}

// RepoDiagnostic records why a repository was skipped during a search.
type RepoDiagnostic struct {
	Repo   string `json:"repo"`
	Reason string `json:"reason"`
}
