package codemapping

import (
	"strings"

	cmerrors "codemap/internal/errors"
)

// Classified extraction and reconciliation failures. Compare with errors.Is.
var (
	ErrUnsupportedFrameInfo    = cmerrors.New(cmerrors.UnsupportedFrameInfo, "frame path is not supported")
	ErrNeedsExtension          = cmerrors.New(cmerrors.NeedsExtension, "frame path needs an extension")
	ErrMissingModuleOrAbsPath  = cmerrors.New(cmerrors.MissingModuleOrAbsPath, "frame is missing module or abs_path")
	ErrFailedToExtractFilename = cmerrors.New(cmerrors.FailedToExtractFilename, "could not derive a filename from module")
	ErrUnexpectedPath          = cmerrors.New(cmerrors.UnexpectedPath, "could not find common root from paths")
	ErrModuleWithoutPackage    = cmerrors.New(cmerrors.ModuleWithoutPackage, "module has no package name")
	ErrInvalidRepoTree         = cmerrors.New(cmerrors.InvalidRepoTree, "repository tree cannot be searched")
)

// DefaultModulePlatforms report dotted class names instead of file paths.
var DefaultModulePlatforms = []string{"java", "kotlin", "scala", "groovy"}

// straightPathPrefixes is ordered; each prefix is consumed fully before the next.
var straightPathPrefixes = []string{"app:///", "../", "./"}

// FrameInfo is the canonical form of one frame's path.
type FrameInfo struct {
	// RawPath is the frame path as reported, used for substitution.
	RawPath string
	// NormalizedPath has separators, drive letters and relative prefixes removed.
	NormalizedPath string
	// StackRoot is the bucket key: the first segment, or the prefix up to it.
	StackRoot string
}

// Equal reports whether two frames share a raw path.
func (f FrameInfo) Equal(other FrameInfo) bool {
	return f.RawPath == other.RawPath
}

// Extractor builds FrameInfo values from raw frames.
type Extractor struct {
	modulePlatforms map[string]struct{}
}

// NewExtractor creates an extractor. Frames whose event platform is listed in
// modulePlatforms are resolved from module and abs_path instead of filename.
func NewExtractor(modulePlatforms []string) *Extractor {
	set := make(map[string]struct{}, len(modulePlatforms))
	for _, p := range modulePlatforms {
		set[strings.ToLower(p)] = struct{}{}
	}
	return &Extractor{modulePlatforms: set}
}

var defaultExtractor = NewExtractor(DefaultModulePlatforms)

// NewFrameInfo extracts a FrameInfo using DefaultModulePlatforms.
func NewFrameInfo(frame Frame, platform string) (FrameInfo, error) {
	return defaultExtractor.FrameInfo(frame, platform)
}

// IsModulePlatform reports whether platform uses module-derived paths.
func (x *Extractor) IsModulePlatform(platform string) bool {
	if platform == "" {
		return false
	}
	_, ok := x.modulePlatforms[strings.ToLower(platform)]
	return ok
}

// FrameInfo extracts the canonical path triple for frame.
func (x *Extractor) FrameInfo(frame Frame, platform string) (FrameInfo, error) {
	if x.IsModulePlatform(platform) {
		return frameInfoFromModule(frame)
	}
	return frameInfoFromFilename(frame.Filename)
}

func frameInfoFromModule(frame Frame) (FrameInfo, error) {
	if frame.Module == "" || frame.AbsPath == "" {
		return FrameInfo{}, ErrMissingModuleOrAbsPath
	}
	stackRoot, filePath, err := GetPathFromModule(frame.Module, frame.AbsPath)
	if err != nil {
		return FrameInfo{}, cmerrors.Wrap(cmerrors.FailedToExtractFilename, "module "+frame.Module, err)
	}
	if filePath == "" {
		return FrameInfo{}, ErrFailedToExtractFilename
	}
	return FrameInfo{
		RawPath:        filePath,
		NormalizedPath: filePath,
		StackRoot:      stackRoot,
	}, nil
}

func frameInfoFromFilename(filename string) (FrameInfo, error) {
	p := transformPath(filename)

	if p == "" || p[0] == '[' || p[0] == '<' || strings.Contains(p, " ") || !strings.Contains(p, "/") {
		return FrameInfo{}, ErrUnsupportedFrameInfo
	}
	if FileExtension(p) == "" {
		return FrameInfo{}, ErrNeedsExtension
	}

	start := straightPathPrefixEnd(p)
	normalized := p[start:]
	if normalized == "" {
		return FrameInfo{}, ErrUnsupportedFrameInfo
	}

	var stackRoot string
	if start == 0 {
		stackRoot = p[:strings.Index(p, "/")]
	} else if i := strings.Index(p[start:], "/"); i >= 0 {
		stackRoot = p[:start+i]
	} else {
		// Only the prefix precedes the file name, e.g. "./main.py".
		stackRoot = strings.TrimSuffix(p[:start], "/")
	}

	return FrameInfo{
		RawPath:        filename,
		NormalizedPath: normalized,
		StackRoot:      stackRoot,
	}, nil
}

// transformPath converts Windows separators, then drops one leading slash and
// any drive letter.
func transformPath(p string) string {
	windows := strings.Contains(p, `\`)
	if windows {
		p = strings.ReplaceAll(p, `\`, "/")
	}
	p = strings.TrimPrefix(p, "/")
	if windows && len(p) >= 2 && p[1] == ':' {
		p = strings.TrimPrefix(p[2:], "/")
	}
	return p
}

// straightPathPrefixEnd returns the length of the leading run of
// "app:///", "../" and "./" prefixes, consumed in that order.
func straightPathPrefixEnd(p string) int {
	index := 0
	for _, prefix := range straightPathPrefixes {
		for strings.HasPrefix(p, prefix) {
			index += len(prefix)
			p = p[len(prefix):]
		}
	}
	return index
}

// FileExtension returns the extension of the last path segment without the
// dot, or "" for dotfiles and names without one.
func FileExtension(p string) string {
	base := p
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		base = p[i+1:]
	}
	dot := strings.LastIndex(base, ".")
	if dot < 1 || dot == len(base)-1 {
		return ""
	}
	return base[dot+1:]
}
