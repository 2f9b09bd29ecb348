package codemapping

import (
	"strings"
)

// FindRoots computes the stack root and source root that turn frame's raw path
// into sourcePath: replacing stackRoot with sourceRoot once in frame.RawPath and
// converting backslashes to slashes yields sourcePath.
//
// The longest common suffix of the two paths wins. ErrUnexpectedPath is returned
// when the paths share no trailing segment.
func FindRoots(frame FrameInfo, sourcePath string) (stackRoot, sourceRoot string, err error) {
	stackPath := frame.RawPath
	if stackPath != "" && (stackPath[0] == '/' || stackPath[0] == '\\') {
		stackRoot = stackPath[:1]
		stackPath = stackPath[1:]
	}

	switch {
	case stackPath == sourcePath:
		return stackRoot, "", nil
	case strings.HasSuffix(sourcePath, stackPath):
		// Packaged: the source tree nests the frame path under extra directories.
		sourcePrefix := sourcePath[:len(sourcePath)-len(stackPath)]
		return stackRoot + frame.StackRoot + "/", sourcePrefix + frame.StackRoot + "/", nil
	case strings.HasSuffix(stackPath, sourcePath):
		stackPrefix := stackPath[:len(stackPath)-len(sourcePath)]
		return stackRoot + stackPrefix, "", nil
	}

	delim := "/"
	if !strings.Contains(stackPath, "/") && strings.Contains(stackPath, `\`) {
		delim = `\`
	}
	// Same length as stackPath; prefixes are sliced from the original so the
	// stack root keeps the frame's own separators.
	original := stackPath
	stackPath = strings.ReplaceAll(stackPath, `\`, "/")

	if idx := straightPathPrefixEnd(stackPath); idx > 0 {
		stackRoot += original[:idx]
		stackPath = stackPath[idx:]
	}

	overlap := strings.Split(stackPath, "/")
	var rootItems []string
	for len(overlap) > 0 {
		suffix := strings.Join(overlap, "/")
		if suffix != "" && hasPathSuffix(sourcePath, suffix) {
			sourceRoot = sourcePath[:len(sourcePath)-len(suffix)]
			stackRoot += strings.Join(rootItems, delim)

			if stackRoot != "" && !strings.HasSuffix(stackRoot, delim) && !strings.HasSuffix(stackRoot, "/") {
				stackRoot += delim
			}
			return stackRoot, sourceRoot, nil
		}
		rootItems = append(rootItems, overlap[0])
		overlap = overlap[1:]
	}

	return "", "", ErrUnexpectedPath
}

// hasPathSuffix reports whether suffix ends p on a segment boundary.
func hasPathSuffix(p, suffix string) bool {
	if !strings.HasSuffix(p, suffix) {
		return false
	}
	return len(p) == len(suffix) || p[len(p)-len(suffix)-1] == '/'
}

// roundTrips reports whether substituting stackRoot with sourceRoot in rawPath
// reproduces sourcePath.
func roundTrips(rawPath, stackRoot, sourceRoot, sourcePath string) bool {
	return strings.ReplaceAll(strings.Replace(rawPath, stackRoot, sourceRoot, 1), `\`, "/") == sourcePath
}
