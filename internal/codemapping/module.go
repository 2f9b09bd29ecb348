package codemapping

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// GetPathFromModule derives a stack root and file path from a dotted module
// name such as "com.example.app.MainActivity$Inner" and the frame's abs_path
// ("MainActivity.kt").
//
// The first capitalised segment is the class; the segments before it are the
// package and form the stack root. When no segment is capitalised the last one
// is taken as the class. Nested class suffixes after '$' are dropped. filePath
// is empty when abs_path does not contain exactly one '.', since the extension
// cannot be told apart from the rest of the name.
func GetPathFromModule(module, absPath string) (stackRoot, filePath string, err error) {
	parts := strings.Split(module, ".")

	classIdx := len(parts) - 1
	for i, part := range parts {
		r, _ := utf8.DecodeRuneInString(part)
		if r != utf8.RuneError && unicode.IsUpper(r) {
			classIdx = i
			break
		}
	}
	if classIdx <= 0 {
		return "", "", ErrModuleWithoutPackage
	}

	stackRoot = strings.Join(parts[:classIdx], "/")

	stem := strings.Join(parts[:classIdx+1], "/")
	if i := strings.Index(stem, "$"); i >= 0 {
		stem = stem[:i]
	}

	if strings.Count(absPath, ".") == 1 {
		ext := absPath[strings.Index(absPath, ".")+1:]
		if ext != "" {
			filePath = stem + "." + ext
		}
	}
	return stackRoot, filePath, nil
}
