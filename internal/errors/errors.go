package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// UnsupportedFrameInfo indicates a frame path the extractor cannot use
	UnsupportedFrameInfo ErrorCode = "UNSUPPORTED_FRAME_INFO"
	// NeedsExtension indicates a frame path without a file extension
	NeedsExtension ErrorCode = "NEEDS_EXTENSION"
	// MissingModuleOrAbsPath indicates a module-platform frame lacking module or abs_path
	MissingModuleOrAbsPath ErrorCode = "MISSING_MODULE_OR_ABS_PATH"
	// FailedToExtractFilename indicates module derivation produced no file path
	FailedToExtractFilename ErrorCode = "FAILED_TO_EXTRACT_FILENAME"
	// UnexpectedPath indicates no common root exists between a frame and a source path
	UnexpectedPath ErrorCode = "UNEXPECTED_PATH"
	// ModuleWithoutPackage indicates a dotted module name with no package segments
	ModuleWithoutPackage ErrorCode = "MODULE_WITHOUT_PACKAGE"
	// InvalidRepoTree indicates a repository tree that cannot be searched
	InvalidRepoTree ErrorCode = "INVALID_REPO_TREE"
	// TreesUnavailable indicates repository trees could not be fetched
	TreesUnavailable ErrorCode = "TREES_UNAVAILABLE"
	// TreesLocked indicates another process holds the tree fetch lock
	TreesLocked ErrorCode = "TREES_LOCKED"
	// RateLimited indicates a derivation attempt inside its rate-limit window
	RateLimited ErrorCode = "RATE_LIMITED"
	// UnsupportedPlatform indicates an event platform excluded from derivation
	UnsupportedPlatform ErrorCode = "UNSUPPORTED_PLATFORM"
	// StorageError indicates a persistence failure
	StorageError ErrorCode = "STORAGE_ERROR"
	// ConfigInvalid indicates a configuration that failed validation
	ConfigInvalid ErrorCode = "CONFIG_INVALID"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// Error is a classified error with a stable code.
type Error struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	cause   error       // Underlying error (not exported to JSON)
}

// New creates a classified error without a cause.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a classified error around cause.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is a classified error with the same code.
// This lets package-level sentinels match errors built with different messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetails adds details to the error
func (e *Error) WithDetails(details interface{}) *Error {
	e.Details = details
	return e
}

// CodeOf returns the code of the first classified error in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var ce *Error
	if stderrors.As(err, &ce) {
		return ce.Code, true
	}
	return "", false
}

// HasCode reports whether err's chain contains a classified error with code.
func HasCode(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}
