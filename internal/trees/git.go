package trees

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	cmerrors "codemap/internal/errors"
)

// DefaultGitTimeout bounds one git invocation.
const DefaultGitTimeout = 5000 * time.Millisecond

// ListGitFiles returns the files tracked in the checkout at dir, as
// reported by git ls-files.
func ListGitFiles(ctx context.Context, dir string, timeout time.Duration) ([]string, error) {
	if timeout <= 0 {
		timeout = DefaultGitTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "ls-files", "-z")
	cmd.Dir = dir

	output, err := cmd.Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, cmerrors.Wrap(cmerrors.TreesUnavailable, "git ls-files timed out", err)
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, cmerrors.Wrap(cmerrors.TreesUnavailable, "git ls-files failed", err).
				WithDetails(map[string]interface{}{
					"dir":    dir,
					"stderr": strings.TrimSpace(string(exitErr.Stderr)),
				})
		}
		return nil, cmerrors.Wrap(cmerrors.TreesUnavailable, "failed to execute git", err)
	}

	parts := strings.Split(string(output), "\x00")
	files := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			files = append(files, p)
		}
	}
	return files, nil
}
