// Package paths resolves codemap's on-disk layout.
//
//	$CODEMAP_HOME (default ~/.codemap)
//	├── config.json
//	├── codemap.db
//	├── logs/<subsystem>.log
//	└── trees/<org>.yaml
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// HomeEnvVar overrides the data directory.
	HomeEnvVar = "CODEMAP_HOME"
	// DefaultHome is the data directory name under the user's home.
	DefaultHome = ".codemap"
	// ConfigFile is the config file name inside the data directory.
	ConfigFile = "config.json"
	// DatabaseFile is the sqlite database name inside the data directory.
	DatabaseFile = "codemap.db"
	// LogsSubdir holds per-subsystem log files.
	LogsSubdir = "logs"
	// TreesSubdir holds per-organization tree manifests.
	TreesSubdir = "trees"
)

// GetHome returns the data directory, honouring CODEMAP_HOME.
func GetHome() (string, error) {
	if home := os.Getenv(HomeEnvVar); home != "" {
		return home, nil
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(userHome, DefaultHome), nil
}

// EnsureHome returns the data directory, creating it if needed.
func EnsureHome() (string, error) {
	home, err := GetHome()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(home, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", home, err)
	}
	return home, nil
}

// ConfigPath returns the config file path inside home.
func ConfigPath(home string) string {
	return filepath.Join(home, ConfigFile)
}

// DatabasePath returns the sqlite database path inside home.
func DatabasePath(home string) string {
	return filepath.Join(home, DatabaseFile)
}

// LogPath returns the log file for a subsystem inside home.
func LogPath(home, subsystem string) string {
	return filepath.Join(home, LogsSubdir, subsystem+".log")
}

// ManifestDir returns the default tree manifest directory inside home.
func ManifestDir(home string) string {
	return filepath.Join(home, TreesSubdir)
}

// NormalizePath converts backslashes to forward slashes.
func NormalizePath(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}
