package common

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// GenerateID returns a random UUID string for profile and event IDs.
func GenerateID() string {
	return uuid.NewString()
}

// GetConfigDir returns the application configuration directory under the
// user's config home, creating it when missing.
func GetConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", WrapError(err, "failed to locate config directory")
	}
	return appDir(base)
}

// GetDataDir returns the application data directory, honoring
// XDG_DATA_HOME.
func GetDataDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", WrapError(err, "failed to get home directory")
		}
		base = filepath.Join(home, ".local", "share")
	}
	return appDir(base)
}

func appDir(base string) (string, error) {
	dir := filepath.Join(base, ConfigDirName)
	if err := EnsureDir(dir); err != nil {
		return "", WrapError(err, "failed to create "+dir)
	}
	return dir, nil
}

// FileExists reports whether path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// EnsureDir creates path with owner-only permissions if needed.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0700)
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}
