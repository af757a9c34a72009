package fsutil

import (
	"fmt"
	"os"
)

// DirExists checks if a directory exists at the given path.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// FileExists checks if a regular file exists at the given path.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

// CreateDir creates a directory (and any missing parents) with the given
// permissions.
func CreateDir(path string, perm os.FileMode) error {
	if DirExists(path) {
		return nil
	}
	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// CreateDirIfNotExists creates a directory with default permissions if it
// doesn't already exist.
func CreateDirIfNotExists(path string) error {
	return CreateDir(path, 0755)
}
