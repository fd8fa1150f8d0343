// Package storage holds the file-system helpers shared by the config and
// journal layers.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// RenameError is returned by AtomicWriteFile when the final rename fails.
// The temporary file has already been removed.
type RenameError struct {
	tempPath string
	err      error
}

func (e RenameError) Error() string {
	return fmt.Sprintf("renaming %s: %v", e.tempPath, e.err)
}

func (e RenameError) Unwrap() error { return e.err }

// TempPath returns the path of the removed temporary file.
func (e RenameError) TempPath() string { return e.tempPath }

// AtomicWriteFile writes data to a temporary file next to path, syncs it,
// and renames it over path, creating parent directories as needed. Readers
// see either the old contents or the new, never a partial write.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err = os.Chmod(tmp.Name(), perm); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return RenameError{tempPath: tmp.Name(), err: err}
	}
	return nil
}

// EnsureParentDir creates the directory that will hold path.
func EnsureParentDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	return nil
}
