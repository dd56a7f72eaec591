// Package tempdir creates and tears down per-node scratch data
// directories for processes that run more than one node in-process, such
// as a local multi-node test harness or demo cluster.
package tempdir

import (
	"fmt"
	"os"
	"path/filepath"
)

// Create makes a fresh, empty directory under the OS temp root, prefixed
// with "kvnode-" and the given label for easy identification in process
// listings and crash dumps.
func Create(label string) (string, error) {
	dir, err := os.MkdirTemp("", fmt.Sprintf("kvnode-%s-", label))
	if err != nil {
		return "", fmt.Errorf("tempdir: create %s: %w", label, err)
	}
	return dir, nil
}

// CreateN makes n labelled scratch directories, one per node in an
// in-process cluster. On any failure it removes whatever it already
// created before returning the error.
func CreateN(n int, labelPrefix string) ([]string, error) {
	dirs := make([]string, 0, n)
	for i := 0; i < n; i++ {
		dir, err := Create(fmt.Sprintf("%s-%d", labelPrefix, i))
		if err != nil {
			RemoveAll(dirs)
			return nil, err
		}
		dirs = append(dirs, dir)
	}
	return dirs, nil
}

// RemoveAll recursively deletes every directory in dirs, best-effort:
// it keeps going on error and returns the first one encountered.
func RemoveAll(dirs []string) error {
	var firstErr error
	for _, dir := range dirs {
		if err := os.RemoveAll(filepath.Clean(dir)); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("tempdir: remove %s: %w", dir, err)
		}
	}
	return firstErr
}
