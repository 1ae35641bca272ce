// Package local opens output files on the local filesystem.
package local

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Create truncates or creates the file at path, creating missing parent
// directories, and returns it open for writing.
func Create(path string) (*os.File, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("path is required")
	}

	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create parent directories: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat parent directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("parent path %s is not a directory", dir)
	}

	// #nosec G304 -- the output path comes from operator configuration.
	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file: %w", err)
	}
	return f, nil
}
