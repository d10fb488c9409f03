// Package io writes report files so readers never observe a partial file.
package io

import (
	"fmt"
	stdio "io"
	"os"
	"path/filepath"
)

// WriteAtomic streams write's output to a temp file beside path and renames
// it into place. On any error the temp file is removed and path is untouched.
func WriteAtomic(path string, write func(w stdio.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}

// WriteFileAtomic writes data to path atomically
func WriteFileAtomic(path string, data []byte) error {
	return WriteAtomic(path, func(w stdio.Writer) error {
		_, err := w.Write(data)
		return err
	})
}
