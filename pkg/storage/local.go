package storage

import (
	"context"
	"os"
	"path/filepath"
)

// LocalWriter writes objects under a root directory, for development and
// tests.
type LocalWriter struct {
	root string
}

func NewLocalWriter(root string) *LocalWriter {
	_ = os.MkdirAll(root, os.ModePerm)
	return &LocalWriter{root: root}
}

func (w *LocalWriter) Write(ctx context.Context, path string, data []byte) error {
	target := filepath.Join(w.root, filepath.FromSlash(NormalizeBasePath(path)))
	if err := os.MkdirAll(filepath.Dir(target), os.ModePerm); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	if err := os.WriteFile(target, data, 0644); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	return nil
}
