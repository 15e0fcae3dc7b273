package storage

import (
	"context"
	"fmt"
	"strings"
)

// Writer is the object-storage abstraction the recording pipeline hands
// finished archives to. Implementations exist for MinIO and local disk.
type Writer interface {
	Write(ctx context.Context, path string, data []byte) error
}

// WriteError reports a write whose internal retry budget was exhausted.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("storage: write %q: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// NormalizeBasePath strips redundant slashes so object keys are stable
// regardless of how the base path was configured.
func NormalizeBasePath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	return strings.Trim(path, "/")
}
