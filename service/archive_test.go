package service

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"recnode/pkg/storage"
)

type captureWriter struct {
	mu     sync.Mutex
	writes map[string][]byte
	err    error
}

func newCaptureWriter() *captureWriter {
	return &captureWriter{writes: map[string][]byte{}}
}

func (w *captureWriter) Write(ctx context.Context, path string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.writes[path] = data
	return nil
}

func (w *captureWriter) paths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	paths := make([]string, 0, len(w.writes))
	for p := range w.writes {
		paths = append(paths, p)
	}
	return paths
}

func (w *captureWriter) get(path string) []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes[path]
}

func writeSegmentFile(t *testing.T, dir string, num, size int) BufferedSegment {
	t.Helper()
	path := filepath.Join(dir, strconv.Itoa(num)+".ts")
	if err := os.WriteFile(path, bytes.Repeat([]byte{0xab}, size), 0644); err != nil {
		t.Fatal(err)
	}
	return BufferedSegment{Num: num, Path: path, Size: int64(size)}
}

func tarNames(t *testing.T, data []byte) []string {
	t.Helper()
	tr := tar.NewReader(bytes.NewReader(data))
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("tar read: %v", err)
		}
		names = append(names, hdr.Name)
	}
	return names
}

func TestArchiver_sizeTriggeredFlush(t *testing.T) {
	dir := t.TempDir()
	writer := newCaptureWriter()
	var mu sync.Mutex
	var uploaded [][]BufferedSegment
	a := NewArchiver(writer, "recordings/ch1", 1, 2, func(ctx context.Context, batch []BufferedSegment) {
		mu.Lock()
		uploaded = append(uploaded, batch)
		mu.Unlock()
	})
	ctx := context.Background()

	seg301 := writeSegmentFile(t, dir, 301, 600*1024)
	seg302 := writeSegmentFile(t, dir, 302, 600*1024)
	a.Add(ctx, seg301)
	if len(writer.paths()) != 0 {
		t.Fatal("flush before crossing the bundle size")
	}
	a.Add(ctx, seg302)
	a.Wait()

	paths := writer.paths()
	if len(paths) != 1 || paths[0] != "recordings/ch1/bundle_00001.tar" {
		t.Fatalf("unexpected uploads: %v", paths)
	}
	names := tarNames(t, writer.get(paths[0]))
	if len(names) != 2 || names[0] != "301.ts" || names[1] != "302.ts" {
		t.Errorf("bundle entries: %v", names)
	}

	for _, seg := range []BufferedSegment{seg301, seg302} {
		if _, err := os.Stat(seg.Path); !os.IsNotExist(err) {
			t.Errorf("bundled file %s not removed", seg.Path)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(uploaded) != 1 || len(uploaded[0]) != 2 {
		t.Errorf("onUploaded batches: %v", uploaded)
	}
}

func TestArchiver_finalFlushDrainsRemainder(t *testing.T) {
	dir := t.TempDir()
	writer := newCaptureWriter()
	a := NewArchiver(writer, "recordings/ch1", 64, 2, nil)
	ctx := context.Background()

	a.Add(ctx, writeSegmentFile(t, dir, 1, 128))
	a.Add(ctx, writeSegmentFile(t, dir, 2, 128))
	if len(writer.paths()) != 0 {
		t.Fatal("small buffer should not have flushed")
	}

	a.FinalFlush(ctx)

	paths := writer.paths()
	if len(paths) != 1 {
		t.Fatalf("unexpected uploads: %v", paths)
	}
	names := tarNames(t, writer.get(paths[0]))
	if len(names) != 2 {
		t.Errorf("bundle entries: %v", names)
	}
}

func TestArchiver_localWriterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	root := t.TempDir()
	a := NewArchiver(storage.NewLocalWriter(root), "recordings/ch1", 64, 2, nil)
	ctx := context.Background()

	a.Add(ctx, writeSegmentFile(t, dir, 7, 256))
	a.FinalFlush(ctx)

	data, err := os.ReadFile(filepath.Join(root, "recordings", "ch1", "bundle_00001.tar"))
	if err != nil {
		t.Fatalf("bundle not written: %v", err)
	}
	names := tarNames(t, data)
	if len(names) != 1 || names[0] != "7.ts" {
		t.Errorf("bundle entries: %v", names)
	}
}

func TestArchiver_uploadFailureLosesBundleQuietly(t *testing.T) {
	dir := t.TempDir()
	writer := newCaptureWriter()
	writer.err = errors.New("storage down")
	called := false
	a := NewArchiver(writer, "recordings/ch1", 64, 2, func(ctx context.Context, batch []BufferedSegment) {
		called = true
	})
	ctx := context.Background()

	a.Add(ctx, writeSegmentFile(t, dir, 1, 128))
	a.FinalFlush(ctx)

	if called {
		t.Error("onUploaded must not run for a lost bundle")
	}
}
