package service

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"recnode/pkg/storage"
)

// BufferedSegment is one raw segment file waiting to be bundled.
type BufferedSegment struct {
	Num  int
	Path string
	Size int64
}

// Archiver bundles buffered segment files into tar archives and uploads
// them in background tasks. Upload failures are retried with exponential
// backoff; exhausting the budget loses the bundle but never aborts the
// recording, loudly.
type Archiver struct {
	writer     storage.Writer
	basePath   string
	bundleSize int64
	retryLimit int
	onUploaded func(ctx context.Context, batch []BufferedSegment)

	mu           sync.Mutex
	pending      []BufferedSegment
	pendingBytes int64
	seq          int
	wg           sync.WaitGroup
}

func NewArchiver(writer storage.Writer, basePath string, bundleSizeMB, retryLimit int, onUploaded func(ctx context.Context, batch []BufferedSegment)) *Archiver {
	return &Archiver{
		writer:     writer,
		basePath:   storage.NormalizeBasePath(basePath),
		bundleSize: int64(bundleSizeMB) * 1024 * 1024,
		retryLimit: retryLimit,
		onUploaded: onUploaded,
	}
}

// Add buffers a segment file. Crossing the bundle size triggers an
// asynchronous flush.
func (a *Archiver) Add(ctx context.Context, seg BufferedSegment) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = append(a.pending, seg)
	a.pendingBytes += seg.Size
	if a.pendingBytes >= a.bundleSize {
		a.flushLocked(ctx)
	}
}

// Flush hands the current buffer to a background upload task.
func (a *Archiver) Flush(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pending) > 0 {
		a.flushLocked(ctx)
	}
}

// Wait blocks until all background uploads of this session finish.
func (a *Archiver) Wait() {
	a.wg.Wait()
}

// FinalFlush bundles whatever is still buffered and waits for every
// in-flight upload, so nothing is silently dropped on termination.
func (a *Archiver) FinalFlush(ctx context.Context) {
	a.Flush(ctx)
	a.Wait()
}

func (a *Archiver) flushLocked(ctx context.Context) {
	batch := a.pending
	a.pending = nil
	a.pendingBytes = 0
	a.seq++
	seq := a.seq

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.upload(ctx, seq, batch)
	}()
}

func (a *Archiver) upload(ctx context.Context, seq int, batch []BufferedSegment) {
	log := zerolog.Ctx(ctx)

	sort.Slice(batch, func(i, j int) bool { return batch[i].Num < batch[j].Num })
	data, err := a.bundle(batch)
	if err != nil {
		log.Error().Err(err).Int("bundle", seq).Msg("failed to package segment bundle")
		return
	}

	// constituent files are no longer needed once packaged
	for _, seg := range batch {
		if err := os.Remove(seg.Path); err != nil {
			log.Warn().Err(err).Str("path", seg.Path).Msg("failed to remove bundled segment file")
		}
	}

	key := fmt.Sprintf("%s/bundle_%05d.tar", a.basePath, seq)
	operation := func() (struct{}, error) {
		return struct{}{}, a.writer.Write(ctx, key, data)
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 10 * time.Second
	if _, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(a.retryLimit))); err != nil {
		log.Error().Err(err).
			Str("key", key).
			Int("segments", len(batch)).
			Msg("upload retries exhausted, bundle lost")
		return
	}

	log.Info().Str("key", key).Int("segments", len(batch)).Msg("bundle uploaded")
	if a.onUploaded != nil {
		a.onUploaded(ctx, batch)
	}
}

func (a *Archiver) bundle(batch []BufferedSegment) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, seg := range batch {
		data, err := os.ReadFile(seg.Path)
		if err != nil {
			return nil, err
		}
		hdr := &tar.Header{
			Name:    fmt.Sprintf("%d.ts", seg.Num),
			Mode:    0644,
			Size:    int64(len(data)),
			ModTime: time.Now(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if _, err := tw.Write(data); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
