package storage

import (
	"bytes"
	"context"

	"github.com/minio/minio-go/v7"
)

// MinioWriter writes objects into a single bucket.
type MinioWriter struct {
	client *minio.Client
	bucket string
}

func NewMinioWriter(client *minio.Client, bucket string) *MinioWriter {
	return &MinioWriter{client: client, bucket: bucket}
}

func (w *MinioWriter) Write(ctx context.Context, path string, data []byte) error {
	_, err := w.client.PutObject(ctx, w.bucket, NormalizeBasePath(path),
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		return &WriteError{Path: path, Err: err}
	}
	return nil
}
