// Package archive stores raw fetched article pages for later reprocessing.
package archive

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
)

// GCSArchive writes page bodies to a Google Cloud Storage bucket.
type GCSArchive struct {
	bucket *storage.BucketHandle
	prefix string
}

// NewGCSArchive opens the bucket. prefix namespaces the stored objects.
func NewGCSArchive(ctx context.Context, bucketName, prefix string) (*GCSArchive, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("archive bucket name is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}
	return &GCSArchive{
		bucket: client.Bucket(bucketName),
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

// Put writes one page body. The object path is prefix/key.
func (a *GCSArchive) Put(ctx context.Context, key string, body []byte) error {
	path := key
	if a.prefix != "" {
		path = a.prefix + "/" + key
	}
	w := a.bucket.Object(path).NewWriter(ctx)
	w.ContentType = "text/html; charset=utf-8"
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close object %s: %w", path, err)
	}
	return nil
}
