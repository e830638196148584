// Package objstore stages data set members in S3-compatible object storage.
package objstore

import (
	"context"
	"io"
)

// Store is the object storage surface used by the publisher and loader.
type Store interface {
	// Upload writes body to key, replacing any existing object.
	Upload(ctx context.Context, key string, body io.Reader, contentType string) error
	// Download writes the object at key to w and returns its size.
	Download(ctx context.Context, key string, w io.WriterAt) (int64, error)
	// Ping verifies the bucket is reachable with the configured credentials.
	Ping(ctx context.Context) error
	// Bucket returns the bucket name.
	Bucket() string
}
