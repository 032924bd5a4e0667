// Package storage implements the three-bucket object store: raw originals,
// revision results, and derived thumbnails, each with its own path
// convention and lifecycle.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// Bucket identifies one of the three logical buckets.
type Bucket string

const (
	BucketRaw     Bucket = "raw"
	BucketResults Bucket = "results"
	BucketThumb   Bucket = "thumb"
)

// Store is the object store boundary used by imageservice and revision.
type Store interface {
	Put(ctx context.Context, bucket Bucket, path string, r io.Reader, size int64) error
	Get(ctx context.Context, bucket Bucket, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, bucket Bucket, path string) error
	Exists(ctx context.Context, bucket Bucket, path string) (bool, error)

	// DeleteAllForImage removes every object across all three buckets whose
	// path belongs to imageID, used by Image Service's cascading delete.
	DeleteAllForImage(ctx context.Context, imageID uuid.UUID) error

	// SignedURL returns a time-bounded download URL for an object. ttl is
	// capped by the bucket's own lifecycle when the backend enforces one
	// (the GCS backend clamps to the bucket's signed-URL TTL configured at
	// startup).
	SignedURL(ctx context.Context, bucket Bucket, path string, ttl time.Duration) (string, error)

	Ping(ctx context.Context) error
}

// RawPath returns the raw-bucket object path for an owner-scoped original.
func RawPath(owner string, imageID uuid.UUID, ext string) string {
	return fmt.Sprintf("%s/%s.%s", owner, imageID, ext)
}

// ResultPath returns the results-bucket object path for a revision output.
func ResultPath(imageID, revisionID uuid.UUID, ext string) string {
	return fmt.Sprintf("%s_%s.%s", imageID, revisionID, ext)
}

// ThumbPath returns the thumb-bucket object path for an image's derived
// preview. Thumbnails are always WebP regardless of source/revision mime.
func ThumbPath(imageID uuid.UUID) string {
	return fmt.Sprintf("%s.webp", imageID)
}
