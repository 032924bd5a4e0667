// Package metadata persists Image and Revision records and enforces the
// per-image locking that serializes concurrent edits to the same image.
package metadata

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the metadata persistence boundary. All revision-history
// invariants (linear chain, single non-tombstoned head) are enforced by
// callers inside WithImageLock; Store itself is a thin, transaction-aware
// repository.
type Store interface {
	CreateImage(ctx context.Context, img *Image) error
	GetImage(ctx context.Context, id uuid.UUID) (*Image, error)
	DeleteImage(ctx context.Context, id uuid.UUID) error

	CreateRevision(ctx context.Context, rev *Revision) error
	GetRevision(ctx context.Context, id uuid.UUID) (*Revision, error)

	// TombstoneRevision marks a revision undone without deleting its row or
	// its backing object, so history and undo stay reconstructible.
	TombstoneRevision(ctx context.Context, id uuid.UUID, at time.Time) error

	// GetLatestRevision returns the most recent non-tombstoned revision for
	// an image, or (nil, nil) if the image has no revisions yet — a freshly
	// ingested image has none until its first ApplyOp. Callers that need the
	// original bytes in that case read Image.RawPath directly.
	GetLatestRevision(ctx context.Context, imageID uuid.UUID) (*Revision, error)

	// GetHistory returns every non-tombstoned revision for an image,
	// ordered oldest first.
	GetHistory(ctx context.Context, imageID uuid.UUID) ([]Revision, error)

	// WithImageLock runs fn while holding an exclusive lock on the image
	// row, serializing concurrent ApplyOp/Undo calls against the same
	// image. fn's error, if any, is propagated and the transaction rolled
	// back.
	WithImageLock(ctx context.Context, imageID uuid.UUID, fn func(ctx context.Context) error) error

	// Ping reports whether the store's backing connection is healthy.
	Ping(ctx context.Context) error
}
