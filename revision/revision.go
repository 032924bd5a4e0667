// Package revision implements the core state machine for an image's linear
// edit history: applying an operation, undoing the most recent one, and
// reading the history back out.
package revision

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/imgrevise/imgrevise/adapters/vips"
	"github.com/imgrevise/imgrevise/cache"
	"github.com/imgrevise/imgrevise/config"
	"github.com/imgrevise/imgrevise/core"
	apperrors "github.com/imgrevise/imgrevise/errors"
	"github.com/imgrevise/imgrevise/metadata"
	"github.com/imgrevise/imgrevise/operation"
	"github.com/imgrevise/imgrevise/storage"
)

// Service is the Revision Service: the only component that mutates an
// image's revision chain.
type Service struct {
	meta     metadata.Store
	store    storage.Store
	cache    cache.Cache
	pipeline *vips.Backend
	logger   core.Logger
	cfg      config.Config
	hooks    []core.Hook
}

// New constructs a Service. pipeline must already be started (vips.NewBackend).
// Any hooks passed in are invoked around ApplyOp and Undo.
func New(meta metadata.Store, store storage.Store, c cache.Cache, pipeline *vips.Backend, logger core.Logger, cfg config.Config, hooks ...core.Hook) *Service {
	return &Service{meta: meta, store: store, cache: c, pipeline: pipeline, logger: logger, cfg: cfg, hooks: hooks}
}

func (s *Service) runHooks(opName string, fn func() error) error {
	for _, h := range s.hooks {
		h.BeforeOp(opName)
	}
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	for _, h := range s.hooks {
		h.AfterOp(opName, elapsed, err)
	}
	return err
}

// ApplyOp applies op to the latest non-tombstoned revision of imageID, or to
// the original upload if imageID has no revisions yet, producing a new
// revision. The whole operation runs under the image's exclusive lock so
// concurrent ApplyOp/Undo calls against the same image serialize into a
// single linear chain.
func (s *Service) ApplyOp(ctx context.Context, imageID uuid.UUID, op operation.Operation) (*metadata.Revision, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}

	var result *metadata.Revision
	err := s.runHooks("revision.ApplyOp", func() error {
		return s.meta.WithImageLock(ctx, imageID, func(ctx context.Context) error {
			txMeta := metadata.StoreFromContext(ctx, s.meta)

			img, err := txMeta.GetImage(ctx, imageID)
			if err != nil {
				return err
			}

			parent, err := txMeta.GetLatestRevision(ctx, imageID)
			if err != nil {
				return err
			}

			// parent is nil when img has no edits yet: the source is the
			// immutable original upload, not a revision row — there is no
			// revision row for the original (spec.md §4.6).
			srcBucket := storage.BucketRaw
			srcPath := img.RawPath
			srcMime := img.Mime
			var parentID *uuid.UUID
			if parent != nil {
				srcBucket = storage.Bucket(parent.Bucket)
				srcPath = parent.ResultPath
				srcMime = parent.Mime
				parentID = &parent.ID
			}

			rc, err := s.store.Get(ctx, srcBucket, srcPath)
			if err != nil {
				return apperrors.New(apperrors.CategoryStorage, "revision.ApplyOp", err)
			}
			srcBytes, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return apperrors.New(apperrors.CategoryStorage, "revision.ApplyOp", err)
			}

			applied, err := s.pipeline.Apply(ctx, srcBytes, srcMime, op)
			if err != nil {
				return err
			}

			revID := uuid.New()
			ext := extForMime(applied.Mime)
			resultPath := storage.ResultPath(imageID, revID, ext)

			// Write the blob before the metadata row: a crash between these two
			// steps leaves an orphan object (cheap to garbage collect later) but
			// never a dangling row that points at bytes which were never
			// written, which would be unrecoverable.
			if err := s.store.Put(ctx, storage.BucketResults, resultPath, bytes.NewReader(applied.Data), int64(len(applied.Data))); err != nil {
				return apperrors.New(apperrors.CategoryStorage, "revision.ApplyOp", err)
			}

			rev := &metadata.Revision{
				ID:         revID,
				ImageID:    imageID,
				ParentID:   parentID,
				OpType:     op.OpType().String(),
				OpParams:   op.Params(),
				Bucket:     string(storage.BucketResults),
				ResultPath: resultPath,
				Mime:       applied.Mime,
				Width:      applied.Width,
				Height:     applied.Height,
				SizeBytes:  int64(len(applied.Data)),
				CreatedAt:  time.Now(),
			}
			if err := txMeta.CreateRevision(ctx, rev); err != nil {
				return err
			}

			result = rev
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	// Cache invalidation is best-effort: a stale cached thumbnail is a
	// correctness issue for one read, not a reason to fail a committed edit.
	if err := s.cache.InvalidateThumb(ctx, imageID.String()); err != nil {
		s.logger.Warn("thumbnail cache invalidation failed", "image_id", imageID, "err", err)
	}

	return result, nil
}

// Undo tombstones the current head revision, exposing its parent as the new
// head. An image with no revisions yet has nothing to undo; a revision
// derived directly from the original upload (no parent) can never be undone.
func (s *Service) Undo(ctx context.Context, imageID uuid.UUID) (*metadata.Revision, error) {
	var result *metadata.Revision
	err := s.runHooks("revision.Undo", func() error {
		return s.meta.WithImageLock(ctx, imageID, func(ctx context.Context) error {
			txMeta := metadata.StoreFromContext(ctx, s.meta)

			head, err := txMeta.GetLatestRevision(ctx, imageID)
			if err != nil {
				return err
			}
			if head == nil {
				return apperrors.New(apperrors.CategoryValidation, "revision.Undo", apperrors.ErrNothingToUndo)
			}
			if head.ParentID == nil {
				return apperrors.New(apperrors.CategoryValidation, "revision.Undo", apperrors.ErrCannotUndoOriginal)
			}

			parent, err := txMeta.GetRevision(ctx, *head.ParentID)
			if err != nil {
				return apperrors.New(apperrors.CategoryMetadata, "revision.Undo", fmt.Errorf("%w: parent revision missing", apperrors.ErrCorrupted))
			}

			if err := txMeta.TombstoneRevision(ctx, head.ID, time.Now()); err != nil {
				return err
			}

			result = parent
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if err := s.cache.InvalidateThumb(ctx, imageID.String()); err != nil {
		s.logger.Warn("thumbnail cache invalidation failed", "image_id", imageID, "err", err)
	}

	return result, nil
}

// GetHistory returns the image's non-tombstoned revisions, oldest first.
func (s *Service) GetHistory(ctx context.Context, imageID uuid.UUID) ([]metadata.Revision, error) {
	return s.meta.GetHistory(ctx, imageID)
}

func extForMime(mime string) string {
	switch mime {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	default:
		return "bin"
	}
}
