// Package imageservice implements ingest, thumbnail derivation, metadata
// lookup, and deletion for images — everything upstream of the revision
// chain itself.
package imageservice

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // decode-config probe only; registers "jpeg" with image.DecodeConfig
	_ "image/png"  // decode-config probe only; registers "png"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/imgrevise/imgrevise/adapters/vips"
	"github.com/imgrevise/imgrevise/cache"
	"github.com/imgrevise/imgrevise/config"
	"github.com/imgrevise/imgrevise/core"
	apperrors "github.com/imgrevise/imgrevise/errors"
	"github.com/imgrevise/imgrevise/metadata"
	"github.com/imgrevise/imgrevise/storage"
	"github.com/imgrevise/imgrevise/utils"
)

var sniffedToMime = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
}

var allowedIngestMimes = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
}

// Service implements ingest, thumbnail derivation, metadata reads, and
// cascading delete.
type Service struct {
	meta     metadata.Store
	store    storage.Store
	cache    cache.Cache
	pipeline *vips.Backend
	logger   core.Logger
	cfg      config.Config
	hooks    []core.Hook
}

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

// Ingest reads r fully (bounded by MaxUploadBytes+1 so an oversized upload
// never buffers unbounded memory), validates its declared mime against the
// allow-list, and stores the raw bytes under a new Image row. No revision
// row is created here — the original upload has no revision of its own; the
// first call to ApplyOp reads it straight from Image.RawPath.
func (s *Service) Ingest(ctx context.Context, r io.Reader, owner, declaredMime string) (*metadata.Image, error) {
	var result *metadata.Image
	err := s.runHooks("imageservice.Ingest", func() error {
		img, err := s.ingest(ctx, r, owner, declaredMime)
		result = img
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) ingest(ctx context.Context, r io.Reader, owner, declaredMime string) (*metadata.Image, error) {
	ext, ok := allowedIngestMimes[declaredMime]
	if !ok {
		return nil, apperrors.New(apperrors.CategoryValidation, "imageservice.Ingest", apperrors.ErrUnsupportedMime)
	}

	limited := io.LimitReader(r, s.cfg.MaxUploadBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryStorage, "imageservice.Ingest", err)
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return nil, apperrors.New(apperrors.CategoryTooLarge, "imageservice.Ingest", apperrors.ErrTooLarge)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryValidation, "imageservice.Ingest", fmt.Errorf("%w: %v", apperrors.ErrCorrupted, err))
	}

	// Cross-check the declared mime against the bytes themselves; a caller
	// can lie about Content-Type but can't fake the magic bytes libvips reads.
	if sniffed := sniffedToMime[utils.DetectFormat(data)]; sniffed != "" && sniffed != declaredMime {
		return nil, apperrors.New(apperrors.CategoryValidation, "imageservice.Ingest", apperrors.ErrUnsupportedMime)
	}

	imageID := uuid.New()
	rawPath := storage.RawPath(owner, imageID, ext)

	if err := s.store.Put(ctx, storage.BucketRaw, rawPath, bytes.NewReader(data), int64(len(data))); err != nil {
		return nil, err
	}

	img := &metadata.Image{
		ID:        imageID,
		Owner:     owner,
		Mime:      declaredMime,
		Width:     cfg.Width,
		Height:    cfg.Height,
		SizeBytes: int64(len(data)),
		RawPath:   rawPath,
		CreatedAt: time.Now(),
	}
	if err := s.meta.CreateImage(ctx, img); err != nil {
		return nil, err
	}

	return img, nil
}

// DeriveThumbnail returns a cached thumbnail if present, otherwise derives
// one from the image's current head revision and caches it.
func (s *Service) DeriveThumbnail(ctx context.Context, imageID uuid.UUID) ([]byte, error) {
	var out []byte
	err := s.runHooks("imageservice.DeriveThumbnail", func() error {
		key := imageID.String()
		if cached, ok, err := s.cache.GetThumb(ctx, key); err == nil && ok {
			out = cached
			return nil
		}

		data, err := s.deriveAndCacheThumbnail(ctx, imageID, key)
		out = data
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) deriveAndCacheThumbnail(ctx context.Context, imageID uuid.UUID, key string) ([]byte, error) {
	var out []byte
	err := s.cache.WithLock(ctx, "thumb:"+key, s.cfg.LockTimeout, func(ctx context.Context) error {
		if cached, ok, err := s.cache.GetThumb(ctx, key); err == nil && ok {
			out = cached
			return nil
		}

		head, err := s.meta.GetLatestRevision(ctx, imageID)
		if err != nil {
			return err
		}

		// No revision yet: derive the thumbnail from the original upload.
		srcBucket, srcPath := storage.BucketRaw, ""
		if head != nil {
			srcBucket, srcPath = storage.Bucket(head.Bucket), head.ResultPath
		} else {
			img, err := s.meta.GetImage(ctx, imageID)
			if err != nil {
				return err
			}
			srcPath = img.RawPath
		}

		rc, err := s.store.Get(ctx, srcBucket, srcPath)
		if err != nil {
			return err
		}
		defer rc.Close()
		src, err := io.ReadAll(rc)
		if err != nil {
			return apperrors.New(apperrors.CategoryStorage, "imageservice.DeriveThumbnail", err)
		}

		applied, err := s.pipeline.Thumbnail(ctx, src, s.cfg.ThumbMaxEdge, s.cfg.ThumbQuality)
		if err != nil {
			return err
		}

		if err := s.cache.SetThumb(ctx, key, applied.Data, s.cfg.ThumbCacheTTL); err != nil {
			s.logger.Warn("failed to cache derived thumbnail", "image_id", imageID, "err", err)
		}
		out = applied.Data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Metadata returns the Image row for imageID.
func (s *Service) Metadata(ctx context.Context, imageID uuid.UUID) (*metadata.Image, error) {
	return s.meta.GetImage(ctx, imageID)
}

// Delete removes an image's metadata and every object across all three
// buckets that belongs to it.
func (s *Service) Delete(ctx context.Context, imageID uuid.UUID) error {
	if err := s.meta.DeleteImage(ctx, imageID); err != nil {
		return err
	}
	if err := s.store.DeleteAllForImage(ctx, imageID); err != nil {
		return err
	}
	if err := s.cache.InvalidateThumb(ctx, imageID.String()); err != nil {
		s.logger.Warn("thumbnail cache invalidation failed on delete", "image_id", imageID, "err", err)
	}
	return nil
}

// DeriveThumbnails derives (or returns cached) thumbnails for multiple
// images concurrently, bounded by maxConcurrency. A per-image failure does
// not abort the others; it is reported back at that image's index.
func (s *Service) DeriveThumbnails(ctx context.Context, imageIDs []uuid.UUID, maxConcurrency int) ([][]byte, []error) {
	results := make([][]byte, len(imageIDs))
	errs := make([]error, len(imageIDs))

	g, gctx := errgroup.WithContext(ctx)
	if maxConcurrency > 0 {
		g.SetLimit(maxConcurrency)
	}
	for i, id := range imageIDs {
		i, id := i, id
		g.Go(func() error {
			data, err := s.DeriveThumbnail(gctx, id)
			results[i] = data
			errs[i] = err
			return nil // per-image errors are collected, not fatal to the group
		})
	}
	_ = g.Wait()

	return results, errs
}

// DownloadURL returns a signed URL for a revision's bytes, or for the
// image's current head (falling back to the original upload if no revision
// exists yet) when revisionID is nil.
func (s *Service) DownloadURL(ctx context.Context, imageID uuid.UUID, revisionID *uuid.UUID, ttl time.Duration) (string, error) {
	if revisionID != nil {
		rev, err := s.meta.GetRevision(ctx, *revisionID)
		if err != nil {
			return "", err
		}
		return s.store.SignedURL(ctx, storage.Bucket(rev.Bucket), rev.ResultPath, ttl)
	}

	head, err := s.meta.GetLatestRevision(ctx, imageID)
	if err != nil {
		return "", err
	}
	if head != nil {
		return s.store.SignedURL(ctx, storage.Bucket(head.Bucket), head.ResultPath, ttl)
	}

	img, err := s.meta.GetImage(ctx, imageID)
	if err != nil {
		return "", err
	}
	return s.store.SignedURL(ctx, storage.BucketRaw, img.RawPath, ttl)
}
