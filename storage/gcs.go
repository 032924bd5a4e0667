package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/imgrevise/imgrevise/config"
	apperrors "github.com/imgrevise/imgrevise/errors"
)

// GCSStore implements Store on Google Cloud Storage. Each logical Bucket
// maps to its own GCS bucket, named "<prefix>-<bucket>".
type GCSStore struct {
	client       *gcs.Client
	projectID    string
	signedURLTTL time.Duration
	buckets      map[Bucket]string
}

// ConnectGCS builds a GCSStore from cfg, deriving the three bucket names
// from cfg.BucketPrefix.
func ConnectGCS(ctx context.Context, cfg config.GCSConfig) (*GCSStore, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryStorage, "storage.ConnectGCS", err)
	}

	ttl := cfg.SignedURLTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	return &GCSStore{
		client:       client,
		projectID:    cfg.ProjectID,
		signedURLTTL: ttl,
		buckets: map[Bucket]string{
			BucketRaw:     cfg.BucketPrefix + "-raw",
			BucketResults: cfg.BucketPrefix + "-results",
			BucketThumb:   cfg.BucketPrefix + "-thumb",
		},
	}, nil
}

func (s *GCSStore) bucketName(b Bucket) string { return s.buckets[b] }

func (s *GCSStore) Put(ctx context.Context, bucket Bucket, path string, r io.Reader, size int64) error {
	w := s.client.Bucket(s.bucketName(bucket)).Object(path).NewWriter(ctx)
	if size > 0 {
		w.ChunkSize = 0 // let the client pick a reasonable single-shot size for small images
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return apperrors.New(apperrors.CategoryStorage, "storage.Put", err)
	}
	if err := w.Close(); err != nil {
		return apperrors.New(apperrors.CategoryStorage, "storage.Put", err)
	}
	return nil
}

func (s *GCSStore) Get(ctx context.Context, bucket Bucket, path string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(s.bucketName(bucket)).Object(path).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, apperrors.New(apperrors.CategoryNotFound, "storage.Get", apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryStorage, "storage.Get", err)
	}
	return r, nil
}

func (s *GCSStore) Delete(ctx context.Context, bucket Bucket, path string) error {
	err := s.client.Bucket(s.bucketName(bucket)).Object(path).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return apperrors.New(apperrors.CategoryStorage, "storage.Delete", err)
	}
	return nil
}

func (s *GCSStore) Exists(ctx context.Context, bucket Bucket, path string) (bool, error) {
	_, err := s.client.Bucket(s.bucketName(bucket)).Object(path).Attrs(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.New(apperrors.CategoryStorage, "storage.Exists", err)
	}
	return true, nil
}

func (s *GCSStore) DeleteAllForImage(ctx context.Context, imageID uuid.UUID) error {
	idStr := imageID.String()
	for _, b := range []Bucket{BucketRaw, BucketResults, BucketThumb} {
		it := s.client.Bucket(s.bucketName(b)).Objects(ctx, &gcs.Query{})
		for {
			attrs, err := it.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				return apperrors.New(apperrors.CategoryStorage, "storage.DeleteAllForImage", err)
			}
			if !strings.Contains(attrs.Name, idStr) {
				continue
			}
			if err := s.client.Bucket(s.bucketName(b)).Object(attrs.Name).Delete(ctx); err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
				return apperrors.New(apperrors.CategoryStorage, "storage.DeleteAllForImage", err)
			}
		}
	}
	return nil
}

func (s *GCSStore) SignedURL(ctx context.Context, bucket Bucket, path string, ttl time.Duration) (string, error) {
	if ttl <= 0 || ttl > s.signedURLTTL {
		ttl = s.signedURLTTL
	}
	url, err := s.client.Bucket(s.bucketName(bucket)).SignedURL(path, &gcs.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", apperrors.New(apperrors.CategoryStorage, "storage.SignedURL", err)
	}
	return url, nil
}

func (s *GCSStore) Ping(ctx context.Context) error {
	_, err := s.client.Bucket(s.bucketName(BucketRaw)).Attrs(ctx)
	if err != nil {
		return apperrors.New(apperrors.CategoryStorage, "storage.Ping", fmt.Errorf("raw bucket unreachable: %w", err))
	}
	return nil
}

var _ Store = (*GCSStore)(nil)
