package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/imgrevise/imgrevise/config"
	apperrors "github.com/imgrevise/imgrevise/errors"
)

// LocalStore implements Store on the local filesystem, laid out as
// <root>/<bucket>/<path>. It is the backend for config.StorageLocal, the
// default Config.Storage.
type LocalStore struct {
	root string
}

// NewLocalStore ensures root exists and returns a LocalStore rooted there.
func NewLocalStore(cfg config.LocalConfig) (*LocalStore, error) {
	root := cfg.RootDir
	if root == "" {
		root = "./data"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, apperrors.New(apperrors.CategoryStorage, "storage.NewLocalStore", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryStorage, "storage.NewLocalStore", err)
	}
	return &LocalStore{root: abs}, nil
}

// fullPath joins bucket and path under root; a path that would climb out of
// the bucket is reduced to its base name.
func (s *LocalStore) fullPath(bucket Bucket, path string) string {
	clean := filepath.Clean(path)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(os.PathSeparator)) {
		clean = filepath.Base(path)
	}
	return filepath.Join(s.root, string(bucket), clean)
}

func (s *LocalStore) Put(ctx context.Context, bucket Bucket, path string, r io.Reader, size int64) error {
	full := s.fullPath(bucket, path)
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperrors.New(apperrors.CategoryStorage, "storage.Put", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return apperrors.New(apperrors.CategoryStorage, "storage.Put", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return apperrors.New(apperrors.CategoryStorage, "storage.Put", err)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.New(apperrors.CategoryStorage, "storage.Put", err)
	}
	if err := os.Rename(tmpPath, full); err != nil {
		return apperrors.New(apperrors.CategoryStorage, "storage.Put", err)
	}

	success = true
	return nil
}

func (s *LocalStore) Get(ctx context.Context, bucket Bucket, path string) (io.ReadCloser, error) {
	f, err := os.Open(s.fullPath(bucket, path))
	if os.IsNotExist(err) {
		return nil, apperrors.New(apperrors.CategoryNotFound, "storage.Get", apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryStorage, "storage.Get", err)
	}
	return f, nil
}

func (s *LocalStore) Delete(ctx context.Context, bucket Bucket, path string) error {
	err := os.Remove(s.fullPath(bucket, path))
	if err != nil && !os.IsNotExist(err) {
		return apperrors.New(apperrors.CategoryStorage, "storage.Delete", err)
	}
	return nil
}

func (s *LocalStore) Exists(ctx context.Context, bucket Bucket, path string) (bool, error) {
	_, err := os.Stat(s.fullPath(bucket, path))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.New(apperrors.CategoryStorage, "storage.Exists", err)
	}
	return true, nil
}

func (s *LocalStore) DeleteAllForImage(ctx context.Context, imageID uuid.UUID) error {
	idStr := imageID.String()
	for _, b := range []Bucket{BucketRaw, BucketResults, BucketThumb} {
		dir := filepath.Join(s.root, string(b))
		err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
			if os.IsNotExist(err) {
				return nil
			}
			if err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			if strings.Contains(info.Name(), idStr) {
				return os.Remove(p)
			}
			return nil
		})
		if err != nil {
			return apperrors.New(apperrors.CategoryStorage, "storage.DeleteAllForImage", err)
		}
	}
	return nil
}

// SignedURL has no real signing concept on the local filesystem; it returns
// a root-relative path an out-of-scope HTTP layer could serve directly.
func (s *LocalStore) SignedURL(ctx context.Context, bucket Bucket, path string, _ time.Duration) (string, error) {
	full := s.fullPath(bucket, path)
	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return "", apperrors.New(apperrors.CategoryNotFound, "storage.SignedURL", apperrors.ErrNotFound)
		}
		return "", apperrors.New(apperrors.CategoryStorage, "storage.SignedURL", err)
	}
	return fmt.Sprintf("/%s/%s", bucket, path), nil
}

func (s *LocalStore) Ping(ctx context.Context) error {
	if _, err := os.Stat(s.root); err != nil {
		return apperrors.New(apperrors.CategoryStorage, "storage.Ping", err)
	}
	return nil
}

var _ Store = (*LocalStore)(nil)
