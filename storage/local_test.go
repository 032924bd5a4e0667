package storage

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/google/uuid"

	"github.com/imgrevise/imgrevise/config"
	apperrors "github.com/imgrevise/imgrevise/errors"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(config.LocalConfig{RootDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	return store
}

func TestLocalStorePutGetDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, BucketRaw, "owner1/img1.jpg", bytes.NewReader([]byte("hello")), 5); err != nil {
		t.Fatalf("Put: %v", err)
	}

	exists, err := store.Exists(ctx, BucketRaw, "owner1/img1.jpg")
	if err != nil || !exists {
		t.Fatalf("Exists = %v, %v", exists, err)
	}

	rc, err := store.Get(ctx, BucketRaw, "owner1/img1.jpg")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "hello" {
		t.Fatalf("got %q", data)
	}

	if err := store.Delete(ctx, BucketRaw, "owner1/img1.jpg"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if exists, _ := store.Exists(ctx, BucketRaw, "owner1/img1.jpg"); exists {
		t.Fatal("expected object gone after delete")
	}
}

func TestLocalStoreGetMissingReturnsNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), BucketRaw, "missing.jpg")
	if !apperrors.IsCategory(err, apperrors.CategoryNotFound) {
		t.Fatalf("expected not-found error for missing object, got %v", err)
	}
}

func TestLocalStoreDeleteAllForImage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	imageID := uuid.New()
	revID := uuid.New()

	rawPath := RawPath("owner1", imageID, "jpg")
	resultPath := ResultPath(imageID, revID, "jpg")
	thumbPath := ThumbPath(imageID)

	_ = store.Put(ctx, BucketRaw, rawPath, bytes.NewReader([]byte("a")), 1)
	_ = store.Put(ctx, BucketResults, resultPath, bytes.NewReader([]byte("b")), 1)
	_ = store.Put(ctx, BucketThumb, thumbPath, bytes.NewReader([]byte("c")), 1)

	if err := store.DeleteAllForImage(ctx, imageID); err != nil {
		t.Fatalf("DeleteAllForImage: %v", err)
	}

	for _, tc := range []struct {
		bucket Bucket
		path   string
	}{
		{BucketRaw, rawPath},
		{BucketResults, resultPath},
		{BucketThumb, thumbPath},
	} {
		if exists, _ := store.Exists(ctx, tc.bucket, tc.path); exists {
			t.Fatalf("expected %s/%s removed", tc.bucket, tc.path)
		}
	}
}

func TestPathConventions(t *testing.T) {
	imageID := uuid.New()
	revID := uuid.New()

	if got, want := RawPath("alice", imageID, "jpg"), "alice/"+imageID.String()+".jpg"; got != want {
		t.Fatalf("RawPath = %q, want %q", got, want)
	}
	if got, want := ResultPath(imageID, revID, "png"), imageID.String()+"_"+revID.String()+".png"; got != want {
		t.Fatalf("ResultPath = %q, want %q", got, want)
	}
	if got, want := ThumbPath(imageID), imageID.String()+".webp"; got != want {
		t.Fatalf("ThumbPath = %q, want %q", got, want)
	}
}
