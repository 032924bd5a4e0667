package revision_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/imgrevise/imgrevise/adapters/vips"
	"github.com/imgrevise/imgrevise/cache"
	"github.com/imgrevise/imgrevise/config"
	apperrors "github.com/imgrevise/imgrevise/errors"
	"github.com/imgrevise/imgrevise/hooks"
	"github.com/imgrevise/imgrevise/metadata"
	"github.com/imgrevise/imgrevise/operation"
	"github.com/imgrevise/imgrevise/revision"
	"github.com/imgrevise/imgrevise/storage"
)

func newTestJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 50, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

type testHarness struct {
	meta    *metadata.MemoryStore
	store   *storage.LocalStore
	cache   *cache.MemoryCache
	backend *vips.Backend
	svc     *revision.Service
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	meta := metadata.NewMemoryStore()
	store, err := storage.NewLocalStore(config.LocalConfig{RootDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	c := cache.NewMemoryCache()
	backend := vips.NewBackend(vips.BackendConfig{DefaultQuality: 85})
	t.Cleanup(backend.Shutdown)

	logger := hooks.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	cfg := config.Default()
	svc := revision.New(meta, store, c, backend, logger, cfg)

	return &testHarness{meta: meta, store: store, cache: c, backend: backend, svc: svc}
}

// seedImage writes a raw JPEG and its owning Image row directly, bypassing
// imageservice.Ingest, since this package tests the revision state machine
// in isolation. No Revision row is created: a freshly seeded image has no
// edits yet, matching a real post-ingest image.
func seedImage(t *testing.T, h *testHarness, w, hgt int) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	raw := newTestJPEG(t, w, hgt)
	imageID := uuid.New()
	rawPath := storage.RawPath("owner1", imageID, "jpg")

	if err := h.store.Put(ctx, storage.BucketRaw, rawPath, bytes.NewReader(raw), int64(len(raw))); err != nil {
		t.Fatalf("seed Put: %v", err)
	}
	img := &metadata.Image{
		ID: imageID, Owner: "owner1", Mime: "image/jpeg",
		Width: w, Height: hgt, SizeBytes: int64(len(raw)), RawPath: rawPath, CreatedAt: time.Now(),
	}
	if err := h.meta.CreateImage(ctx, img); err != nil {
		t.Fatalf("seed CreateImage: %v", err)
	}
	return imageID
}

func TestApplyOpRotateSwapsDimensions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	imageID := seedImage(t, h, 800, 600)

	rev, err := h.svc.ApplyOp(ctx, imageID, operation.Rotate{Degrees: 90})
	if err != nil {
		t.Fatalf("ApplyOp: %v", err)
	}
	if rev.Width != 600 || rev.Height != 800 {
		t.Fatalf("after 90deg rotate, got %dx%d, want 600x800", rev.Width, rev.Height)
	}
	if rev.OpType != "rotate" {
		t.Fatalf("OpType = %q, want rotate", rev.OpType)
	}
	if rev.ParentID != nil {
		t.Fatalf("first revision's ParentID should be nil, got %v", *rev.ParentID)
	}
}

func TestApplyOpProducesLinearChain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	imageID := seedImage(t, h, 800, 600)

	if _, err := h.svc.ApplyOp(ctx, imageID, operation.Rotate{Degrees: 90}); err != nil {
		t.Fatalf("ApplyOp 1: %v", err)
	}
	if _, err := h.svc.ApplyOp(ctx, imageID, operation.Flip{Horizontal: true}); err != nil {
		t.Fatalf("ApplyOp 2: %v", err)
	}
	if _, err := h.svc.ApplyOp(ctx, imageID, operation.Resize{Width: 300}); err != nil {
		t.Fatalf("ApplyOp 3: %v", err)
	}

	history, err := h.svc.GetHistory(ctx, imageID)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	if history[0].ParentID != nil {
		t.Fatalf("first revision's ParentID should be nil, got %v", *history[0].ParentID)
	}
	for i := 1; i < len(history); i++ {
		if *history[i].ParentID != history[i-1].ID {
			t.Fatalf("revision %d does not chain from revision %d", i, i-1)
		}
	}
}

// TestUndoTombstonesHeadAndRestoresParent matches spec.md §8(b)'s worked
// example: rotate, flip, undo restores the first edit and GetHistory
// contains only that one surviving revision.
func TestUndoTombstonesHeadAndRestoresParent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	imageID := seedImage(t, h, 800, 600)

	first, err := h.svc.ApplyOp(ctx, imageID, operation.Rotate{Degrees: 90})
	if err != nil {
		t.Fatalf("ApplyOp 1: %v", err)
	}
	second, err := h.svc.ApplyOp(ctx, imageID, operation.Flip{Horizontal: true})
	if err != nil {
		t.Fatalf("ApplyOp 2: %v", err)
	}

	restored, err := h.svc.Undo(ctx, imageID)
	if err != nil {
		t.Fatalf("Undo: %v", err)
	}
	if restored.ID != first.ID {
		t.Fatalf("restored revision = %v, want first revision %v", restored.ID, first.ID)
	}

	history, err := h.svc.GetHistory(ctx, imageID)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 1 || history[0].ID != first.ID {
		t.Fatalf("history after undo = %+v, want only the first revision", history)
	}

	if _, err := h.meta.GetRevision(ctx, second.ID); err != nil {
		t.Fatalf("tombstoned revision should still be readable by id: %v", err)
	}
}

func TestUndoFirstRevisionCannotUndoOriginal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	imageID := seedImage(t, h, 800, 600)

	if _, err := h.svc.ApplyOp(ctx, imageID, operation.Rotate{Degrees: 90}); err != nil {
		t.Fatalf("ApplyOp: %v", err)
	}

	_, err := h.svc.Undo(ctx, imageID)
	if !apperrors.IsCategory(err, apperrors.CategoryValidation) {
		t.Fatalf("expected validation-category error undoing the first revision, got %v", err)
	}
	if !errors.Is(err, apperrors.ErrCannotUndoOriginal) {
		t.Fatalf("expected ErrCannotUndoOriginal, got %v", err)
	}
}

func TestUndoWithNoRevisionsFailsNothingToUndo(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	imageID := seedImage(t, h, 800, 600)

	_, err := h.svc.Undo(ctx, imageID)
	if !apperrors.IsCategory(err, apperrors.CategoryValidation) {
		t.Fatalf("expected validation-category error, got %v", err)
	}
	if !errors.Is(err, apperrors.ErrNothingToUndo) {
		t.Fatalf("expected ErrNothingToUndo, got %v", err)
	}
}

func TestApplyOpRejectsInvalidOperation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	imageID := seedImage(t, h, 800, 600)

	cases := []operation.Operation{
		operation.Rotate{Degrees: 45},
		operation.Resize{Width: 100},
		operation.Resize{},
		operation.Compress{Quality: 5},
		operation.Compress{Quality: 150},
	}
	for _, op := range cases {
		if _, err := h.svc.ApplyOp(ctx, imageID, op); err == nil {
			t.Fatalf("expected validation error for %#v", op)
		}
	}
}

func TestApplyOpConcurrentCallsProduceSingleChain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	imageID := seedImage(t, h, 1000, 1000)

	const n = 5
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := h.svc.ApplyOp(ctx, imageID, operation.Compress{Quality: 70})
			errCh <- err
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-errCh; err != nil {
			t.Fatalf("concurrent ApplyOp: %v", err)
		}
	}

	history, err := h.svc.GetHistory(ctx, imageID)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != n {
		t.Fatalf("history length = %d, want %d", len(history), n)
	}
	if history[0].ParentID != nil {
		t.Fatalf("first revision's ParentID should be nil, got %v", *history[0].ParentID)
	}
	for i := 1; i < len(history); i++ {
		if history[i].ParentID == nil || *history[i].ParentID != history[i-1].ID {
			t.Fatalf("revision %d does not chain from revision %d", i, i-1)
		}
	}
}

func TestCompressTranscodesPNGToJPEG(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, image.NewRGBA(image.Rect(0, 0, 400, 300))); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	raw := pngBuf.Bytes()
	imageID := uuid.New()
	rawPath := storage.RawPath("owner1", imageID, "png")
	_ = h.store.Put(ctx, storage.BucketRaw, rawPath, bytes.NewReader(raw), int64(len(raw)))
	_ = h.meta.CreateImage(ctx, &metadata.Image{ID: imageID, Owner: "owner1", Mime: "image/png", Width: 400, Height: 300, SizeBytes: int64(len(raw)), RawPath: rawPath, CreatedAt: time.Now()})

	rev, err := h.svc.ApplyOp(ctx, imageID, operation.Compress{Quality: 60})
	if err != nil {
		t.Fatalf("ApplyOp: %v", err)
	}
	if rev.Mime != "image/jpeg" {
		t.Fatalf("Mime = %q, want image/jpeg", rev.Mime)
	}
}
