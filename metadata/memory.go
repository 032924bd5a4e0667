package metadata

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/imgrevise/imgrevise/errors"
)

// MemoryStore is an in-process Store used by tests when no Postgres instance
// is available. Locking is a single process-wide mutex per image id, which is
// sufficient to serialize calls within one process the way SELECT ... FOR
// UPDATE serializes them across processes. WithImageLock has no transaction:
// writes fn made before returning an error are not rolled back.
type MemoryStore struct {
	mu        sync.Mutex
	images    map[uuid.UUID]*Image
	revisions map[uuid.UUID]*Revision
	imageLock map[uuid.UUID]*sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		images:    make(map[uuid.UUID]*Image),
		revisions: make(map[uuid.UUID]*Revision),
		imageLock: make(map[uuid.UUID]*sync.Mutex),
	}
}

func (m *MemoryStore) CreateImage(_ context.Context, img *Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *img
	m.images[img.ID] = &cp
	return nil
}

func (m *MemoryStore) GetImage(_ context.Context, id uuid.UUID) (*Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[id]
	if !ok {
		return nil, apperrors.New(apperrors.CategoryNotFound, "metadata.GetImage", apperrors.ErrNotFound)
	}
	cp := *img
	return &cp, nil
}

func (m *MemoryStore) DeleteImage(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.images[id]; !ok {
		return apperrors.New(apperrors.CategoryNotFound, "metadata.DeleteImage", apperrors.ErrNotFound)
	}
	delete(m.images, id)
	for rid, rev := range m.revisions {
		if rev.ImageID == id {
			delete(m.revisions, rid)
		}
	}
	return nil
}

func (m *MemoryStore) CreateRevision(_ context.Context, rev *Revision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rev
	m.revisions[rev.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRevision(_ context.Context, id uuid.UUID) (*Revision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rev, ok := m.revisions[id]
	if !ok {
		return nil, apperrors.New(apperrors.CategoryNotFound, "metadata.GetRevision", apperrors.ErrNotFound)
	}
	cp := *rev
	return &cp, nil
}

func (m *MemoryStore) TombstoneRevision(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rev, ok := m.revisions[id]
	if !ok {
		return apperrors.New(apperrors.CategoryNotFound, "metadata.TombstoneRevision", apperrors.ErrNotFound)
	}
	t := at
	rev.TombstonedAt = &t
	return nil
}

func (m *MemoryStore) GetLatestRevision(_ context.Context, imageID uuid.UUID) (*Revision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *Revision
	for _, rev := range m.revisions {
		if rev.ImageID != imageID || rev.TombstonedAt != nil {
			continue
		}
		if latest == nil || rev.CreatedAt.After(latest.CreatedAt) {
			latest = rev
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *MemoryStore) GetHistory(_ context.Context, imageID uuid.UUID) ([]Revision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Revision
	for _, rev := range m.revisions {
		if rev.ImageID == imageID && rev.TombstonedAt == nil {
			out = append(out, *rev)
		}
	}
	sortRevisionsByCreatedAt(out)
	return out, nil
}

func sortRevisionsByCreatedAt(revs []Revision) {
	for i := 1; i < len(revs); i++ {
		for j := i; j > 0 && revs[j-1].CreatedAt.After(revs[j].CreatedAt); j-- {
			revs[j-1], revs[j] = revs[j], revs[j-1]
		}
	}
}

func (m *MemoryStore) WithImageLock(ctx context.Context, imageID uuid.UUID, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	lock, ok := m.imageLock[imageID]
	if !ok {
		lock = &sync.Mutex{}
		m.imageLock[imageID] = lock
	}
	m.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn(context.WithValue(ctx, txStoreKey{}, Store(m)))
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

var _ Store = (*MemoryStore)(nil)
