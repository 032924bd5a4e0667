package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/imgrevise/imgrevise/errors"
)

// MemoryCache is an in-process Cache used by tests when no Redis instance is
// available. It ignores TTLs: thumbnails and locks stay until they are
// invalidated or released.
type MemoryCache struct {
	mu     sync.Mutex
	thumbs map[string][]byte
	locks  map[string]string // key -> token
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		thumbs: make(map[string][]byte),
		locks:  make(map[string]string),
	}
}

func (c *MemoryCache) GetThumb(_ context.Context, imageID string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.thumbs[imageID]
	return data, ok, nil
}

func (c *MemoryCache) SetThumb(_ context.Context, imageID string, data []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.thumbs[imageID] = data
	return nil
}

func (c *MemoryCache) InvalidateThumb(_ context.Context, imageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.thumbs, imageID)
	return nil
}

func (c *MemoryCache) AcquireLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.locks[key]; held {
		return "", false, nil
	}
	token := uuid.NewString()
	c.locks[key] = token
	return token, true, nil
}

func (c *MemoryCache) ReleaseLock(_ context.Context, key, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks[key] == token {
		delete(c.locks, key)
	}
	return nil
}

func (c *MemoryCache) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	const pollInterval = time.Millisecond
	for {
		token, ok, err := c.AcquireLock(ctx, key, ttl)
		if err != nil {
			return err
		}
		if ok {
			defer c.ReleaseLock(context.WithoutCancel(ctx), key, token)
			return fn(ctx)
		}
		select {
		case <-ctx.Done():
			return apperrors.New(apperrors.CategoryConcurrency, "cache.WithLock", apperrors.ErrLockTimeout)
		case <-time.After(pollInterval):
		}
	}
}

func (c *MemoryCache) Ping(_ context.Context) error { return nil }

var _ Cache = (*MemoryCache)(nil)
