// Package cache holds derived thumbnail bytes in a Redis-backed byte cache
// and provides a distributed lock primitive. It is not the lock behind
// with_image_lock, which is the metadata store's row lock.
package cache

import (
	"context"
	"time"
)

// Cache stores derived thumbnail bytes and provides a distributed mutex.
type Cache interface {
	GetThumb(ctx context.Context, imageID string) ([]byte, bool, error)
	SetThumb(ctx context.Context, imageID string, data []byte, ttl time.Duration) error
	InvalidateThumb(ctx context.Context, imageID string) error

	// AcquireLock attempts to take an exclusive, TTL-bounded lock identified
	// by key, returning a token that must be passed to ReleaseLock. ok is
	// false if the lock is already held.
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	ReleaseLock(ctx context.Context, key, token string) error

	// WithLock acquires key, runs fn, and releases the lock, retrying
	// acquisition until ctx is done. This is the cache-layer complement to
	// metadata.Store.WithImageLock's row lock, used when the
	// shared resource lives in the cache layer rather than Postgres (for
	// example thumbnail regeneration).
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error

	Ping(ctx context.Context) error
}
