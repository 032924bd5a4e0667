package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/imgrevise/imgrevise/config"
	apperrors "github.com/imgrevise/imgrevise/errors"
)

const thumbKeyPrefix = "imgrevise:thumb:"
const lockKeyPrefix = "imgrevise:lock:"

// RedisCache implements Cache on top of go-redis/v9. Connection retry
// behaviour (MaxRetries, MaxRetryBackoff) is configured directly from
// config.RedisConfig, matching the reconnect policy spec.md §5 describes.
type RedisCache struct {
	client *redis.Client
}

// Connect dials Redis per cfg and verifies connectivity.
func Connect(cfg config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		MaxRetries:      cfg.MaxRetries,
		MaxRetryBackoff: cfg.MaxRetryBackoff,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, apperrors.New(apperrors.CategoryCache, "cache.Connect", err)
	}

	return &RedisCache{client: client}, nil
}

func thumbKey(imageID string) string { return thumbKeyPrefix + imageID }
func lockKey(key string) string      { return lockKeyPrefix + key }

func (c *RedisCache) GetThumb(ctx context.Context, imageID string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, thumbKey(imageID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.New(apperrors.CategoryCache, "cache.GetThumb", err)
	}
	return data, true, nil
}

func (c *RedisCache) SetThumb(ctx context.Context, imageID string, data []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, thumbKey(imageID), data, ttl).Err(); err != nil {
		return apperrors.New(apperrors.CategoryCache, "cache.SetThumb", err)
	}
	return nil
}

// InvalidateThumb removes a cached thumbnail. Callers treat its errors as
// best-effort per spec.md §4.6 — a cache invalidation failure after a
// successful ApplyOp write must never fail the whole operation.
func (c *RedisCache) InvalidateThumb(ctx context.Context, imageID string) error {
	if err := c.client.Del(ctx, thumbKey(imageID)).Err(); err != nil {
		return apperrors.New(apperrors.CategoryCache, "cache.InvalidateThumb", err)
	}
	return nil
}

func (c *RedisCache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := c.client.SetNX(ctx, lockKey(key), token, ttl).Result()
	if err != nil {
		return "", false, apperrors.New(apperrors.CategoryCache, "cache.AcquireLock", err)
	}
	return token, ok, nil
}

// releaseLockScript deletes the lock key only if it still holds the token we
// acquired, so a caller can never release a lock someone else now owns after
// our TTL expired and was re-acquired.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

func (c *RedisCache) ReleaseLock(ctx context.Context, key, token string) error {
	if err := releaseLockScript.Run(ctx, c.client, []string{lockKey(key)}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return apperrors.New(apperrors.CategoryCache, "cache.ReleaseLock", err)
	}
	return nil
}

func (c *RedisCache) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	const pollInterval = 50 * time.Millisecond

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
			return apperrors.New(apperrors.CategoryConcurrency, "cache.WithLock", fmt.Errorf("%w: %w", apperrors.ErrLockTimeout, ctx.Err()))
		case <-time.After(pollInterval):
		}
	}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return apperrors.New(apperrors.CategoryCache, "cache.Ping", err)
	}
	return nil
}

var _ Cache = (*RedisCache)(nil)
